// Package admin provides the key-gated operational surface of the gateway.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sartu01/dhkalign-sub001/internal/health"
	"github.com/sartu01/dhkalign-sub001/internal/proxy"
)

// HeaderAdminKey is the header carrying the admin shared secret.
const HeaderAdminKey = "X-Admin-Key"

// RequireAdminKey rejects requests whose admin key is not an exact match.
func RequireAdminKey(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(HeaderAdminKey)
		if presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin key required.",
			})
			return
		}
		c.Next()
	}
}

// OriginHealth is the origin's reported state as seen through the gateway.
type OriginHealth struct {
	Reachable  bool   `json:"reachable"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Report is the combined admin health response. Origin unreachability is
// reported as degraded, never as a gateway-level failure.
type Report struct {
	Status     string          `json:"status"` // "ok" or "degraded"
	Origin     OriginHealth    `json:"origin"`
	Subsystems []health.Status `json:"subsystems,omitempty"`
	Timestamp  time.Time       `json:"ts"`
}

// HealthAggregator folds origin health and local subsystem checks into one
// report.
type HealthAggregator struct {
	forwarder  *proxy.Forwarder
	registry   *health.Registry
	healthPath string
}

// NewHealthAggregator creates an aggregator that probes the origin's health
// endpoint through the forwarder (shield header included).
func NewHealthAggregator(forwarder *proxy.Forwarder, registry *health.Registry, healthPath string) *HealthAggregator {
	if healthPath == "" {
		healthPath = "/health"
	}
	return &HealthAggregator{
		forwarder:  forwarder,
		registry:   registry,
		healthPath: healthPath,
	}
}

// Check probes the origin and runs local subsystem checkers.
func (h *HealthAggregator) Check(ctx context.Context) *Report {
	report := &Report{Status: "ok", Timestamp: time.Now().UTC()}

	resp, err := h.forwarder.Forward(ctx, http.MethodGet, h.healthPath, "", nil, nil)
	if err != nil {
		report.Status = "degraded"
		report.Origin = OriginHealth{Reachable: false, Error: err.Error()}
	} else {
		origin := OriginHealth{Reachable: true, HTTPStatus: resp.Status}
		var body struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(resp.Body, &body) == nil {
			origin.Status = body.Status
		}
		if resp.Status != http.StatusOK || (origin.Status != "" && origin.Status != "ok") {
			report.Status = "degraded"
		}
		report.Origin = origin
	}

	if h.registry != nil {
		healthy, statuses := h.registry.CheckAll(ctx)
		report.Subsystems = statuses
		if !healthy {
			report.Status = "degraded"
		}
	}

	return report
}

// Handler serves the aggregated report. Always 200; degradation lives in the
// payload.
func (h *HealthAggregator) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Check(c.Request.Context()))
	}
}
