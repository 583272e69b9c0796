package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sartu01/dhkalign-sub001/internal/apikeys"
	"github.com/sartu01/dhkalign-sub001/internal/cache"
	"github.com/sartu01/dhkalign-sub001/internal/kv"
	"github.com/sartu01/dhkalign-sub001/internal/logging"
	"github.com/sartu01/dhkalign-sub001/internal/metrics"
	"github.com/sartu01/dhkalign-sub001/internal/proxy"
	"github.com/sartu01/dhkalign-sub001/internal/traces"
	"github.com/sartu01/dhkalign-sub001/internal/webhook"
)

// maxRequestBody bounds request bodies read into memory before forwarding.
const maxRequestBody = 1 << 20 // 1MB

// edgeHealthHandler answers the unauthenticated liveness probe. It never
// touches the store or the origin.
func (s *Server) edgeHealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"ts":             time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// keyBySessionHandler lets a buyer retrieve the key minted for their checkout
// session. The mapping expires, so this is a limited-time window.
func (s *Server) keyBySessionHandler(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_session_id",
			"message": "session_id query parameter is required.",
		})
		return
	}

	key, err := s.keys.KeyForSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, apikeys.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No key for that session.",
			})
			return
		}
		logging.L(c.Request.Context()).Error("session lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Could not look up session.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"api_key": key})
}

// webhookHandler receives Stripe events. Verification and idempotency live in
// the processor; this only maps its outcomes onto HTTP statuses.
func (s *Server) webhookHandler(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Could not read request body.",
		})
		return
	}

	result, err := s.processor.Process(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if isWebhookClientError(err) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_webhook",
				"message": "Webhook rejected.",
			})
			return
		}
		logging.L(c.Request.Context()).Error("webhook processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Could not process event.",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

func isWebhookClientError(err error) bool {
	for _, target := range []error{
		webhook.ErrNoSignature,
		webhook.ErrInvalidHeader,
		webhook.ErrOutsideTolerance,
		webhook.ErrSignatureMismatch,
		webhook.ErrBadPayload,
		webhook.ErrMissingEventID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// proxyHandler serves /translate traffic: replay from cache when possible,
// otherwise forward to the origin and snapshot the response in the background.
func (s *Server) proxyHandler(c *gin.Context) {
	ctx, span := traces.StartSpan(c.Request.Context(), "edge.proxy",
		traces.OriginPath(c.Request.URL.Path),
	)
	defer span.End()

	method := c.Request.Method
	path := c.Request.URL.Path
	rawQuery := c.Request.URL.RawQuery

	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody))
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "payload_too_large",
				"message": "Request body exceeds the forwarding limit.",
			})
			return
		}
	}

	cacheable := s.policy.Cacheable(method, path, c.Request.URL.Query())

	var fingerprint string
	if cacheable {
		fingerprint = cache.Fingerprint(method, path, rawQuery, body)

		entry, err := s.cache.Get(ctx, fingerprint)
		if err == nil {
			span.SetAttributes(traces.CacheResult("hit"))
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			s.replayEntry(c, entry)
			return
		}
		if !errors.Is(err, kv.ErrNotFound) {
			// Degraded store: log and fall through to the origin.
			logging.L(ctx).Warn("cache lookup failed", "error", err)
		}
		span.SetAttributes(traces.CacheResult("miss"))
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	} else {
		metrics.CacheLookupsTotal.WithLabelValues("bypass").Inc()
	}

	resp, err := s.forwarder.Forward(ctx, method, path, rawQuery, c.Request.Header, body)
	if err != nil {
		span.SetAttributes(traces.OriginStatus(0))
		logging.L(ctx).Error("origin request failed", "error", err, "path", path)
		c.Header(cache.StatusHeader, "MISS")
		if errors.Is(err, proxy.ErrResponseTooLarge) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "origin_error",
				"message": "Upstream response could not be relayed.",
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "origin_unreachable",
			"message": "Upstream service did not respond.",
		})
		return
	}

	span.SetAttributes(traces.OriginStatus(resp.Status))
	metrics.OriginRequestsTotal.WithLabelValues(metrics.StatusClass(resp.Status)).Inc()
	metrics.OriginRequestDuration.Observe(float64(resp.LatencyMs) / 1000)

	willCache := cacheable && resp.Status >= 200 && resp.Status < 300
	cacheControl := fmt.Sprintf("public, max-age=%d", int(s.cache.TTL().Seconds()))

	for key, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Header(cache.StatusHeader, "MISS")
	if willCache {
		// The populating response advertises the same lifetime its snapshot
		// will be replayed with.
		c.Writer.Header().Set("Cache-Control", cacheControl)
	}
	c.Data(resp.Status, resp.Header.Get("Content-Type"), resp.Body)

	if willCache {
		entry := &cache.Entry{
			Status: resp.Status,
			Headers: map[string]string{
				"Content-Type":  resp.Header.Get("Content-Type"),
				"Cache-Control": cacheControl,
			},
			Body: resp.Body,
		}
		fp := fingerprint
		s.tasks.Go("cache.put", func(ctx context.Context) error {
			return s.cache.Put(ctx, fp, entry)
		})
	}

	s.logUsage(c, path)
}

// replayEntry writes a cached snapshot back to the client.
func (s *Server) replayEntry(c *gin.Context, entry *cache.Entry) {
	contentType := ""
	for key, value := range entry.Headers {
		if key == "Content-Type" {
			contentType = value
			continue
		}
		c.Header(key, value)
	}
	c.Header(cache.StatusHeader, "HIT")
	c.Data(entry.Status, contentType, entry.Body)
}

// logUsage records a forwarded request against the caller's key in the
// background. Cache replays are not accounted; only traffic that reached the
// origin is. Failures are counted and dropped; serving the response never
// waits on this.
func (s *Server) logUsage(c *gin.Context, path string) {
	key := apikeys.PresentedKey(c)
	if key == "" {
		key = "anonymous"
	}
	s.tasks.Go("usage.log", func(ctx context.Context) error {
		if err := s.ledger.Log(ctx, key, path); err != nil {
			metrics.UsageWriteFailuresTotal.Inc()
			return err
		}
		return nil
	})
}
