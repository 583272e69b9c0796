package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sartu01/dhkalign-sub001/internal/health"
	"github.com/sartu01/dhkalign-sub001/internal/proxy"
)

func TestRequireAdminKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/health", RequireAdminKey("s3cret"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "guess", http.StatusUnauthorized},
		{"prefix", "s3cre", http.StatusUnauthorized},
		{"exact", "s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/admin/health", nil)
			if tt.key != "" {
				req.Header.Set(HeaderAdminKey, tt.key)
			}
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestCheck_HealthyOrigin(t *testing.T) {
	var gotShield string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotShield = r.Header.Get(proxy.ShieldHeader)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer origin.Close()

	f, _ := proxy.NewForwarder(origin.URL, "shield", 0)
	agg := NewHealthAggregator(f, nil, "")

	report := agg.Check(context.Background())
	if report.Status != "ok" {
		t.Errorf("expected ok, got %s", report.Status)
	}
	if !report.Origin.Reachable || report.Origin.HTTPStatus != 200 || report.Origin.Status != "ok" {
		t.Errorf("origin state not folded in: %+v", report.Origin)
	}
	if gotShield != "shield" {
		t.Error("origin health probe must carry the shield header")
	}
}

func TestCheck_UnreachableOriginIsDegraded(t *testing.T) {
	f, _ := proxy.NewForwarder("http://127.0.0.1:1", "shield", 0)
	agg := NewHealthAggregator(f, nil, "")

	report := agg.Check(context.Background())
	if report.Status != "degraded" {
		t.Errorf("expected degraded, got %s", report.Status)
	}
	if report.Origin.Reachable {
		t.Error("origin must be reported unreachable")
	}
	if report.Origin.Error == "" {
		t.Error("expected error detail")
	}
}

func TestCheck_UnhealthyOriginStatus(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "down"})
	}))
	defer origin.Close()

	f, _ := proxy.NewForwarder(origin.URL, "shield", 0)
	agg := NewHealthAggregator(f, nil, "")

	report := agg.Check(context.Background())
	if report.Status != "degraded" {
		t.Errorf("expected degraded, got %s", report.Status)
	}
	if report.Origin.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("origin HTTP status not captured: %+v", report.Origin)
	}
}

func TestCheck_FoldsSubsystems(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer origin.Close()

	reg := health.NewRegistry(0)
	reg.Register("store", func(ctx context.Context) (string, error) {
		return "", errors.New("timeout")
	})

	f, _ := proxy.NewForwarder(origin.URL, "shield", 0)
	agg := NewHealthAggregator(f, reg, "")

	report := agg.Check(context.Background())
	if report.Status != "degraded" {
		t.Error("failing subsystem must degrade the report")
	}
	if len(report.Subsystems) != 1 || report.Subsystems[0].Name != "store" {
		t.Errorf("subsystem statuses missing: %+v", report.Subsystems)
	}
}
