// Package metrics provides Prometheus instrumentation for the edge gateway.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dhkalign_edge",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dhkalign_edge",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// CacheLookupsTotal counts response cache lookups by result (hit/miss/bypass).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dhkalign_edge",
			Name:      "cache_lookups_total",
			Help:      "Total response cache lookups by result.",
		},
		[]string{"result"},
	)

	// OriginRequestsTotal counts forwarded origin requests by status class.
	OriginRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dhkalign_edge",
			Name:      "origin_requests_total",
			Help:      "Total requests forwarded to the origin by status class.",
		},
		[]string{"status"},
	)

	// OriginRequestDuration observes origin fetch latency.
	OriginRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dhkalign_edge",
			Name:      "origin_request_duration_seconds",
			Help:      "Origin request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// WebhookEventsTotal counts processed webhook events by outcome.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dhkalign_edge",
			Name:      "webhook_events_total",
			Help:      "Total webhook events by outcome (processed, replay, ignored, rejected).",
		},
		[]string{"outcome"},
	)

	// KeysMintedTotal counts API keys minted from completed checkouts.
	KeysMintedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dhkalign_edge",
			Name:      "keys_minted_total",
			Help:      "Total API keys minted.",
		},
	)

	// UsageWriteFailuresTotal counts dropped usage-ledger writes.
	UsageWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dhkalign_edge",
			Name:      "usage_write_failures_total",
			Help:      "Total usage ledger writes that failed and were dropped.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CacheLookupsTotal,
		OriginRequestsTotal,
		OriginRequestDuration,
		WebhookEventsTotal,
		KeysMintedTotal,
		UsageWriteFailuresTotal,
	)
}

// Middleware records request counts and latency for every route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// StatusClass buckets an HTTP status code into "2xx", "4xx", etc.
func StatusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
