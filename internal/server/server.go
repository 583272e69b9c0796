// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sartu01/dhkalign-sub001/internal/admin"
	"github.com/sartu01/dhkalign-sub001/internal/apikeys"
	"github.com/sartu01/dhkalign-sub001/internal/cache"
	"github.com/sartu01/dhkalign-sub001/internal/config"
	"github.com/sartu01/dhkalign-sub001/internal/health"
	"github.com/sartu01/dhkalign-sub001/internal/idgen"
	"github.com/sartu01/dhkalign-sub001/internal/kv"
	"github.com/sartu01/dhkalign-sub001/internal/logging"
	"github.com/sartu01/dhkalign-sub001/internal/metrics"
	"github.com/sartu01/dhkalign-sub001/internal/proxy"
	"github.com/sartu01/dhkalign-sub001/internal/ratelimit"
	"github.com/sartu01/dhkalign-sub001/internal/security"
	"github.com/sartu01/dhkalign-sub001/internal/tasks"
	"github.com/sartu01/dhkalign-sub001/internal/traces"
	"github.com/sartu01/dhkalign-sub001/internal/usage"
	"github.com/sartu01/dhkalign-sub001/internal/webhook"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	store       kv.Store
	cache       *cache.Cache
	policy      cache.Policy
	forwarder   *proxy.Forwarder
	ledger      *usage.Ledger
	keys        *apikeys.Service
	processor   *webhook.Processor
	tasks       *tasks.Runner
	healthAgg   *admin.HealthAggregator
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	startedAt   time.Time

	tracesShutdown func(context.Context) error
}

// Option configures the server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore overrides the KV store (used by tests)
func WithStore(store kv.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a server from configuration
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    slog.Default(),
		policy:    cache.DefaultPolicy(),
		startedAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(s)
	}

	registry := health.NewRegistry(0)

	// KV store: PostgreSQL when configured, in-memory otherwise
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("open database: %w", err)
			}
			db.SetMaxOpenConns(10)
			db.SetConnMaxIdleTime(5 * time.Minute)
			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("connect to database: %w", err)
			}
			s.db = db
			pgStore := kv.NewPostgresStore(db)
			s.store = pgStore
			registry.Register("store", func(ctx context.Context) (string, error) {
				return "postgres", pgStore.Ping(ctx)
			})
			s.logger.Info("using postgres store", "dsn", maskDSN(cfg.DatabaseURL))
		} else {
			mem := kv.NewMemoryStore()
			s.store = mem
			registry.Register("store", func(ctx context.Context) (string, error) {
				return fmt.Sprintf("%d entries", mem.Len()), nil
			})
			s.logger.Warn("using in-memory store, state will not survive restarts")
		}
	}

	forwarder, err := proxy.NewForwarder(cfg.OriginBaseURL, cfg.ShieldSecret, 0)
	if err != nil {
		return nil, fmt.Errorf("create forwarder: %w", err)
	}
	s.forwarder = forwarder

	s.cache = cache.New(s.store, cfg.CacheTTL)
	s.ledger = usage.NewLedger(s.store)
	s.keys = apikeys.NewService(s.store)
	s.processor = webhook.NewProcessor(s.store, s.keys, cfg.StripeWebhookSecret, cfg.WebhookTolerance, s.logger)
	s.tasks = tasks.NewRunner(s.logger, 0)
	s.healthAgg = admin.NewHealthAggregator(forwarder, registry, "/health")

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.RequestsPerMinute = cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(limiterCfg)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS on every response, errors included (browser caller on another origin)
	s.router.Use(security.CORSMiddleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_", 8)
		}

		ctx := logging.WithRequest(c.Request.Context(), s.logger, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Liveness, no auth
	s.router.GET("/edge/health", s.edgeHealthHandler)

	// One-shot key retrieval by checkout session
	s.router.GET("/edge/key", s.keyBySessionHandler)

	// Admin surface: exact-match shared secret, rate limited
	adminGroup := s.router.Group("/admin",
		s.rateLimiter.Middleware(),
		admin.RequireAdminKey(s.cfg.AdminSecret),
	)
	adminGroup.GET("/health", s.healthAgg.Handler())
	adminGroup.GET("/metrics", metrics.Handler())

	// Stripe webhook: signature-verified, no API key, rate limited
	s.router.POST("/webhook/stripe", s.rateLimiter.Middleware(), s.webhookHandler)

	// Cached reverse proxy to the origin
	gate := apikeys.Gate(s.keys, s.cfg.RequireAPIKey, s.cfg.DevAPIKey)
	for _, route := range []string{"/translate", "/translate/*path"} {
		s.router.GET(route, gate, s.proxyHandler)
		s.router.POST(route, gate, s.proxyHandler)
	}
}

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	shutdownTraces, err := traces.Init(ctx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracesShutdown = shutdownTraces

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting edge gateway",
			"port", s.cfg.Port,
			"origin", s.cfg.OriginBaseURL,
			"require_api_key", s.cfg.RequireAPIKey,
			"cache_ttl", s.cfg.CacheTTL.String(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Let in-flight background work drain; anything still running when the
	// process exits is dropped, per the best-effort contract
	s.tasks.Wait()

	s.rateLimiter.Stop()

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
