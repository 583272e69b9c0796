// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Origin settings
	OriginBaseURL string // Base URL of the origin translation API
	ShieldSecret  string // Sent to the origin on every forwarded/admin request

	// Security
	AdminSecret         string // Exact-match secret for /admin endpoints
	StripeWebhookSecret string // HMAC secret for Stripe webhook signatures
	RequireAPIKey       bool   // Enforce x-api-key on /translate routes
	DevAPIKey           string // Fallback key accepted when set (local development)
	RateLimitRPM        int    // Per-IP requests per minute on webhook/admin routes

	// Cache settings
	CacheTTL time.Duration

	// Webhook settings
	WebhookTolerance time.Duration // Signature timestamp tolerance

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint (empty disables tracing)
}

const (
	DefaultPort             = "8789"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultCacheTTLSeconds  = 3600
	DefaultToleranceSeconds = 300
	DefaultRateLimitRPM     = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OriginBaseURL:       os.Getenv("ORIGIN_BASE_URL"),
		ShieldSecret:        os.Getenv("EDGE_SHIELD_SECRET"),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		RequireAPIKey:       getEnvBool("REQUIRE_API_KEY", false),
		DevAPIKey:           os.Getenv("DEV_API_KEY"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CacheTTL:            time.Duration(getEnvInt64("CACHE_TTL_SECONDS", DefaultCacheTTLSeconds)) * time.Second,
		WebhookTolerance:    time.Duration(getEnvInt64("WEBHOOK_TOLERANCE_SECONDS", DefaultToleranceSeconds)) * time.Second,
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.OriginBaseURL == "" {
		return fmt.Errorf("ORIGIN_BASE_URL is required")
	}
	u, err := url.Parse(c.OriginBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ORIGIN_BASE_URL must be an absolute http(s) URL")
	}

	if c.ShieldSecret == "" {
		return fmt.Errorf("EDGE_SHIELD_SECRET is required")
	}

	if c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required")
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
