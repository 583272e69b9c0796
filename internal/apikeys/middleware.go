package apikeys

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sartu01/dhkalign-sub001/internal/logging"
)

const (
	// HeaderAPIKey is the header clients present their key in.
	HeaderAPIKey = "X-API-Key"

	// ContextKeyAPIKey is the gin context key holding the presented key.
	ContextKeyAPIKey = "apiKey"
)

// Gate returns middleware enforcing the API key gate on proxied routes.
//
// When required is false the middleware only records the presented key for
// usage accounting. devKey, when set, is accepted without a store lookup
// (local development fallback).
func Gate(svc *Service, required bool, devKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAPIKey)
		if key != "" {
			c.Set(ContextKeyAPIKey, key)
		}

		if !required {
			c.Next()
			return
		}

		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include the X-API-Key header.",
			})
			return
		}

		if devKey != "" && key == devKey {
			c.Next()
			return
		}

		enabled, err := svc.IsEnabled(c.Request.Context(), key)
		if err != nil {
			logging.L(c.Request.Context()).Error("key gate lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key could not be verified.",
			})
			return
		}
		if !enabled {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid API key.",
			})
			return
		}

		c.Next()
	}
}

// PresentedKey returns the API key recorded by Gate, if any.
func PresentedKey(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyAPIKey); ok {
		if key, ok := v.(string); ok {
			return key
		}
	}
	return ""
}
