package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/config"
	"github.com/pwviptbl/AI-English-Mentor/internal/ratelimit"
)

// EndpointLimiter applies per-client, per-endpoint request limits on top of
// the shared sliding window limiter. Key shape: "<clientIP>:<endpoint>".
type EndpointLimiter struct {
	limiter *ratelimit.SlidingWindowLimiter
	window  time.Duration
	enabled bool

	// requests per window by endpoint class
	authLimit     int
	chatLimit     int
	analysisLimit int
	lookupLimit   int
}

// NewEndpointLimiter creates the limiter from environment configuration.
func NewEndpointLimiter(envCfg *config.EnvConfig) *EndpointLimiter {
	return &EndpointLimiter{
		limiter:       ratelimit.NewSlidingWindowLimiter(),
		window:        time.Duration(envCfg.RateLimitWindow) * time.Second,
		enabled:       envCfg.EnableRateLimit,
		authLimit:     envCfg.RateLimitAuth,
		chatLimit:     envCfg.RateLimitChat,
		analysisLimit: envCfg.RateLimitAnalysis,
		lookupLimit:   envCfg.RateLimitLookup,
	}
}

// limitFor maps an endpoint class to its request budget.
func (el *EndpointLimiter) limitFor(endpoint string) int {
	switch endpoint {
	case "auth":
		return el.authLimit
	case "analysis":
		return el.analysisLimit
	case "lookup":
		return el.lookupLimit
	default:
		return el.chatLimit
	}
}

// Middleware returns a gin handler limiting the named endpoint class.
func (el *EndpointLimiter) Middleware(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if el == nil || !el.enabled {
			c.Next()
			return
		}

		limit := el.limitFor(endpoint)
		key := c.ClientIP() + ":" + endpoint

		if !el.limiter.Check(key, limit, el.window) {
			used := el.limiter.Count(key, el.window)
			resetAt := el.limiter.OldestInWindow(key, el.window).Add(el.window)

			log.Printf("🚫 [Rate Limit] Client %s exceeded %s limit (%d/%d)", c.ClientIP(), endpoint, used, limit)

			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
			c.Header("X-RateLimit-Remaining", "0")
			if !resetAt.IsZero() {
				c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
				c.Header("Retry-After", fmt.Sprintf("%d", int(time.Until(resetAt).Seconds())+1))
			}
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "Request rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
