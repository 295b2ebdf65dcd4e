// Package ratelimit implements HTTP-layer rate limiting, backed by Redis or
// local memory, for the server's status and WebSocket-upgrade endpoints. The
// per-connection WebSocket frame rate limit is separate: it is a hand-rolled
// sliding window owned by each transport.Connection, not this package.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/auth"
	"github.com/coldwire/ptt-signal/internal/v1/config"
	"github.com/coldwire/ptt-signal/internal/v1/logging"
	"github.com/coldwire/ptt-signal/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the HTTP-surface rate limiter instances: one keyed by
// authenticated user, one keyed by client IP for everyone else.
type RateLimiter struct {
	apiGlobal *limiter.Limiter
	apiPublic *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter creates a new RateLimiter instance. redisClient may be nil,
// in which case an in-memory store is used.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	apiGlobalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}

	apiPublicRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid API public rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (Redis disabled)")
	}

	return &RateLimiter{
		apiGlobal: limiter.New(store, apiGlobalRate),
		apiPublic: limiter.New(store, apiPublicRate),
		store:     store,
	}, nil
}

// GlobalMiddleware returns a Gin middleware that enforces the global rate
// limit: authenticated callers (claims already set in context by an auth
// middleware upstream) are keyed by user ID against the higher apiGlobal
// rate; everyone else is keyed by IP against the lower apiPublic rate.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var limiterInstance *limiter.Limiter
		var key, limitType string

		if claims, exists := c.Get("claims"); exists {
			userClaims := claims.(*auth.CustomClaims)
			key = userClaims.Subject
			limiterInstance = rl.apiGlobal
			limitType = "user"
		} else {
			key = c.ClientIP()
			limiterInstance = rl.apiPublic
			limitType = "ip"
		}

		ctx := c.Request.Context()
		limitCtx, err := limiterInstance.Get(ctx, key)
		if err != nil {
			// Fail open: availability over strict enforcement when the store is down.
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limitCtx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limitCtx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(limitCtx.Reset, 10))

		if limitCtx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(limitCtx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": limitCtx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckUpgrade applies the IP-keyed public rate limit to a WebSocket upgrade
// request, before any AUTH frame has been read. Returns false (and has
// already written the HTTP response) if the limit was exceeded.
func (rl *RateLimiter) CheckUpgrade(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	limitCtx, err := rl.apiPublic.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed on upgrade", zap.Error(err))
		return true
	}

	if limitCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_upgrade", "ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(limitCtx.Reset-time.Now().Unix(), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts from this IP"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("ws_upgrade").Inc()
	return true
}
