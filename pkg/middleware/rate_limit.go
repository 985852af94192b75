package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	RequestsPerSecond int
	Burst             int

	// How long an idle visitor is remembered
	TTL time.Duration
}

// RateLimiterMiddleware limits requests per client IP with a token bucket.
// Visitors are kept in a TTL cache so idle ones are forgotten on their own
func RateLimiterMiddleware(config RateLimiterConfig) gin.HandlerFunc {
	if config.TTL == 0 {
		config.TTL = 3 * time.Minute
	}
	if config.Burst < config.RequestsPerSecond {
		config.Burst = config.RequestsPerSecond
	}

	visitors := ttlcache.NewCache()
	visitors.SetTTL(config.TTL)
	visitors.SetLoaderFunction(func(ip string) (any, time.Duration, error) {
		return rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst), config.TTL, nil
	})

	return func(c *gin.Context) {
		v, err := visitors.Get(c.ClientIP())
		if err != nil {
			// Never block traffic because of the limiter itself
			zap.L().Warn("Rate limiter lookup failed", zap.Error(err))
			c.Next()
			return
		}

		if !v.(*rate.Limiter).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			return
		}

		c.Next()
	}
}
