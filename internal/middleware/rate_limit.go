package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinylink/go-server/internal/metrics"
)

// Limiter decides whether one more request from key fits the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
	Window() time.Duration
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// failures let the request through.
func RateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		allowed, err := limiter.Allow(c.Request.Context(), clientIP)
		if err != nil {
			zap.L().Warn("Rate limiter unavailable, allowing request",
				zap.Error(err),
				zap.String("ip", clientIP),
			)
			c.Next()
			return
		}

		if !allowed {
			zap.L().Warn("Rate limit exceeded",
				zap.String("ip", clientIP),
				zap.String("path", c.Request.URL.Path),
			)
			metrics.RateLimitedTotal.Inc()

			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.Limit()))
			c.Header("X-RateLimit-Window", limiter.Window().String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        "RATE_LIMIT_EXCEEDED",
				"retry_after": limiter.Window().Seconds(),
			})
			return
		}

		c.Next()
	}
}

// RateLimiter is a per-process fixed-window limiter keyed by client IP
type RateLimiter struct {
	requests map[string]*clientBucket
	mutex    sync.RWMutex
	rate     int
	window   time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type clientBucket struct {
	count     int
	resetTime time.Time
}

// NewRateLimiter starts a limiter allowing requestsPerWindow per client;
// Stop ends its cleanup goroutine.
func NewRateLimiter(requestsPerWindow int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string]*clientBucket),
		rate:     requestsPerWindow,
		window:   window,
		stop:     make(chan struct{}),
	}

	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.allow(key), nil
}

func (rl *RateLimiter) Limit() int { return rl.rate }

func (rl *RateLimiter) Window() time.Duration { return rl.window }

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) allow(clientIP string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	bucket, exists := rl.requests[clientIP]

	if !exists || now.After(bucket.resetTime) {
		if rl.rate <= 0 {
			return false
		}
		rl.requests[clientIP] = &clientBucket{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true
	}

	if bucket.count >= rl.rate {
		return false
	}

	bucket.count++
	return true
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		rl.mutex.Lock()
		now := time.Now()
		for ip, bucket := range rl.requests {
			if now.After(bucket.resetTime) {
				delete(rl.requests, ip)
			}
		}
		rl.mutex.Unlock()
	}
}
