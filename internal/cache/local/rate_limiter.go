// Package local holds single-process stand-ins for the Redis-backed
// plumbing, used when no Redis server is configured.
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// RateLimiter implements domain.RateLimiter with one token bucket per key.
// Buckets of idle keys are evicted after idleTTL.
type RateLimiter struct {
	buckets *cache.Cache
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(idleTTL time.Duration) *RateLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &RateLimiter{buckets: cache.New(idleTTL, 2*idleTTL)}
}

// Allow spends one token from the bucket for key. The bucket holds limit
// tokens and refills limit tokens per window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, nil
	}
	id := fmt.Sprintf("%s|%d|%d", key, limit, window)

	var limiter *rate.Limiter
	if v, ok := rl.buckets.Get(id); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		if err := rl.buckets.Add(id, limiter, cache.DefaultExpiration); err != nil {
			// Lost a race with another request for the same key.
			v, _ := rl.buckets.Get(id)
			limiter = v.(*rate.Limiter)
		}
	}
	// Touch the entry so active keys are not evicted.
	rl.buckets.SetDefault(id, limiter)
	return limiter.Allow(), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
