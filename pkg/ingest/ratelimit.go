package ingest

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// sourceLimiter rate-limits webhook deliveries per source. Limiters for
// idle sources age out of the cache after a few minutes.
type sourceLimiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func newSourceLimiter(perMinute int) *sourceLimiter {
	if perMinute <= 0 {
		return nil
	}

	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &sourceLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](1000, nil, 5*time.Minute),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (l *sourceLimiter) Allow(source string) bool {
	limiter, ok := l.limiters.Get(source)
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters.Add(source, limiter)
	}
	return limiter.Allow()
}
