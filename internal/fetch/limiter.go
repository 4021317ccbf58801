package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"casawatch/internal/metrics"
)

// DomainLimiter applies a per-domain token bucket so that concurrent
// tasks hitting the same portal stay under its tolerance.
type DomainLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// LimiterConfig holds rate limiter configuration.
type LimiterConfig struct {
	RPS   float64
	Burst int
}

// NewDomainLimiter creates a limiter; RPS <= 0 disables throttling.
func NewDomainLimiter(cfg LimiterConfig) *DomainLimiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &DomainLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the domain or the context
// ends.
func (l *DomainLimiter) Wait(ctx context.Context, domain string) error {
	if domain == "" {
		domain = "unknown"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}
