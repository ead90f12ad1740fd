// Package ratelimit implements a token bucket limiter pacing outbound
// requests per source.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-source rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	overrides    map[string]rate.Limit
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS applies to sources without an override. Zero or
	// negative means unlimited.
	DefaultRPS float64
	Burst      int
	// SourceRPS overrides the default for specific sources.
	SourceRPS map[string]float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	overrides := make(map[string]rate.Limit, len(cfg.SourceRPS))
	for name, rps := range cfg.SourceRPS {
		if rps > 0 {
			overrides[name] = rate.Limit(rps)
		}
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		overrides:    overrides,
	}
}

// Wait blocks until a token is available for the given source, respecting
// the context.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	l.mu.Lock()
	limiter, exists := l.limiters[source]
	if !exists {
		limit := l.defaultRate
		if override, ok := l.overrides[source]; ok {
			limit = override
		}
		limiter = rate.NewLimiter(limit, l.defaultBurst)
		l.limiters[source] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
