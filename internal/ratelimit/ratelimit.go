// Package ratelimit bounds outbound send throughput per tenant. It is a
// standalone token-bucket abstraction so the dispatch loop never sleeps ad
// hoc and throughput policy is testable on its own.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
)

// SendLimiter admits at most Limit sends per Window for each tenant. Tokens
// are spaced evenly across the window (burst of one), so no W-length
// interval ever admits more than Limit sends.
type SendLimiter struct {
	limit   int
	window  time.Duration
	maxWait time.Duration

	mu       sync.Mutex
	limiters map[int]*rate.Limiter
}

// NewSendLimiter validates the policy up front; a zero or negative limit or
// window would otherwise panic on the first token computation.
func NewSendLimiter(limit int, window, maxWait time.Duration) (*SendLimiter, error) {
	if limit < 1 {
		return nil, fmt.Errorf("rate limit must be at least 1 send per window, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("rate window must be positive, got %s", window)
	}
	return &SendLimiter{
		limit:    limit,
		window:   window,
		maxWait:  maxWait,
		limiters: make(map[int]*rate.Limiter),
	}, nil
}

func (l *SendLimiter) limiterFor(tenantID int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), 1)
		l.limiters[tenantID] = lim
	}
	return lim
}

// Acquire blocks until a send token is available for the tenant. The wait is
// cooperative: cancelling ctx (pause, shutdown) abandons it and returns the
// context error; exceeding the configured maximum wait returns a rate-limit
// timeout. On success the token is consumed.
func (l *SendLimiter) Acquire(ctx context.Context, tenantID int) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.limiterFor(tenantID).Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return appErrors.NewRateLimitTimeout(tenantID)
	}
	return nil
}

// Allow reports whether a token is immediately available, without waiting.
func (l *SendLimiter) Allow(tenantID int) bool {
	return l.limiterFor(tenantID).Allow()
}
