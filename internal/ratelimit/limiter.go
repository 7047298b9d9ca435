package ratelimit

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(wait.Seconds())) * time.Second
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Limiter is the per-source-address gate.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewLimiter(store Store, limit int, window time.Duration, logger *zap.Logger, opts ...Option) *Limiter {
	o := buildOptions(opts)
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    o.now,
		logger: logger,
	}
}

// Check consumes one request for key. A store failure admits the request.
func (l *Limiter) Check(ctx context.Context, key string) Decision {
	now := l.now()
	entry, allowed, err := l.store.Hit(ctx, key, l.limit, l.window, now)
	if err != nil {
		l.logger.Warn("Rate limit store unavailable, admitting request",
			zap.String("key", key),
			zap.Error(err))
		return Decision{Allowed: true, Remaining: l.limit, ResetAt: now.Add(l.window)}
	}
	if !allowed {
		return Decision{Allowed: false, Remaining: 0, ResetAt: entry.ResetAt}
	}

	remaining := l.limit - entry.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: entry.ResetAt}
}
