package ratelimit

import (
	"context"
	"time"

	"github.com/RichardoC/chatpipe/internal/models"
	"go.uber.org/zap"
)

// Unlimited is the Limit reported for paid accounts.
const Unlimited = -1

// UsageCounter counts usage records for an account created at or after since.
type UsageCounter interface {
	CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error)
}

type MonthlyDecision struct {
	Allowed bool
	Used    int
	Limit   int
	IsPaid  bool
}

// Monthly is the per-account quota gate. Only free accounts are metered.
type Monthly struct {
	counter   UsageCounter
	freeLimit int
	now       func() time.Time
	logger    *zap.Logger
}

func NewMonthly(counter UsageCounter, freeLimit int, logger *zap.Logger, opts ...Option) *Monthly {
	o := buildOptions(opts)
	return &Monthly{
		counter:   counter,
		freeLimit: freeLimit,
		now:       o.now,
		logger:    logger,
	}
}

func (m *Monthly) Check(ctx context.Context, accountID string, status models.SubscriptionStatus) MonthlyDecision {
	if status.IsPaid() {
		return MonthlyDecision{Allowed: true, Used: 0, Limit: Unlimited, IsPaid: true}
	}

	used, err := m.counter.CountUsageSince(ctx, accountID, StartOfMonth(m.now()))
	if err != nil {
		m.logger.Warn("Failed to count monthly usage, admitting request",
			zap.String("account", accountID),
			zap.Error(err))
		return MonthlyDecision{Allowed: true, Used: 0, Limit: m.freeLimit}
	}

	return MonthlyDecision{
		Allowed: used < m.freeLimit,
		Used:    used,
		Limit:   m.freeLimit,
	}
}

// StartOfMonth returns the first instant of t's calendar month in UTC.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
