package chat

import (
	"context"
	"time"

	"github.com/RichardoC/chatpipe/internal/metrics"
	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/RichardoC/chatpipe/internal/ratelimit"
	"go.uber.org/zap"
)

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Admission runs the source-address gate and then the account's monthly
// gate. Neither gate calls the model.
type Admission struct {
	limiter  *ratelimit.Limiter
	monthly  *ratelimit.Monthly
	profiles ProfileStore
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewAdmission(limiter *ratelimit.Limiter, monthly *ratelimit.Monthly, profiles ProfileStore, logger *zap.Logger, m *metrics.Metrics) *Admission {
	return &Admission{
		limiter:  limiter,
		monthly:  monthly,
		profiles: profiles,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Admit returns nil, *RateLimitedError or *QuotaExceededError.
func (a *Admission) Admit(ctx context.Context, sourceKey, accountID string) error {
	d := a.limiter.Check(ctx, sourceKey)
	if !d.Allowed {
		a.metrics.RecordRejection("rate_limited")
		return &RateLimitedError{RetryAfter: d.RetryAfter(a.now()), ResetAt: d.ResetAt}
	}

	status := models.StatusFree
	profile, err := a.profiles.GetProfile(ctx, accountID)
	if err != nil {
		a.logger.Warn("Failed to load profile, treating account as free",
			zap.String("account", accountID),
			zap.Error(err))
	} else {
		status = profile.SubscriptionStatus
	}

	m := a.monthly.Check(ctx, accountID, status)
	if !m.Allowed {
		a.metrics.RecordRejection("monthly_limit")
		return &QuotaExceededError{Used: m.Used, Limit: m.Limit}
	}
	return nil
}
