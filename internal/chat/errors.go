package chat

import (
	"errors"
	"fmt"
	"time"
)

// CodeMonthlyLimitReached is the machine-readable reason for a quota rejection.
const CodeMonthlyLimitReached = "MONTHLY_LIMIT_REACHED"

var (
	// ErrConversationNotFound covers both missing conversations and ones
	// owned by another account.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrProtocolViolation is returned when the upstream event sequence
	// breaks the one-open-tool-block rule.
	ErrProtocolViolation = errors.New("upstream protocol violation")
)

// RateLimitedError rejects a request that exceeded the per-source window.
type RateLimitedError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// QuotaExceededError rejects a free account that used its monthly allowance.
type QuotaExceededError struct {
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Monthly message limit reached (%d/%d). Upgrade to Pro for unlimited messages.", e.Used, e.Limit)
}

func (e *QuotaExceededError) Code() string { return CodeMonthlyLimitReached }
