package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RichardoC/chatpipe/internal/models"
	"go.uber.org/zap"
)

type stubCounter struct {
	count int
	err   error
	since time.Time
	calls int
}

func (s *stubCounter) CountUsageSince(_ context.Context, _ string, since time.Time) (int, error) {
	s.calls++
	s.since = since
	return s.count, s.err
}

func TestMonthlyFreeTier(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		used        int
		wantAllowed bool
	}{
		{"fresh account", 0, true},
		{"one below limit", 49, true},
		{"at limit", 50, false},
		{"over limit", 51, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &stubCounter{count: tt.used}
			gate := NewMonthly(counter, 50, zap.NewNop(), WithClock(func() time.Time { return now }))

			d := gate.Check(context.Background(), "alice", models.StatusFree)
			if d.Allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v", d.Allowed, tt.wantAllowed)
			}
			if d.Used != tt.used || d.Limit != 50 || d.IsPaid {
				t.Errorf("got %+v", d)
			}
			if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !counter.since.Equal(want) {
				t.Errorf("since = %v, want %v", counter.since, want)
			}
		})
	}
}

func TestMonthlySequenceAgainstGrowingUsage(t *testing.T) {
	const limit = 3
	counter := &stubCounter{}
	gate := NewMonthly(counter, limit, zap.NewNop())

	// Each admitted request completes a turn and adds one usage record.
	for i := 0; i < limit; i++ {
		if d := gate.Check(context.Background(), "alice", models.StatusFree); !d.Allowed {
			t.Fatalf("request %d rejected with used=%d", i+1, d.Used)
		}
		counter.count++
	}

	d := gate.Check(context.Background(), "alice", models.StatusFree)
	if d.Allowed || d.Used != limit || d.Limit != limit {
		t.Errorf("got %+v, want rejection with used=limit=%d", d, limit)
	}
}

func TestMonthlyPaidTiersSkipCounting(t *testing.T) {
	for _, status := range []models.SubscriptionStatus{models.StatusActive, models.StatusTrialing} {
		counter := &stubCounter{count: 10_000}
		gate := NewMonthly(counter, 50, zap.NewNop())

		d := gate.Check(context.Background(), "alice", status)
		if !d.Allowed || !d.IsPaid || d.Limit != Unlimited {
			t.Errorf("%s: got %+v", status, d)
		}
		if counter.calls != 0 {
			t.Errorf("%s: counter called %d times", status, counter.calls)
		}
	}
}

func TestMonthlyUnpaidStatusesAreMetered(t *testing.T) {
	for _, status := range []models.SubscriptionStatus{models.StatusPastDue, models.StatusCanceled, ""} {
		gate := NewMonthly(&stubCounter{count: 50}, 50, zap.NewNop())
		if d := gate.Check(context.Background(), "alice", status); d.Allowed {
			t.Errorf("%q: admitted at limit", status)
		}
	}
}

func TestMonthlyFailsOpen(t *testing.T) {
	gate := NewMonthly(&stubCounter{count: 999, err: errors.New("db down")}, 50, zap.NewNop())
	d := gate.Check(context.Background(), "alice", models.StatusFree)
	if !d.Allowed || d.Used != 0 || d.Limit != 50 {
		t.Errorf("got %+v, want fail-open decision", d)
	}
}

func TestStartOfMonth(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	got := StartOfMonth(time.Date(2026, 4, 1, 3, 0, 0, 0, loc))
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
