// Package ratelimit implements chat admission control: a fixed-window gate
// keyed by source address and a monthly quota gate keyed by account.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Entry is the state of one fixed window.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Store holds window counters. Hit must check and consume a slot for key as
// one atomic step: it starts a fresh window when none exists or the current
// one ended before now, rejects when Count has reached limit, and otherwise
// increments.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, bool, error)
}

// MemoryStore keeps counters in process memory. Counters are lost on restart
// and are not shared between instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.After(e.ResetAt) {
		e = &Entry{Count: 1, ResetAt: now.Add(window)}
		s.entries[key] = e
		return *e, true, nil
	}
	if e.Count >= limit {
		return *e, false, nil
	}
	e.Count++
	return *e, true, nil
}

// Sweep drops windows that ended before now and returns how many it removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if now.After(e.ResetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
