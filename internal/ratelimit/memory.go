package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process. Suitable for a single instance; use
// RedisStore when several instances must share limits.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*Window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*Window)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, p Policy, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &Window{WindowStart: now, ResetAt: now.Add(p.Window)}
		s.windows[key] = w
	}
	return apply(w, p, now), nil
}

// Purge drops windows whose counting period and cooldown are both over. It
// takes the same lock as Hit, so a key is never removed mid-admission.
func (s *MemoryStore) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if !now.Before(w.ResetAt) && !now.Before(w.BlockedUntil) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Run purges every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Purge(now)
		}
	}
}
