package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore is a process-local CounterStore for development and
// tests. Window expiry relies on keys embedding the window start, so stale
// entries are only garbage; they are pruned opportunistically.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]*memoryCounter)}
}

func (s *MemoryCounterStore) IncrementWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCounter{expiresAt: now.Add(window + time.Minute)}
		s.counters[key] = c
	}
	c.count++

	if len(s.counters) > 10000 {
		for k, v := range s.counters {
			if now.After(v.expiresAt) {
				delete(s.counters, k)
			}
		}
	}

	return c.count, nil
}
