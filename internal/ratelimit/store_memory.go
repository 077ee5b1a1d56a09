package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local CounterStore for tests and single-node
// deployments.
type MemoryStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts:  map[string]int64{},
		expires: map[string]time.Time{},
		clock:   time.Now,
	}
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if exp, ok := s.expires[key]; ok && now.After(exp) {
		delete(s.counts, key)
		delete(s.expires, key)
	}
	if _, ok := s.counts[key]; !ok {
		s.expires[key] = now.Add(ttl)
	}
	s.counts[key]++
	return s.counts[key], nil
}
