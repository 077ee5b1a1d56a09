package tracking

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository useful for tests.
type MemoryRepo struct {
	mu     sync.Mutex
	links  map[string]Link // by code
	clicks []Click
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{links: map[string]Link{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, l Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[l.Code] = l
	return nil
}

func (r *MemoryRepo) GetByCode(ctx context.Context, code string) (Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[code]
	if !ok {
		return Link{}, ErrLinkNotFound
	}
	return l, nil
}

func (r *MemoryRepo) RecordClick(ctx context.Context, c Click) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, c)
	for code, l := range r.links {
		if l.ID == c.LinkID {
			l.Clicks++
			r.links[code] = l
		}
	}
	return nil
}

func (r *MemoryRepo) ListByMessage(ctx context.Context, messageID string) ([]Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Link
	for _, l := range r.links {
		if l.MessageID == messageID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Clicks reports recorded clicks, for assertions.
func (r *MemoryRepo) Clicks() []Click {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Click(nil), r.clicks...)
}
