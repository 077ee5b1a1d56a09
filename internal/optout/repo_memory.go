package optout

import (
	"context"
	"sync"

	"messaging-platform/internal/message"
)

// MemoryRepo is an in-memory Repository useful for tests.
type MemoryRepo struct {
	mu   sync.Mutex
	rows []Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Exists(ctx context.Context, clientID string, channel message.Channel, address string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rows {
		if e.Channel != channel || e.Address != address {
			continue
		}
		if e.ClientID == "" || e.ClientID == clientID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) Insert(ctx context.Context, entry Entry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rows {
		if e.ClientID == entry.ClientID && e.Channel == entry.Channel && e.Address == entry.Address {
			return false, nil
		}
	}
	r.rows = append(r.rows, entry)
	return true, nil
}

// Entries returns a copy of stored rows, for assertions.
func (r *MemoryRepo) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.rows))
	copy(out, r.rows)
	return out
}
