package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryInbox is an in-memory InboxRepository useful for tests.
type MemoryInbox struct {
	mu   sync.Mutex
	rows map[string]InboxEntry
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{rows: map[string]InboxEntry{}}
}

func (r *MemoryInbox) Insert(ctx context.Context, e InboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[e.ID] = e
	return nil
}

func (r *MemoryInbox) Claim(ctx context.Context, id string, at time.Time, staleAfter time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return false, ErrEntryNotFound
	}
	if e.Processed {
		return false, nil
	}
	if e.ClaimedAt != nil && e.ClaimedAt.After(at.Add(-staleAfter)) {
		return false, nil
	}
	e.ClaimedAt = &at
	r.rows[id] = e
	return true, nil
}

func (r *MemoryInbox) MarkProcessed(ctx context.Context, id string, kind Kind, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Processed = true
	e.ProcessedAt = &at
	e.Kind = kind
	e.Error = ""
	r.rows[id] = e
	return nil
}

func (r *MemoryInbox) MarkError(ctx context.Context, id, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Error = errMsg
	e.Attempts++
	e.ClaimedAt = nil
	r.rows[id] = e
	return nil
}

func (r *MemoryInbox) ListUnprocessed(ctx context.Context, limit, maxAttempts int) ([]InboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []InboxEntry
	for _, e := range r.rows {
		if e.Processed {
			continue
		}
		if maxAttempts > 0 && e.Attempts >= maxAttempts {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get reports a stored entry, for assertions.
func (r *MemoryInbox) Get(id string) (InboxEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	return e, ok
}
