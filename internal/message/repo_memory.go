package message

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu       sync.Mutex
	rows     map[string]Message
	failures map[string]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]Message), failures: make(map[string]int)}
}

func (r *MemoryRepo) Insert(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[m.ID] = m
	return nil
}

func (r *MemoryRepo) InsertInbound(ctx context.Context, m Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ProviderMessageID != "" {
		for _, existing := range r.rows {
			if existing.Direction == DirectionInbound &&
				existing.GatewayID == m.GatewayID &&
				existing.ProviderMessageID == m.ProviderMessageID {
				return false, nil
			}
		}
	}
	r.rows[m.ID] = m
	return true, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (r *MemoryRepo) GetByProviderID(ctx context.Context, gatewayID, providerMessageID string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.Direction == DirectionOutbound && m.GatewayID == gatewayID && m.ProviderMessageID == providerMessageID {
			return m, nil
		}
	}
	return Message{}, ErrNotFound
}

func (r *MemoryRepo) FindInboundByProviderID(ctx context.Context, gatewayID, providerMessageID string) (Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if providerMessageID == "" {
		return Message{}, false, nil
	}
	for _, m := range r.rows {
		if m.Direction == DirectionInbound && m.GatewayID == gatewayID && m.ProviderMessageID == providerMessageID {
			return m, true, nil
		}
	}
	return Message{}, false, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, id string, to Status, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(m.Status, to) {
		return ErrInvalidTransition
	}
	m.Status = to
	m.UpdatedAt = at
	if errMsg != "" {
		m.Error = errMsg
	}
	if to == StatusDelivered {
		t := at
		m.DeliveredAt = &t
	}
	r.rows[id] = m
	return nil
}

func (r *MemoryRepo) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(m.Status, StatusSent) {
		return ErrInvalidTransition
	}
	m.Status = StatusSent
	m.ProviderMessageID = providerMessageID
	m.UpdatedAt = at
	t := at
	m.SentAt = &t
	r.rows[id] = m
	return nil
}

func (r *MemoryRepo) ClaimQueued(ctx context.Context, limit int, at time.Time) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var queued []Message
	for _, m := range r.rows {
		if m.Direction == DirectionOutbound && m.Status == StatusQueued {
			queued = append(queued, m)
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })
	if limit > 0 && len(queued) > limit {
		queued = queued[:limit]
	}

	out := make([]Message, 0, len(queued))
	for _, m := range queued {
		m.Status = StatusSending
		m.UpdatedAt = at
		r.rows[m.ID] = m
		out = append(out, m)
	}
	return out, nil
}

func (r *MemoryRepo) Requeue(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	if m.Status != StatusSending {
		return ErrInvalidTransition
	}
	m.Status = StatusQueued
	m.UpdatedAt = at
	r.rows[id] = m
	return nil
}

func (r *MemoryRepo) IncrementCampaignFailed(ctx context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[campaignID]++
	return nil
}

// CampaignFailed reports the aggregate failure counter, for assertions.
func (r *MemoryRepo) CampaignFailed(campaignID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[campaignID]
}

func (r *MemoryRepo) ListByClient(ctx context.Context, clientID string, from, to time.Time, campaignID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.rows {
		if m.ClientID != clientID {
			continue
		}
		if campaignID != "" && m.CampaignID != campaignID {
			continue
		}
		if m.CreatedAt.Before(from) || !m.CreatedAt.Before(to) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Count reports the number of stored rows, for assertions.
func (r *MemoryRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
