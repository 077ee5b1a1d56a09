package gateway

import (
	"context"
	"sync"
	"time"

	"messaging-platform/internal/message"
)

// MemoryRepo is an in-memory Repository useful for tests.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Gateway
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: map[string]Gateway{}}
}

func (r *MemoryRepo) Put(gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[gw.ID] = gw
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gw, ok := r.rows[id]
	if !ok {
		return Gateway{}, ErrGatewayNotFound
	}
	return gw, nil
}

func (r *MemoryRepo) FindDefaultForChannel(ctx context.Context, ch message.Channel) (Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var fallback Gateway
	var found bool
	for _, gw := range r.rows {
		if !gw.Active || gw.Channel != ch {
			continue
		}
		if gw.IsDefault {
			return gw, nil
		}
		if !found {
			fallback, found = gw, true
		}
	}
	if found {
		return fallback, nil
	}
	return Gateway{}, ErrGatewayNotFound
}

func (r *MemoryRepo) FindByType(ctx context.Context, t Type) (Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, gw := range r.rows {
		if gw.Active && gw.Type == t {
			return gw, nil
		}
	}
	return Gateway{}, ErrGatewayNotFound
}

func (r *MemoryRepo) ListActive(ctx context.Context) ([]Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Gateway
	for _, gw := range r.rows {
		if gw.Active {
			out = append(out, gw)
		}
	}
	return out, nil
}

func (r *MemoryRepo) UpdateBalance(ctx context.Context, id string, balance float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gw, ok := r.rows[id]
	if !ok {
		return ErrGatewayNotFound
	}
	gw.Balance = balance
	gw.UpdatedAt = at
	r.rows[id] = gw
	return nil
}
