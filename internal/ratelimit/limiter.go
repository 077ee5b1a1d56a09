package ratelimit

import (
	"context"
	"fmt"
	"time"

	"messaging-platform/internal/gateway"
)

// CounterStore increments a named counter that expires after ttl. The
// returned value is the count including this increment.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter enforces per-gateway throughput caps with fixed windows. The
// window is identified by its start timestamp inside the key, so every
// process sharing the store agrees on bucket boundaries.
type Limiter struct {
	store CounterStore
	clock func() time.Time
}

func New(store CounterStore) *Limiter {
	return &Limiter{store: store, clock: time.Now}
}

// Allow consumes one slot of the gateway's quota. A zero or negative
// quota means unlimited. Counting before sending intentionally overcounts
// on failed sends; quota protects the provider, not billing.
func (l *Limiter) Allow(ctx context.Context, gatewayID string, quota int, unit gateway.QuotaUnit) (bool, error) {
	if quota <= 0 {
		return true, nil
	}
	window, ok := unit.Window()
	if !ok {
		return false, fmt.Errorf("ratelimit: unknown quota unit %q", unit)
	}
	bucket := l.clock().Truncate(window).UnixMilli()
	key := fmt.Sprintf("quota:%s:%d:%d", gatewayID, window.Milliseconds(), bucket)

	// Keep the key one extra window so late readers still see it.
	n, err := l.store.Incr(ctx, key, 2*window)
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}
	return n <= int64(quota), nil
}
