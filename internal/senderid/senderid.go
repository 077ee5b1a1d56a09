package senderid

import (
	"context"
	"sync"
	"time"

	"messaging-platform/internal/message"
)

// Assignment binds a sender identity (shortcode, long number, page ID,
// bot username) on one channel to the client that owns it. Inbound
// resolution matches the receiving address against active assignments.
type Assignment struct {
	ID       string          `json:"id" db:"id"`
	ClientID string          `json:"client_id" db:"client_id"`
	Channel  message.Channel `json:"channel" db:"channel"`

	// Value is the address as providers report it.
	Value string `json:"value" db:"value"`

	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Repository is the lookup contract used by inbound webhook processing.
type Repository interface {
	FindActiveByAddress(ctx context.Context, channel message.Channel, address string) (Assignment, bool, error)
}

// MemoryRepo is an in-memory Repository useful for tests.
type MemoryRepo struct {
	mu   sync.Mutex
	rows []Assignment
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Add(a Assignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, a)
}

func (r *MemoryRepo) FindActiveByAddress(ctx context.Context, channel message.Channel, address string) (Assignment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.Active && a.Channel == channel && a.Value == address {
			return a, true, nil
		}
	}
	return Assignment{}, false, nil
}
