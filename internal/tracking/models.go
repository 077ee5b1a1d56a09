package tracking

import (
	"context"
	"errors"
	"time"
)

// Link is one shortened URL embedded in an outbound message.
type Link struct {
	ID        string `json:"id" db:"id"`
	ClientID  string `json:"client_id" db:"client_id"`
	MessageID string `json:"message_id" db:"message_id"`

	// Code is the short identifier in the redirect URL.
	Code      string `json:"code" db:"code"`
	TargetURL string `json:"target_url" db:"target_url"`

	Clicks    int64     `json:"clicks" db:"clicks"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Click is one recorded redirect hit.
type Click struct {
	ID        string    `json:"id" db:"id"`
	LinkID    string    `json:"link_id" db:"link_id"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	IP        string    `json:"ip" db:"ip"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var ErrLinkNotFound = errors.New("tracking: link not found")

type Repository interface {
	Insert(ctx context.Context, l Link) error
	GetByCode(ctx context.Context, code string) (Link, error)

	// RecordClick stores the hit and increments the link's counter.
	RecordClick(ctx context.Context, c Click) error

	ListByMessage(ctx context.Context, messageID string) ([]Link, error)
}
