package optout

import (
	"context"
	"errors"
	"strings"
	"time"

	"messaging-platform/internal/message"

	"github.com/google/uuid"
)

// Registry tracks blocked recipients: opt-outs collected from inbound
// keywords plus administrative blacklist rows.
//
// Scoping: an entry with an empty ClientID is a global block; otherwise it
// applies to one client. The dispatch path checks both.
type Registry struct {
	repo  Repository
	clock func() time.Time
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, clock: time.Now}
}

// Entry is one blocked (client, channel, address) tuple.
type Entry struct {
	ID       string          `json:"id" db:"id"`
	ClientID string          `json:"client_id,omitempty" db:"client_id"`
	Channel  message.Channel `json:"channel" db:"channel"`
	Address  string          `json:"address" db:"address"`

	// Source records how the entry came to exist: "keyword", "admin",
	// "import".
	Source string `json:"source" db:"source"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Repository is the persistence contract for opt-out entries.
type Repository interface {
	// Exists reports whether an entry blocks the address for this client
	// (client-scoped or global).
	Exists(ctx context.Context, clientID string, channel message.Channel, address string) (bool, error)

	// Insert stores an entry unless an identical (client, channel, address)
	// row already exists. Returns inserted=false on the duplicate.
	Insert(ctx context.Context, e Entry) (inserted bool, err error)
}

var ErrInvalidEntry = errors.New("optout: invalid entry")

// stopKeywords is the fixed opt-out vocabulary, matched exactly and
// case-insensitively against a trimmed inbound body.
var stopKeywords = map[string]struct{}{
	"STOP":        {},
	"STOPALL":     {},
	"UNSUBSCRIBE": {},
	"CANCEL":      {},
	"END":         {},
	"QUIT":        {},
}

// IsStopKeyword reports whether an inbound body is an opt-out request.
func IsStopKeyword(body string) bool {
	_, ok := stopKeywords[strings.ToUpper(strings.TrimSpace(body))]
	return ok
}

// IsBlocked is the dispatch-path check.
func (r *Registry) IsBlocked(ctx context.Context, clientID string, channel message.Channel, address string) (bool, error) {
	if address == "" {
		return false, ErrInvalidEntry
	}
	return r.repo.Exists(ctx, clientID, channel, address)
}

// OptOut records an opt-out for an address. Idempotent: a repeated opt-out
// inserts nothing and reports created=false.
func (r *Registry) OptOut(ctx context.Context, clientID string, channel message.Channel, address, source string) (created bool, err error) {
	if address == "" || !message.ValidChannel(channel) {
		return false, ErrInvalidEntry
	}
	return r.repo.Insert(ctx, Entry{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Channel:   channel,
		Address:   address,
		Source:    source,
		CreatedAt: r.clock().UTC(),
	})
}
