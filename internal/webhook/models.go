package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Kind classifies an inbox entry after processing.
type Kind string

const (
	KindDLR          Kind = "dlr"
	KindInbound      Kind = "inbound"
	KindUnrecognized Kind = "unrecognized"
)

// InboxEntry is one raw provider callback, persisted before any processing
// so a crash or a bug never loses a receipt. The envelope (URL, headers) is
// kept so signature verification works on reprocessing too.
type InboxEntry struct {
	ID string `json:"id" db:"id"`

	// GatewayID is set when the callback URL named a gateway; otherwise
	// GatewayType routes it.
	GatewayID   string `json:"gateway_id" db:"gateway_id"`
	GatewayType string `json:"gateway_type" db:"gateway_type"`

	RequestURL  string      `json:"request_url" db:"request_url"`
	Headers     http.Header `json:"headers" db:"headers"`
	ContentType string      `json:"content_type" db:"content_type"`
	RawPayload  []byte      `json:"raw_payload" db:"raw_payload"`

	ReceivedAt  time.Time  `json:"received_at" db:"received_at"`
	Processed   bool       `json:"processed" db:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	Kind        Kind       `json:"kind,omitempty" db:"kind"`

	// ClaimedAt marks the entry as owned by one processor. A claim older
	// than the staleness window counts as abandoned (crashed holder) and
	// can be taken over.
	ClaimedAt *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`

	// Error holds the last processing failure. Entries with an error stay
	// unprocessed and are retried by the worker.
	Error    string `json:"error,omitempty" db:"error"`
	Attempts int    `json:"attempts" db:"attempts"`
}

var ErrEntryNotFound = errors.New("webhook: inbox entry not found")

// InboxRepository is the durable store for provider callbacks.
type InboxRepository interface {
	Insert(ctx context.Context, e InboxEntry) error

	// Claim atomically takes ownership of an unprocessed entry. ok=false
	// when the entry is already processed or another claim younger than
	// staleAfter holds it, so the inline HTTP path and the retry worker
	// never apply the same entry concurrently.
	Claim(ctx context.Context, id string, at time.Time, staleAfter time.Duration) (ok bool, err error)

	MarkProcessed(ctx context.Context, id string, kind Kind, at time.Time) error

	// MarkError records a failure, bumps the attempt counter and releases
	// the claim; the entry remains eligible for retry.
	MarkError(ctx context.Context, id, errMsg string) error

	// ListUnprocessed returns entries awaiting (re)processing, oldest
	// first, capped at limit and maxAttempts.
	ListUnprocessed(ctx context.Context, limit, maxAttempts int) ([]InboxEntry, error)
}
