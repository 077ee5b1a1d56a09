package message

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("message: not found")

	// ErrInvalidTransition is returned when a status update would move a
	// message backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("message: invalid status transition")
)

// Repository is the persistence contract for messages.
//
// Implementations must enforce the monotonic transition rule from
// CanTransition on every status update: once a message is terminal it never
// changes again.
type Repository interface {
	Insert(ctx context.Context, m Message) error

	// InsertInbound stores an inbound message unless one with the same
	// (gateway_id, provider_message_id) already exists. Returns false on a
	// duplicate. This is the authoritative webhook-replay guard; the unique
	// constraint lives in the store, so two racing processors cannot both
	// insert.
	InsertInbound(ctx context.Context, m Message) (inserted bool, err error)

	GetByID(ctx context.Context, id string) (Message, error)

	// GetByProviderID locates an outbound message by the provider-assigned
	// ID scoped to the gateway that sent it.
	GetByProviderID(ctx context.Context, gatewayID, providerMessageID string) (Message, error)

	// FindInboundByProviderID is the duplicate check for inbound webhook
	// replays. Returns ok=false when no such inbound row exists.
	FindInboundByProviderID(ctx context.Context, gatewayID, providerMessageID string) (Message, bool, error)

	// UpdateStatus applies a forward status transition and records the
	// error text for failure states. Returns ErrInvalidTransition when the
	// transition is not legal.
	UpdateStatus(ctx context.Context, id string, to Status, errMsg string, at time.Time) error

	// MarkSent transitions a message to sent and stores the provider ID.
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error

	// ClaimQueued atomically moves up to limit queued outbound messages to
	// sending and returns them. Two concurrent claimers never receive the
	// same message.
	ClaimQueued(ctx context.Context, limit int, at time.Time) ([]Message, error)

	// Requeue moves a sending message back to queued. This is the one
	// sanctioned backwards transition: the dispatcher claimed the message
	// but could not attempt the send (gateway quota exhausted), so it
	// returns to the queue untouched.
	Requeue(ctx context.Context, id string, at time.Time) error

	// IncrementCampaignFailed bumps the aggregate failure counter for a
	// campaign after a terminal-failure receipt.
	IncrementCampaignFailed(ctx context.Context, campaignID string) error

	ListByClient(ctx context.Context, clientID string, from, to time.Time, campaignID string) ([]Message, error)
}
