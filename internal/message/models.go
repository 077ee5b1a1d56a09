package message

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery medium for a message.
type Channel string

const (
	ChannelSMS       Channel = "sms"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTelegram  Channel = "telegram"
	ChannelMessenger Channel = "messenger"
)

func ValidChannel(c Channel) bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelTelegram, ChannelMessenger:
		return true
	default:
		return false
	}
}

// Direction of message flow relative to the platform.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Status is the lifecycle state of a message.
//
// Outbound: queued -> sending -> sent -> delivered, or a terminal failure
// (failed, rejected, undelivered, expired). queued may also become cancelled.
// Inbound messages enter directly at received.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusSending     Status = "sending"
	StatusSent        Status = "sent"
	StatusDelivered   Status = "delivered"
	StatusFailed      Status = "failed"
	StatusRejected    Status = "rejected"
	StatusUndelivered Status = "undelivered"
	StatusExpired     Status = "expired"
	StatusCancelled   Status = "cancelled"
	StatusReceived    Status = "received"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusRejected, StatusUndelivered, StatusExpired, StatusCancelled, StatusReceived:
		return true
	default:
		return false
	}
}

// TerminalFailure reports whether a status is a failed final outcome that
// warrants a ledger refund for a paid message.
func (s Status) TerminalFailure() bool {
	switch s {
	case StatusFailed, StatusRejected, StatusUndelivered, StatusExpired:
		return true
	default:
		return false
	}
}

// rank orders the forward lifecycle. Terminal states share the top rank so
// no terminal state can be replaced by another.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	default:
		return 3
	}
}

// CanTransition reports whether moving from -> to is a legal forward step.
// Transitions are monotonic: a terminal status never changes again, and a
// status never moves backwards.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// Message is one outbound or inbound message as persisted.
type Message struct {
	ID         string    `json:"id" db:"id"`
	ClientID   string    `json:"client_id" db:"client_id"`
	CampaignID string    `json:"campaign_id,omitempty" db:"campaign_id"`
	GatewayID  string    `json:"gateway_id" db:"gateway_id"`
	Channel    Channel   `json:"channel" db:"channel"`
	Direction  Direction `json:"direction" db:"direction"`

	SenderID string `json:"sender_id" db:"sender_id"`
	To       string `json:"to_address" db:"to_address"`
	From     string `json:"from_address,omitempty" db:"from_address"`
	Body     string `json:"body" db:"body"`
	MediaRef string `json:"media_ref,omitempty" db:"media_ref"`

	Encoding string `json:"encoding" db:"encoding"`
	Segments int    `json:"segments" db:"segments"`

	// CostMinor is the debited amount in credit minor units. Zero for
	// inbound and free messages.
	CostMinor int64 `json:"cost_minor" db:"cost_minor"`

	Status            Status `json:"status" db:"status"`
	ProviderMessageID string `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Error             string `json:"error,omitempty" db:"error"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
}

// NewOutbound creates an outbound message in queued state.
func NewOutbound(clientID, gatewayID string, channel Channel, senderID, to, body string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		GatewayID: gatewayID,
		Channel:   channel,
		Direction: DirectionOutbound,
		SenderID:  senderID,
		To:        to,
		Body:      body,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewInbound creates an inbound message in received state.
func NewInbound(clientID, gatewayID string, channel Channel, from, to, body string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		GatewayID: gatewayID,
		Channel:   channel,
		Direction: DirectionInbound,
		From:      from,
		To:        to,
		Body:      body,
		Status:    StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
