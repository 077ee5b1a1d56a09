package rates

import (
	"time"

	"messaging-platform/internal/message"
)

// Rate rows price one segment for a destination. Amounts are credit minor
// units using int64.
//
// Specificity, most to least:
//   client + gateway + network > client + gateway > client + country > global
// Empty fields are wildcards. Prefix matches the destination address by
// longest prefix.
type Rate struct {
	ID string `json:"id" db:"id"`

	// ClientID empty means the row applies to all clients.
	ClientID string `json:"client_id,omitempty" db:"client_id"`

	// GatewayID empty means the row applies regardless of gateway.
	GatewayID string `json:"gateway_id,omitempty" db:"gateway_id"`

	Channel message.Channel `json:"channel" db:"channel"`

	// Prefix is a destination prefix (e.g. "+1", "+4478"). Empty matches
	// any destination.
	Prefix string `json:"prefix,omitempty" db:"prefix"`

	// Network optionally pins the row to a carrier/network code.
	Network string `json:"network,omitempty" db:"network"`

	PerSegmentMinor int64 `json:"per_segment_minor" db:"per_segment_minor"`

	// Priority breaks ties before specificity. Higher wins.
	Priority int `json:"priority" db:"priority"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// effectiveAt reports whether the row is active inside its date window at t.
func (r Rate) effectiveAt(t time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	if t.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !t.Before(*r.EffectiveTo) {
		return false
	}
	return true
}
