package gateway

import (
	"context"
	"errors"
	"time"

	"messaging-platform/internal/message"
)

// Type identifies a driver implementation. One driver can back many
// configured gateways.
type Type string

const (
	TypeTwilio      Type = "twilio"
	TypeTelegram    Type = "telegram"
	TypeMessenger   Type = "messenger"
	TypeWhatsApp    Type = "whatsapp_cloud"
	TypeGenericHTTP Type = "generic_http"
)

// QuotaUnit is the window for a gateway's throughput cap.
type QuotaUnit string

const (
	QuotaPerSecond QuotaUnit = "second"
	QuotaPerMinute QuotaUnit = "minute"
	QuotaPerHour   QuotaUnit = "hour"
	QuotaPerDay    QuotaUnit = "day"
)

// Window returns the duration of one quota window.
func (u QuotaUnit) Window() (time.Duration, bool) {
	switch u {
	case QuotaPerSecond:
		return time.Second, true
	case QuotaPerMinute:
		return time.Minute, true
	case QuotaPerHour:
		return time.Hour, true
	case QuotaPerDay:
		return 24 * time.Hour, true
	}
	return 0, false
}

// Gateway is one configured provider account. Credentials carries the
// driver-specific secrets and settings as opaque key/value pairs; each
// driver documents the keys it reads.
type Gateway struct {
	ID      string          `json:"id" db:"id"`
	Name    string          `json:"name" db:"name"`
	Type    Type            `json:"type" db:"type"`
	Channel message.Channel `json:"channel" db:"channel"`

	Credentials map[string]string `json:"-" db:"credentials"`

	// QuotaValue of 0 means unlimited.
	QuotaValue int       `json:"quota_value" db:"quota_value"`
	QuotaUnit  QuotaUnit `json:"quota_unit" db:"quota_unit"`

	// WebhookToken authenticates callbacks for drivers without a
	// signature scheme, and answers subscription handshakes.
	WebhookToken string `json:"-" db:"webhook_token"`

	// TimeoutSeconds bounds outbound provider calls. 0 falls back to the
	// registry default.
	TimeoutSeconds int `json:"timeout_seconds" db:"timeout_seconds"`

	// Balance is the last fetched provider balance, refreshed by the
	// background worker. Informational only.
	Balance   float64 `json:"balance" db:"balance"`
	IsDefault bool    `json:"is_default" db:"is_default"`
	Active    bool    `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Cred reads a credential key, empty when absent.
func (g Gateway) Cred(key string) string { return g.Credentials[key] }

var (
	ErrGatewayNotFound = errors.New("gateway: not found")
	ErrUnknownType     = errors.New("gateway: unknown driver type")
)

// Repository stores gateway configurations.
type Repository interface {
	GetByID(ctx context.Context, id string) (Gateway, error)

	// FindDefaultForChannel returns the active default gateway for a
	// channel, or the only active one when no default is flagged.
	FindDefaultForChannel(ctx context.Context, ch message.Channel) (Gateway, error)

	// FindByType returns an active gateway of the given driver type. Used
	// to route webhooks addressed by type rather than gateway ID.
	FindByType(ctx context.Context, t Type) (Gateway, error)

	ListActive(ctx context.Context) ([]Gateway, error)

	UpdateBalance(ctx context.Context, id string, balance float64, at time.Time) error
}
