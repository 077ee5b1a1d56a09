package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"messaging-platform/internal/message"
)

// Driver is the provider-agnostic contract implemented once per provider.
//
// Rules:
// - Wire-format quirks (auth scheme, field names, status vocabulary,
//   signature algorithm) stay inside the implementing driver.
// - DLR statuses must be normalized through NormalizeStatus; raw provider
//   values are preserved in DLRResult.RawStatus, never dropped.
// - Send and FetchBalance are blocking network calls; the http.Client
//   injected at construction carries the bounded timeout.
type Driver interface {
	Type() Type

	Send(ctx context.Context, req SendRequest) (SendResult, error)

	// FetchBalance reports the provider account balance when the provider
	// exposes one. ok=false means the provider has no balance concept.
	FetchBalance(ctx context.Context) (balance float64, ok bool, err error)

	// VerifyWebhook checks the authenticity of an inbound callback against
	// the gateway's configured secret.
	VerifyWebhook(meta WebhookMeta, rawBody []byte) bool

	// ParseDLR interprets a webhook payload as delivery receipts.
	// ok=false means the payload is not a receipt for this provider.
	ParseDLR(rawBody []byte) ([]DLRResult, bool)

	// ParseInbound interprets a webhook payload as inbound messages.
	ParseInbound(rawBody []byte) ([]InboundResult, bool)
}

// SendRequest is the normalized outbound submission handed to a driver.
// Callers compute segments and cost before this point; drivers only move
// bytes.
type SendRequest struct {
	MessageID string
	SenderID  string
	To        string
	Body      string
	MediaRef  string
}

type SendResult struct {
	ProviderMessageID string
}

// DLRResult is one normalized delivery receipt.
type DLRResult struct {
	ProviderMessageID string

	// Status is from the closed vocabulary enforced by NormalizeStatus.
	Status message.Status

	// RawStatus is the provider's verbatim status string.
	RawStatus string

	// Error carries the provider error description, if any.
	Error string
}

// InboundResult is one normalized inbound message.
type InboundResult struct {
	ProviderMessageID string
	From              string

	// To is the receiving address (number, page ID, bot username) used to
	// resolve the owning client.
	To   string
	Body string

	MediaRef string
}

// WebhookMeta carries the request envelope a driver needs for signature
// verification. Stored alongside the raw payload so verification also works
// on reprocessing.
type WebhookMeta struct {
	// URL is the full external URL the provider called.
	URL string

	Headers http.Header
}

// ErrTransport marks network-level failures (timeout, connection refused,
// DNS). Callers treat these as retriable-never-delivered: the message failed
// before reaching the provider.
var ErrTransport = errors.New("gateway: transport failure")

// ProviderError is an application-level rejection returned by the provider.
type ProviderError struct {
	Provider Type
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gateway: %s rejected send (code %s): %s", e.Provider, e.Code, e.Message)
}

func transportErr(t Type, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, t, err)
}
