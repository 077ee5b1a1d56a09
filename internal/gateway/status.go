package gateway

import (
	"strings"

	"messaging-platform/internal/message"
)

// statusTable folds the vocabulary of every supported provider into the
// internal status set. Lookups are case-insensitive.
var statusTable = map[string]message.Status{
	// Pre-delivery acknowledgements. These rarely advance anything because
	// the message is already at least "sent" locally, and the status
	// machine refuses regressions.
	"queued":   message.StatusQueued,
	"accepted": message.StatusSent,
	"sending":  message.StatusSent,
	"sent":     message.StatusSent,
	"enroute":  message.StatusSent,

	"delivered": message.StatusDelivered,
	"delivrd":   message.StatusDelivered,
	// Read implies delivered; read tracking itself is out of scope.
	"read": message.StatusDelivered,

	"failed":        message.StatusFailed,
	"error":         message.StatusFailed,
	"undelivered":   message.StatusUndelivered,
	"undeliverable": message.StatusUndelivered,
	"rejected":      message.StatusRejected,
	"rejectd":       message.StatusRejected,
	"expired":       message.StatusExpired,
}

// NormalizeStatus maps a provider status string into the internal
// vocabulary. Unknown values map to failed with ok=false so callers can
// log the raw value; a malformed receipt must never be silently dropped
// after credits were spent on the send.
func NormalizeStatus(raw string) (message.Status, bool) {
	if st, ok := statusTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return st, true
	}
	return message.StatusFailed, false
}
