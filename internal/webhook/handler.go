package webhook

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messaging-platform/internal/gateway"
	"messaging-platform/pkg/logger"
)

// maxPayloadBytes caps webhook bodies; provider callbacks are small.
const maxPayloadBytes = 1 << 20

// Handler exposes the provider callback endpoint.
//
// Contract:
// - The raw payload is persisted before any interpretation, so a processing
//   bug never loses a receipt; failed entries are retried by the worker.
// - A verification failure answers 403 and applies no state changes.
// - The success response matches what the provider family expects: empty
//   TwiML for Twilio-style callbacks, JSON for everything else.
type Handler struct {
	inbox     InboxRepository
	processor *Processor
	registry  *gateway.Registry
	clock     func() time.Time
}

func NewHandler(inbox InboxRepository, processor *Processor, registry *gateway.Registry) *Handler {
	return &Handler{inbox: inbox, processor: processor, registry: registry, clock: time.Now}
}

// Receive handles POST /webhook?gateway={type}&gw_id={id}.
func (h *Handler) Receive(c *gin.Context) {
	log := logger.From(c.Request.Context())

	gwType := c.Query("gateway")
	gwID := c.Query("gw_id")
	if gwType == "" && gwID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "gateway or gw_id required"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	entry := InboxEntry{
		ID:          uuid.NewString(),
		GatewayID:   gwID,
		GatewayType: gwType,
		RequestURL:  externalURL(c.Request),
		Headers:     c.Request.Header.Clone(),
		ContentType: c.ContentType(),
		RawPayload:  raw,
		ReceivedAt:  h.clock().UTC(),
	}
	if err := h.inbox.Insert(c.Request.Context(), entry); err != nil {
		log.Error("inbox insert failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}

	_, err = h.processor.Process(c.Request.Context(), entry)
	if errors.Is(err, ErrSignature) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signature verification failed"})
		return
	}
	if err != nil {
		// Stored and scheduled for retry; the provider should not resend.
		log.Warn("webhook deferred", "entry_id", entry.ID, "error", err)
	}

	if gateway.Type(gwType) == gateway.TypeTwilio {
		c.Header("Content-Type", "text/xml")
		c.String(http.StatusOK, `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Verify handles GET /webhook, the Meta subscription handshake: echo
// hub.challenge when hub.verify_token matches the gateway's token.
func (h *Handler) Verify(c *gin.Context) {
	if c.Query("hub.mode") != "subscribe" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unsupported mode"})
		return
	}

	var (
		gw  gateway.Gateway
		err error
	)
	if gwID := c.Query("gw_id"); gwID != "" {
		_, gw, err = h.registry.Resolve(c.Request.Context(), gwID)
	} else {
		_, gw, err = h.registry.ResolveByType(c.Request.Context(), gateway.Type(c.Query("gateway")))
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
		return
	}

	if gw.WebhookToken == "" || c.Query("hub.verify_token") != gw.WebhookToken {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "verify token mismatch"})
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// externalURL reconstructs the URL the provider signed, honoring the
// reverse proxy's forwarding headers.
func externalURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
