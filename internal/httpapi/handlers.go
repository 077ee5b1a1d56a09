package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"messaging-platform/internal/audit"
	"messaging-platform/internal/auth"
	"messaging-platform/internal/dispatch"
	"messaging-platform/internal/ledger"
	"messaging-platform/internal/message"
	"messaging-platform/internal/optout"
	"messaging-platform/internal/reporting"
	"messaging-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Dispatch *dispatch.Service
	Messages message.Repository
	Credits  *ledger.Service
	Reports  *reporting.Service
	OptOuts  *optout.Registry

	// Audit is optional; logging is best-effort and never blocks a request.
	Audit *audit.Service
}

// logAudit swallows audit failures; the action has already happened.
func (h Handlers) logAudit(c *gin.Context, fn func(actorUserID, actorRole, ip string) error) {
	if h.Audit == nil {
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if err := fn(userID, role, c.ClientIP()); err != nil {
		logger.From(c.Request.Context()).Warn("audit log failed", "error", err)
	}
}

// abortForError maps service errors onto HTTP statuses. Unknown errors are
// surfaced as 500 without the internal message.
func abortForError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, dispatch.ErrRecipientBlocked):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "recipient opted out"})
	case errors.Is(err, dispatch.ErrRateLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "gateway quota exceeded"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
	case errors.Is(err, message.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, message.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "message is no longer cancellable"})
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func clientFromContext(c *gin.Context) (string, bool) {
	cid, err := auth.ClientID(c.Request.Context())
	if err != nil || cid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "client_id required"})
		return "", false
	}
	return cid, true
}

// timeWindow parses the from/to query parameters (RFC 3339). Absent values
// default to the last 24 hours.
func timeWindow(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if !to.After(from) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.ClientID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, client_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.ClientID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Messages ---

// SendMessage accepts one outbound message. The response carries the stored
// message including its cost and status.
func (h Handlers) SendMessage(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	var req dispatch.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.ClientID = clientID

	m, err := h.Dispatch.Send(c.Request.Context(), req)
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

type batchRequest struct {
	Messages []dispatch.SendRequest `json:"messages"`
}

type batchItem struct {
	Message *message.Message `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
}

const maxBatchSize = 1000

// SendBatch accepts a campaign batch. Items are accepted or rejected
// independently; the response preserves request order.
func (h Handlers) SendBatch(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Messages) == 0 || len(req.Messages) > maxBatchSize {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "batch must contain 1..1000 messages"})
		return
	}
	for i := range req.Messages {
		req.Messages[i].ClientID = clientID
	}

	results := h.Dispatch.SendBatch(c.Request.Context(), req.Messages)
	items := make([]batchItem, len(results))
	accepted := 0
	for i, r := range results {
		if r.Err != nil {
			items[i] = batchItem{Error: r.Err.Error()}
			continue
		}
		m := r.Message
		items[i] = batchItem{Message: &m}
		accepted++
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted, "rejected": len(results) - accepted, "results": items})
}

func (h Handlers) ListMessages(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	from, to, ok := timeWindow(c)
	if !ok {
		return
	}
	rows, err := h.Messages.ListByClient(c.Request.Context(), clientID, from, to, c.Query("campaign_id"))
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": rows, "count": len(rows)})
}

func (h Handlers) GetMessage(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	m, err := h.Messages.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil || m.ClientID != clientID {
		// Hide other tenants' message IDs behind the same 404.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// CancelMessage cancels a still-queued message and refunds its debit.
func (h Handlers) CancelMessage(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	m, err := h.Dispatch.Cancel(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		abortForError(c, err)
		return
	}
	h.logAudit(c, func(userID, role, ip string) error {
		return h.Audit.LogCancel(c.Request.Context(), clientID, userID, role, ip, m.ID, m.CampaignID)
	})
	c.JSON(http.StatusOK, m)
}

// --- Credits ---

func (h Handlers) GetBalance(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	bal, err := h.Credits.GetBalance(c.Request.Context(), clientID)
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) ListTransactions(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	from, to, ok := timeWindow(c)
	if !ok {
		return
	}
	txs, err := h.Credits.ListTransactions(c.Request.Context(), clientID, from, to)
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

type topUpRequest struct {
	ClientID  string     `json:"client_id"`
	Credits   int64      `json:"credits"`
	Source    string     `json:"source"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// AdminTopUp credits a client's balance.
// RBAC: admin only.
func (h Handlers) AdminTopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ClientID == "" || req.Credits <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "client_id and positive credits required"})
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}
	tx, err := h.Credits.TopUp(c.Request.Context(), req.ClientID, req.Credits, req.Source, req.ExpiresAt)
	if err != nil {
		abortForError(c, err)
		return
	}
	h.logAudit(c, func(userID, role, ip string) error {
		msg := fmt.Sprintf("topup %d credits (%s)", req.Credits, req.Source)
		return h.Audit.LogAdminAction(c.Request.Context(), req.ClientID, userID, role, ip, msg, "")
	})
	c.JSON(http.StatusOK, tx)
}

type expireRequest struct {
	ClientID string `json:"client_id"`
}

// AdminExpireCredits forces an expiry sweep for one client.
// RBAC: admin only.
func (h Handlers) AdminExpireCredits(c *gin.Context) {
	var req expireRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ClientID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "client_id required"})
		return
	}
	expired, err := h.Credits.ExpireClient(c.Request.Context(), req.ClientID)
	if err != nil {
		abortForError(c, err)
		return
	}
	h.logAudit(c, func(userID, role, ip string) error {
		msg := fmt.Sprintf("forced expiry of %d credits", expired)
		return h.Audit.LogAdminAction(c.Request.Context(), req.ClientID, userID, role, ip, msg, "")
	})
	c.JSON(http.StatusOK, gin.H{"expired_credits": expired})
}

// --- Opt-outs ---

type blockRequest struct {
	Channel message.Channel `json:"channel"`
	Address string          `json:"address"`
}

// BlockRecipient adds an administrative opt-out entry for the caller's
// client. Idempotent.
func (h Handlers) BlockRecipient(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	created, err := h.OptOuts.OptOut(c.Request.Context(), clientID, req.Channel, req.Address, "admin")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "channel and address required"})
		return
	}
	if created {
		h.logAudit(c, func(userID, role, ip string) error {
			meta := fmt.Sprintf(`{"channel":%q,"address":%q}`, req.Channel, req.Address)
			return h.Audit.LogOptOutBlock(c.Request.Context(), clientID, userID, role, ip, meta)
		})
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

// --- Reports ---

func (h Handlers) DeliveryReport(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	from, to, ok := timeWindow(c)
	if !ok {
		return
	}
	sum, err := h.Reports.DeliverySummary(c.Request.Context(), reporting.DeliverySummaryRequest{
		ClientID:   clientID,
		Range:      reporting.TimeRange{From: from, To: to},
		CampaignID: c.Query("campaign_id"),
	})
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) SpendReport(c *gin.Context) {
	clientID, ok := clientFromContext(c)
	if !ok {
		return
	}
	from, to, ok := timeWindow(c)
	if !ok {
		return
	}
	sum, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		ClientID: clientID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
