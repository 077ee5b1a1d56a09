package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"messaging-platform/internal/gateway"
	"messaging-platform/internal/ledger"
	"messaging-platform/internal/message"
	"messaging-platform/internal/optout"
	"messaging-platform/internal/ratelimit"
	"messaging-platform/internal/rates"
	"messaging-platform/internal/segment"
	"messaging-platform/pkg/logger"
)

var (
	ErrValidation = errors.New("dispatch: invalid send request")

	// ErrRecipientBlocked means the destination opted out. Checked before
	// billing so a blocked send never touches the ledger.
	ErrRecipientBlocked = errors.New("dispatch: recipient opted out")

	// ErrRateLimited means the gateway's quota window is exhausted.
	ErrRateLimited = errors.New("dispatch: gateway quota exceeded")
)

// LinkRewriter shortens URLs in a message body into tracked redirect links.
type LinkRewriter interface {
	Rewrite(ctx context.Context, clientID, messageID, body string) (string, error)
}

// Service runs the outbound pipeline: validate, opt-out check, gateway and
// rate resolution, debit, quota, provider submission.
//
// Billing rules:
// - Credits are debited when the message is accepted into the queue.
// - A send that terminally fails after the debit is refunded exactly once.
// - Insufficient funds reject the request before any row is written.
type Service struct {
	messages message.Repository
	credits  *ledger.Service
	rates    *rates.Service
	registry *gateway.Registry
	limiter  *ratelimit.Limiter
	optouts  *optout.Registry
	links    LinkRewriter

	clock func() time.Time
}

func NewService(
	messages message.Repository,
	credits *ledger.Service,
	rateSvc *rates.Service,
	registry *gateway.Registry,
	limiter *ratelimit.Limiter,
	optouts *optout.Registry,
	links LinkRewriter,
) *Service {
	return &Service{
		messages: messages,
		credits:  credits,
		rates:    rateSvc,
		registry: registry,
		limiter:  limiter,
		optouts:  optouts,
		links:    links,
		clock:    time.Now,
	}
}

// SendRequest is one outbound submission.
type SendRequest struct {
	ClientID   string          `json:"-"`
	CampaignID string          `json:"campaign_id"`
	Channel    message.Channel `json:"channel"`

	// GatewayID overrides the channel's default gateway.
	GatewayID string `json:"gateway_id"`

	SenderID string `json:"sender_id"`
	To       string `json:"to"`
	Body     string `json:"body"`
	MediaRef string `json:"media_ref"`

	// Network is the destination carrier hint used for rating.
	Network string `json:"network"`

	// SendNow bypasses the queue and submits to the provider before
	// returning. Queue-only is the default so API latency stays flat.
	SendNow bool `json:"send_now"`
}

func (r SendRequest) validate() error {
	if r.ClientID == "" || r.To == "" {
		return ErrValidation
	}
	if r.Body == "" && r.MediaRef == "" {
		return ErrValidation
	}
	if !message.ValidChannel(r.Channel) {
		return ErrValidation
	}
	return nil
}

// Send accepts one message. On return the message is queued (debited) or,
// with SendNow, already submitted to the provider.
func (s *Service) Send(ctx context.Context, req SendRequest) (message.Message, error) {
	if err := req.validate(); err != nil {
		return message.Message{}, err
	}
	now := s.clock().UTC()
	log := logger.From(ctx)

	blocked, err := s.optouts.IsBlocked(ctx, req.ClientID, req.Channel, req.To)
	if err != nil {
		return message.Message{}, err
	}
	if blocked {
		return message.Message{}, ErrRecipientBlocked
	}

	var (
		drv gateway.Driver
		gw  gateway.Gateway
	)
	if req.GatewayID != "" {
		drv, gw, err = s.registry.Resolve(ctx, req.GatewayID)
	} else {
		drv, gw, err = s.registry.ResolveForChannel(ctx, req.Channel)
	}
	if err != nil {
		return message.Message{}, err
	}

	sender := req.SenderID
	if sender == "" {
		sender = gw.Cred("default_sender")
	}

	m := message.NewOutbound(req.ClientID, gw.ID, req.Channel, sender, req.To, req.Body, now)
	m.CampaignID = req.CampaignID
	m.MediaRef = req.MediaRef

	// Links are rewritten before segment counting: the shortened body is
	// what goes on the wire, so it is what gets billed.
	if s.links != nil {
		body, err := s.links.Rewrite(ctx, req.ClientID, m.ID, m.Body)
		if err != nil {
			return message.Message{}, fmt.Errorf("dispatch: rewrite links: %w", err)
		}
		m.Body = body
	}

	count := segment.ForChannel(m.Body, string(req.Channel))
	m.Encoding = string(count.Encoding)
	m.Segments = count.Segments
	if m.Segments == 0 && m.MediaRef != "" {
		m.Segments = 1
	}

	rate, err := s.rates.Resolve(ctx, rates.ResolveRequest{
		ClientID:  req.ClientID,
		GatewayID: gw.ID,
		Channel:   req.Channel,
		To:        req.To,
		Network:   req.Network,
		At:        now,
	})
	if err != nil {
		return message.Message{}, err
	}
	m.CostMinor = rates.Price(rate, m.Segments)

	if m.CostMinor > 0 {
		desc := fmt.Sprintf("%s to %s (%d segments)", req.Channel, req.To, m.Segments)
		if _, err := s.credits.Debit(ctx, req.ClientID, m.CostMinor, ledger.ReferenceMessage, m.ID, desc); err != nil {
			return message.Message{}, err
		}
	}

	if err := s.messages.Insert(ctx, m); err != nil {
		// The debit landed but the message did not; put the credits back.
		s.refund(ctx, m)
		return message.Message{}, err
	}

	log.Info("message accepted",
		"message_id", m.ID, "client_id", m.ClientID, "channel", m.Channel,
		"gateway_id", gw.ID, "segments", m.Segments, "cost", m.CostMinor)

	if !req.SendNow {
		return m, nil
	}

	ok, err := s.limiter.Allow(ctx, gw.ID, gw.QuotaValue, gw.QuotaUnit)
	if err != nil {
		return m, err
	}
	if !ok {
		// Synchronous callers asked for immediate delivery; failing loudly
		// beats silently queueing behind an exhausted quota.
		s.failAndRefund(ctx, &m, "gateway quota exceeded")
		return m, ErrRateLimited
	}

	if err := s.messages.UpdateStatus(ctx, m.ID, message.StatusSending, "", s.clock().UTC()); err != nil {
		return m, err
	}
	m.Status = message.StatusSending
	return s.submit(ctx, m, drv)
}

// BatchResult pairs one request of a batch with its outcome.
type BatchResult struct {
	Message message.Message
	Err     error
}

// SendBatch accepts a campaign batch. Items are independent: one rejection
// does not stop the rest.
func (s *Service) SendBatch(ctx context.Context, reqs []SendRequest) []BatchResult {
	out := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		m, err := s.Send(ctx, req)
		out[i] = BatchResult{Message: m, Err: err}
	}
	return out
}

// DispatchQueued claims up to limit queued messages and submits them.
// Called from the background worker loop. Returns how many were attempted.
func (s *Service) DispatchQueued(ctx context.Context, limit int) (int, error) {
	now := s.clock().UTC()
	claimed, err := s.messages.ClaimQueued(ctx, limit, now)
	if err != nil {
		return 0, err
	}

	attempted := 0
	log := logger.From(ctx)
	for _, m := range claimed {
		drv, gw, err := s.registry.Resolve(ctx, m.GatewayID)
		if err != nil {
			s.failAndRefund(ctx, &m, "gateway unavailable: "+err.Error())
			continue
		}

		ok, err := s.limiter.Allow(ctx, gw.ID, gw.QuotaValue, gw.QuotaUnit)
		if err != nil {
			log.Error("quota check failed", "gateway_id", gw.ID, "error", err)
			ok = false
		}
		if !ok {
			// Quota exhausted: the claim is undone and the message waits
			// for the next worker pass. No refund, nothing was attempted.
			if err := s.messages.Requeue(ctx, m.ID, s.clock().UTC()); err != nil {
				log.Error("requeue failed", "message_id", m.ID, "error", err)
			}
			continue
		}

		attempted++
		if _, err := s.submit(ctx, m, drv); err != nil {
			log.Warn("send failed", "message_id", m.ID, "error", err)
		}
	}
	return attempted, nil
}

// submit performs the provider call for a message in sending state.
func (s *Service) submit(ctx context.Context, m message.Message, drv gateway.Driver) (message.Message, error) {
	res, err := drv.Send(ctx, gateway.SendRequest{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		To:        m.To,
		Body:      m.Body,
		MediaRef:  m.MediaRef,
	})
	if err != nil {
		var pe *gateway.ProviderError
		if errors.As(err, &pe) {
			s.rejectAndRefund(ctx, &m, pe.Error())
		} else {
			s.failAndRefund(ctx, &m, err.Error())
		}
		return m, err
	}

	now := s.clock().UTC()
	if err := s.messages.MarkSent(ctx, m.ID, res.ProviderMessageID, now); err != nil {
		return m, err
	}
	m.Status = message.StatusSent
	m.ProviderMessageID = res.ProviderMessageID
	m.SentAt = &now
	return m, nil
}

// Cancel withdraws a queued message and refunds its debit. Only queued
// messages can be cancelled; anything later is already with the provider.
func (s *Service) Cancel(ctx context.Context, clientID, messageID string) (message.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if m.ClientID != clientID {
		return message.Message{}, message.ErrNotFound
	}
	if m.Status != message.StatusQueued {
		return m, message.ErrInvalidTransition
	}

	now := s.clock().UTC()
	if err := s.messages.UpdateStatus(ctx, m.ID, message.StatusCancelled, "cancelled by client", now); err != nil {
		return m, err
	}
	m.Status = message.StatusCancelled
	s.refund(ctx, m)
	return m, nil
}

func (s *Service) failAndRefund(ctx context.Context, m *message.Message, reason string) {
	s.terminate(ctx, m, message.StatusFailed, reason)
}

func (s *Service) rejectAndRefund(ctx context.Context, m *message.Message, reason string) {
	s.terminate(ctx, m, message.StatusRejected, reason)
}

func (s *Service) terminate(ctx context.Context, m *message.Message, st message.Status, reason string) {
	log := logger.From(ctx)
	if err := s.messages.UpdateStatus(ctx, m.ID, st, reason, s.clock().UTC()); err != nil {
		log.Error("terminal status update failed", "message_id", m.ID, "status", st, "error", err)
		return
	}
	m.Status = st
	m.Error = reason
	if m.CampaignID != "" {
		if err := s.messages.IncrementCampaignFailed(ctx, m.CampaignID); err != nil {
			log.Error("campaign counter update failed", "campaign_id", m.CampaignID, "error", err)
		}
	}
	s.refund(ctx, *m)
}

func (s *Service) refund(ctx context.Context, m message.Message) {
	if m.CostMinor <= 0 {
		return
	}
	if _, _, err := s.credits.Refund(ctx, m.ClientID, m.ID); err != nil {
		// Refunds are idempotent, so a later receipt for the same message
		// can still settle this.
		logger.From(ctx).Error("refund failed", "message_id", m.ID, "client_id", m.ClientID, "error", err)
	}
}
