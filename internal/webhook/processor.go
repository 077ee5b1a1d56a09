package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"messaging-platform/internal/gateway"
	"messaging-platform/internal/ledger"
	"messaging-platform/internal/message"
	"messaging-platform/internal/optout"
	"messaging-platform/internal/senderid"
	"messaging-platform/pkg/logger"
)

// ErrSignature means the callback failed authenticity verification.
// The entry is recorded but no state changes are applied.
var ErrSignature = errors.New("webhook: signature verification failed")

// ErrClaimed means another processor holds the entry right now. The caller
// leaves it alone; the claim expires if the holder crashes.
var ErrClaimed = errors.New("webhook: inbox entry claimed by another processor")

// claimTTL bounds how long a crashed processor keeps an entry locked
// before the retry worker may take it over.
const claimTTL = 5 * time.Minute

// AutoReplier is invoked for every accepted inbound message. Implementations
// send keyword confirmations or canned replies; failures are logged, never
// propagated, because the inbound message is already safely stored.
type AutoReplier interface {
	Reply(ctx context.Context, inbound message.Message) error
}

// Processor turns durable inbox entries into message state changes.
//
// Processing is retry-safe: an atomic claim keeps concurrent processors off
// the same entry, and every step is idempotent (store-enforced inbound
// uniqueness, monotonic status transitions, idempotent refunds), so the same
// entry can be processed any number of times with the effect of exactly one.
type Processor struct {
	inbox    InboxRepository
	registry *gateway.Registry
	messages message.Repository
	credits  *ledger.Service
	optouts  *optout.Registry
	senders  senderid.Repository

	// systemClientID owns inbound messages whose receiving address matches
	// no sender assignment, so nothing is dropped.
	systemClientID string

	autoReply AutoReplier
	clock     func() time.Time
}

func NewProcessor(
	inbox InboxRepository,
	registry *gateway.Registry,
	messages message.Repository,
	credits *ledger.Service,
	optouts *optout.Registry,
	senders senderid.Repository,
	systemClientID string,
) *Processor {
	return &Processor{
		inbox:          inbox,
		registry:       registry,
		messages:       messages,
		credits:        credits,
		optouts:        optouts,
		senders:        senders,
		systemClientID: systemClientID,
		clock:          time.Now,
	}
}

// SetAutoReplier installs the inbound reply hook.
func (p *Processor) SetAutoReplier(r AutoReplier) { p.autoReply = r }

// Process claims one stored entry, handles it and records the outcome.
// Only one caller wins the claim, so the inline HTTP path and the retry
// worker can both see the same entry without applying it twice.
func (p *Processor) Process(ctx context.Context, e InboxEntry) (Kind, error) {
	if ok, err := p.inbox.Claim(ctx, e.ID, p.clock().UTC(), claimTTL); err != nil {
		return "", err
	} else if !ok {
		return "", ErrClaimed
	}

	kind, err := p.process(ctx, e)
	if err != nil {
		if markErr := p.inbox.MarkError(ctx, e.ID, err.Error()); markErr != nil {
			logger.From(ctx).Error("inbox mark error failed", "entry_id", e.ID, "error", markErr)
		}
		return kind, err
	}
	if err := p.inbox.MarkProcessed(ctx, e.ID, kind, p.clock().UTC()); err != nil {
		return kind, err
	}
	return kind, nil
}

func (p *Processor) process(ctx context.Context, e InboxEntry) (Kind, error) {
	var (
		drv gateway.Driver
		gw  gateway.Gateway
		err error
	)
	if e.GatewayID != "" {
		drv, gw, err = p.registry.Resolve(ctx, e.GatewayID)
	} else {
		drv, gw, err = p.registry.ResolveByType(ctx, gateway.Type(e.GatewayType))
	}
	if err != nil {
		return "", fmt.Errorf("webhook: resolve gateway: %w", err)
	}

	meta := gateway.WebhookMeta{URL: e.RequestURL, Headers: e.Headers}
	if !drv.VerifyWebhook(meta, e.RawPayload) {
		return "", ErrSignature
	}

	if dlrs, ok := drv.ParseDLR(e.RawPayload); ok {
		for _, dlr := range dlrs {
			if err := p.applyDLR(ctx, gw, dlr); err != nil {
				return KindDLR, err
			}
		}
		return KindDLR, nil
	}

	if inbounds, ok := drv.ParseInbound(e.RawPayload); ok {
		for i, in := range inbounds {
			// Some providers omit a message ID. Derive a stable one from
			// the entry so replays of the same entry still deduplicate.
			if in.ProviderMessageID == "" {
				in.ProviderMessageID = fmt.Sprintf("inbox:%s:%d", e.ID, i)
			}
			if err := p.applyInbound(ctx, gw, in); err != nil {
				return KindInbound, err
			}
		}
		return KindInbound, nil
	}

	logger.From(ctx).Warn("unrecognized webhook payload",
		"entry_id", e.ID, "gateway_id", gw.ID, "content_type", e.ContentType)
	return KindUnrecognized, nil
}

// applyDLR advances one outbound message from a delivery receipt.
func (p *Processor) applyDLR(ctx context.Context, gw gateway.Gateway, dlr gateway.DLRResult) error {
	log := logger.From(ctx)

	m, err := p.messages.GetByProviderID(ctx, gw.ID, dlr.ProviderMessageID)
	if err != nil {
		// The receipt may have raced the send's own commit; retrying later
		// usually resolves it.
		return fmt.Errorf("webhook: receipt for unknown message %s: %w", dlr.ProviderMessageID, err)
	}

	errMsg := dlr.Error
	if errMsg == "" && dlr.Status.TerminalFailure() {
		errMsg = "provider status " + dlr.RawStatus
	}

	now := p.clock().UTC()
	err = p.messages.UpdateStatus(ctx, m.ID, dlr.Status, errMsg, now)
	if errors.Is(err, message.ErrInvalidTransition) {
		// Duplicate or out-of-order receipt. Already settled.
		log.Debug("receipt ignored", "message_id", m.ID, "status", dlr.Status, "raw", dlr.RawStatus)
		return nil
	}
	if err != nil {
		return err
	}

	log.Info("delivery receipt applied",
		"message_id", m.ID, "status", dlr.Status, "raw", dlr.RawStatus, "gateway_id", gw.ID)

	if dlr.Status.TerminalFailure() {
		if m.CampaignID != "" {
			if err := p.messages.IncrementCampaignFailed(ctx, m.CampaignID); err != nil {
				log.Error("campaign counter update failed", "campaign_id", m.CampaignID, "error", err)
			}
		}
		if m.CostMinor > 0 {
			if _, _, err := p.credits.Refund(ctx, m.ClientID, m.ID); err != nil {
				return fmt.Errorf("webhook: refund %s: %w", m.ID, err)
			}
		}
	}
	return nil
}

// applyInbound stores one inbound message and runs the keyword and reply
// hooks.
func (p *Processor) applyInbound(ctx context.Context, gw gateway.Gateway, in gateway.InboundResult) error {
	log := logger.From(ctx)

	if _, dup, err := p.messages.FindInboundByProviderID(ctx, gw.ID, in.ProviderMessageID); err != nil {
		return err
	} else if dup {
		log.Debug("duplicate inbound ignored", "provider_message_id", in.ProviderMessageID)
		return nil
	}

	clientID := p.systemClientID
	if a, ok, err := p.senders.FindActiveByAddress(ctx, gw.Channel, in.To); err != nil {
		return err
	} else if ok {
		clientID = a.ClientID
	}

	now := p.clock().UTC()
	m := message.NewInbound(clientID, gw.ID, gw.Channel, in.From, in.To, in.Body, now)
	m.ProviderMessageID = in.ProviderMessageID
	m.MediaRef = in.MediaRef
	// The store enforces uniqueness, so a replay that slipped past the
	// check above still results in a single row.
	if inserted, err := p.messages.InsertInbound(ctx, m); err != nil {
		return err
	} else if !inserted {
		log.Debug("duplicate inbound ignored", "provider_message_id", in.ProviderMessageID)
		return nil
	}

	log.Info("inbound message stored",
		"message_id", m.ID, "client_id", clientID, "channel", gw.Channel, "from", in.From)

	if optout.IsStopKeyword(in.Body) {
		if _, err := p.optouts.OptOut(ctx, clientID, gw.Channel, in.From, "keyword"); err != nil {
			return err
		}
		log.Info("opt-out recorded", "client_id", clientID, "channel", gw.Channel, "address", in.From)
	}

	if p.autoReply != nil {
		if err := p.autoReply.Reply(ctx, m); err != nil {
			log.Error("auto reply failed", "message_id", m.ID, "error", err)
		}
	}
	return nil
}

// ProcessPending retries stored entries that have not completed, oldest
// first. Called from the background worker.
func (p *Processor) ProcessPending(ctx context.Context, limit, maxAttempts int) (int, error) {
	entries, err := p.inbox.ListUnprocessed(ctx, limit, maxAttempts)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, e := range entries {
		if _, err := p.Process(ctx, e); err != nil {
			if !errors.Is(err, ErrClaimed) {
				logger.From(ctx).Warn("inbox reprocessing failed", "entry_id", e.ID, "error", err)
			}
			continue
		}
		done++
	}
	return done, nil
}
