package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.ClientID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records an admin action against a client account
// (top-ups, forced expiries).
func (s *Service) LogAdminAction(ctx context.Context, clientID, actorUserID, actorRole, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		ClientID:    clientID,
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogCancel records a client cancelling a queued message.
func (s *Service) LogCancel(ctx context.Context, clientID, actorUserID, actorRole, ip, messageID, campaignID string) error {
	return s.Append(ctx, Event{
		ClientID:    clientID,
		Type:        EventTypeCancel,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		MessageID:   messageID,
		CampaignID:  campaignID,
		Message:     "message cancelled",
	})
}

// LogOptOutBlock records an administrative recipient block.
func (s *Service) LogOptOutBlock(ctx context.Context, clientID, actorUserID, actorRole, ip, metadata string) error {
	return s.Append(ctx, Event{
		ClientID:    clientID,
		Type:        EventTypeOptOut,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     "recipient blocked",
		Metadata:    metadata,
	})
}
