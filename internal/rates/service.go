package rates

import (
	"context"
	"errors"
	"strings"
	"time"

	"messaging-platform/internal/message"
)

// Service resolves the effective per-segment rate for a destination.
//
// Contract:
// - Client-specific rows (active, inside their date window) override
//   gateway rows, which override the global fallback.
// - Higher Priority wins; ties break by most specific match, then by
//   longest prefix.
// - Pure lookup + comparison; no provider calls, no side effects.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Repository abstracts rate persistence.
type Repository interface {
	// FindCandidates returns active-status rows visible to the client on
	// this channel: the client's own rows plus global ones. Window and
	// prefix filtering happen in the service.
	FindCandidates(ctx context.Context, clientID string, channel message.Channel) ([]Rate, error)
}

var (
	ErrNoRate         = errors.New("rates: no matching rate")
	ErrInvalidRequest = errors.New("rates: invalid request")
)

type ResolveRequest struct {
	ClientID  string
	GatewayID string
	Channel   message.Channel
	To        string

	// Network is the destination carrier code when known.
	Network string

	// At determines which effective window applies. Zero means now.
	At time.Time
}

// Resolve picks the single winning rate row for a destination.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (Rate, error) {
	if req.ClientID == "" || req.To == "" || !message.ValidChannel(req.Channel) {
		return Rate{}, ErrInvalidRequest
	}

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}

	candidates, err := s.repo.FindCandidates(ctx, req.ClientID, req.Channel)
	if err != nil {
		return Rate{}, err
	}

	var best Rate
	bestScore := -1
	found := false

	for _, r := range candidates {
		if !r.effectiveAt(at) {
			continue
		}
		if r.ClientID != "" && r.ClientID != req.ClientID {
			continue
		}
		if r.GatewayID != "" && r.GatewayID != req.GatewayID {
			continue
		}
		if r.Network != "" && r.Network != req.Network {
			continue
		}
		if r.Prefix != "" && !strings.HasPrefix(req.To, r.Prefix) {
			continue
		}

		score := matchScore(r)
		if !found || r.Priority > best.Priority ||
			(r.Priority == best.Priority && score > bestScore) {
			best, bestScore, found = r, score, true
		}
	}

	if !found {
		return Rate{}, ErrNoRate
	}
	return best, nil
}

// Price returns the total cost for a segment count under a rate.
func Price(r Rate, segments int) int64 {
	if segments <= 0 {
		return 0
	}
	return r.PerSegmentMinor * int64(segments)
}

// matchScore ranks specificity: client+gateway+network > client+gateway >
// client+prefix > global, with longer prefixes beating shorter ones within
// a tier.
func matchScore(r Rate) int {
	score := 0
	if r.ClientID != "" {
		score += 1 << 20
	}
	if r.GatewayID != "" {
		score += 1 << 16
	}
	if r.Network != "" {
		score += 1 << 12
	}
	score += len(r.Prefix)
	return score
}
