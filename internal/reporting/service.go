package reporting

import (
	"context"
	"errors"
	"time"

	"messaging-platform/internal/ledger"
	"messaging-platform/internal/message"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Implementations must enforce client filtering.
// - Queries read immutable sources (message rows, ledger transactions);
//   reporting never writes.
type Repository interface {
	ListMessages(ctx context.Context, clientID string, from, to time.Time, campaignID string) ([]message.Message, error)
	ListTransactions(ctx context.Context, clientID string, from, to time.Time) ([]ledger.Transaction, error)
}

// Sources adapts the live stores to the reporting Repository.
type Sources struct {
	Messages message.Repository
	Credits  *ledger.Service
}

func (s Sources) ListMessages(ctx context.Context, clientID string, from, to time.Time, campaignID string) ([]message.Message, error) {
	return s.Messages.ListByClient(ctx, clientID, from, to, campaignID)
}

func (s Sources) ListTransactions(ctx context.Context, clientID string, from, to time.Time) ([]ledger.Transaction, error) {
	return s.Credits.ListTransactions(ctx, clientID, from, to)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) DeliverySummary(ctx context.Context, req DeliverySummaryRequest) (DeliverySummary, error) {
	if req.ClientID == "" || !validRange(req.Range) {
		return DeliverySummary{}, ErrInvalidRequest
	}

	rows, err := s.repo.ListMessages(ctx, req.ClientID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return DeliverySummary{}, err
	}

	out := DeliverySummary{ClientID: req.ClientID, CampaignID: req.CampaignID}
	outboundSettled := 0
	for _, m := range rows {
		out.TotalMessages++
		if m.Direction == message.DirectionInbound {
			out.Inbound++
			continue
		}
		out.TotalSegments += m.Segments
		out.TotalCostMinor += m.CostMinor

		switch m.Status {
		case message.StatusQueued, message.StatusSending:
			out.Queued++
		case message.StatusSent:
			out.Sent++
		case message.StatusDelivered:
			out.Delivered++
		case message.StatusFailed:
			out.Failed++
		case message.StatusRejected:
			out.Rejected++
		case message.StatusUndelivered:
			out.Undelivered++
		case message.StatusExpired:
			out.Expired++
		case message.StatusCancelled:
			out.Cancelled++
		}
		if m.Status.Terminal() {
			outboundSettled++
		}
	}
	if outboundSettled > 0 {
		out.DeliveryRate = float64(out.Delivered) / float64(outboundSettled)
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.ClientID == "" || !validRange(req.Range) {
		return SpendSummary{}, ErrInvalidRequest
	}

	txs, err := s.repo.ListTransactions(ctx, req.ClientID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{ClientID: req.ClientID}
	for _, tx := range txs {
		switch tx.Type {
		case ledger.TxTopUp:
			out.PurchasedCredits += tx.Credits
		case ledger.TxUsage:
			out.UsedCredits += -tx.Credits
		case ledger.TxRefund:
			out.RefundedCredits += tx.Credits
		case ledger.TxExpiry:
			out.ExpiredCredits += -tx.Credits
		}
		out.NetDelta += tx.Credits
	}
	return out, nil
}
