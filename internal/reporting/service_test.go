package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"messaging-platform/internal/ledger"
	"messaging-platform/internal/message"
)

func seed(t *testing.T) (*Service, time.Time) {
	t.Helper()
	ctx := context.Background()
	// Ledger entries are stamped with wall-clock time, so the window is
	// anchored to now.
	base := time.Now().UTC().Truncate(time.Second)

	messages := message.NewMemoryRepo()
	credits := ledger.NewService(ledger.NewMemoryStore(), ledger.ModeCredit)

	if _, err := credits.TopUp(ctx, "c1", 100, "purchase", nil); err != nil {
		t.Fatalf("topup: %v", err)
	}

	add := func(st message.Status, segments int, cost int64, offset time.Duration) {
		m := message.NewOutbound("c1", "gw1", message.ChannelSMS, "BRAND", "+15550001", "hi", base.Add(offset))
		m.Segments, m.CostMinor = segments, cost
		m.Status = st
		if err := messages.Insert(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if cost > 0 {
			if _, err := credits.Debit(ctx, "c1", cost, ledger.ReferenceMessage, m.ID, "send"); err != nil {
				t.Fatalf("debit: %v", err)
			}
			if st.TerminalFailure() {
				if _, _, err := credits.Refund(ctx, "c1", m.ID); err != nil {
					t.Fatalf("refund: %v", err)
				}
			}
		}
	}
	add(message.StatusDelivered, 1, 2, time.Hour)
	add(message.StatusDelivered, 3, 6, 2*time.Hour)
	add(message.StatusUndelivered, 1, 2, 3*time.Hour)
	add(message.StatusSent, 1, 2, 4*time.Hour)
	add(message.StatusQueued, 1, 2, 5*time.Hour)

	in := message.NewInbound("c1", "gw1", message.ChannelSMS, "+15550001", "+15559999", "hello", base.Add(6*time.Hour))
	if err := messages.Insert(ctx, in); err != nil {
		t.Fatalf("insert inbound: %v", err)
	}

	return NewService(Sources{Messages: messages, Credits: credits}), base
}

func TestDeliverySummary(t *testing.T) {
	svc, base := seed(t)

	sum, err := svc.DeliverySummary(context.Background(), DeliverySummaryRequest{
		ClientID: "c1",
		Range:    TimeRange{From: base, To: base.Add(24 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalMessages != 6 || sum.Inbound != 1 {
		t.Fatalf("totals = %+v", sum)
	}
	if sum.Delivered != 2 || sum.Undelivered != 1 || sum.Sent != 1 || sum.Queued != 1 {
		t.Fatalf("per-status = %+v", sum)
	}
	if sum.TotalSegments != 7 || sum.TotalCostMinor != 14 {
		t.Fatalf("segments=%d cost=%d", sum.TotalSegments, sum.TotalCostMinor)
	}
	// 2 delivered out of 3 settled outbound messages.
	if sum.DeliveryRate < 0.66 || sum.DeliveryRate > 0.67 {
		t.Fatalf("delivery rate = %f", sum.DeliveryRate)
	}
}

func TestSpendSummary(t *testing.T) {
	svc, base := seed(t)

	sum, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{
		ClientID: "c1",
		Range:    TimeRange{From: base.Add(-time.Hour), To: base.Add(24 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.PurchasedCredits != 100 {
		t.Fatalf("purchased = %d", sum.PurchasedCredits)
	}
	if sum.UsedCredits != 14 || sum.RefundedCredits != 2 {
		t.Fatalf("used=%d refunded=%d", sum.UsedCredits, sum.RefundedCredits)
	}
	if sum.NetDelta != 100-14+2 {
		t.Fatalf("net = %d", sum.NetDelta)
	}
}

func TestSummary_Validation(t *testing.T) {
	svc, base := seed(t)
	ctx := context.Background()

	if _, err := svc.DeliverySummary(ctx, DeliverySummaryRequest{
		Range: TimeRange{From: base, To: base.Add(time.Hour)},
	}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing client: %v", err)
	}
	if _, err := svc.SpendSummary(ctx, SpendSummaryRequest{
		ClientID: "c1",
		Range:    TimeRange{From: base.Add(time.Hour), To: base},
	}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("inverted range: %v", err)
	}
}
