package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(mode BillingMode) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	svc := NewService(store, mode)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	svc.clock = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	return svc, store
}

// replay walks all transactions for a client and returns the final balance.
func replay(t *testing.T, svc *Service, clientID string) int64 {
	t.Helper()
	txs, err := svc.ListTransactions(context.Background(), clientID, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	var balance int64
	for _, tx := range txs {
		if tx.BalanceBefore != balance {
			t.Fatalf("transaction %s: balance_before %d, replay says %d", tx.ID, tx.BalanceBefore, balance)
		}
		balance += tx.Credits
		if tx.BalanceAfter != balance {
			t.Fatalf("transaction %s: balance_after %d, replay says %d", tx.ID, tx.BalanceAfter, balance)
		}
	}
	return balance
}

func TestDebit_PairsTransactionAndReplays(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(ModeCredit)

	if _, err := svc.TopUp(ctx, "c1", 50, "purchase", nil); err != nil {
		t.Fatalf("topup: %v", err)
	}

	tx, err := svc.Debit(ctx, "c1", 3, ReferenceMessage, "m1", "3 segments")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if tx.Credits != -3 {
		t.Fatalf("expected credits -3, got %d", tx.Credits)
	}

	b, err := svc.GetBalance(ctx, "c1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.Balance != 47 {
		t.Fatalf("expected balance 47, got %d", b.Balance)
	}
	if b.TotalUsed != 3 {
		t.Fatalf("expected total_used 3, got %d", b.TotalUsed)
	}

	if got := replay(t, svc, "c1"); got != b.Balance {
		t.Fatalf("replay produced %d, balance is %d", got, b.Balance)
	}
}

func TestDebit_InsufficientFundsLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(ModeCredit)

	if _, err := svc.TopUp(ctx, "c1", 2, "purchase", nil); err != nil {
		t.Fatalf("topup: %v", err)
	}

	_, err := svc.Debit(ctx, "c1", 5, ReferenceMessage, "m1", "")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	b, _ := svc.GetBalance(ctx, "c1")
	if b.Balance != 2 {
		t.Fatalf("expected balance 2, got %d", b.Balance)
	}
	txs, _ := svc.ListTransactions(ctx, "c1", time.Time{}, time.Time{})
	if len(txs) != 1 {
		t.Fatalf("expected only the topup transaction, got %d", len(txs))
	}

	// Unknown client: same error, nothing created.
	if _, err := svc.Debit(ctx, "nobody", 1, ReferenceMessage, "m2", ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for unknown client, got %v", err)
	}
}

func TestDebit_ConsumesAllocationsFIFO(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(ModeCredit)

	soon := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	// Created in reverse order of expiry; FIFO must still drain by expiry.
	if _, err := svc.TopUp(ctx, "c1", 10, "renewal", &later); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if _, err := svc.TopUp(ctx, "c1", 4, "purchase", &soon); err != nil {
		t.Fatalf("topup: %v", err)
	}

	if _, err := svc.Debit(ctx, "c1", 6, ReferenceMessage, "m1", ""); err != nil {
		t.Fatalf("debit: %v", err)
	}

	var sumRemaining int64
	for _, a := range store.Allocations("c1") {
		sumRemaining += a.RemainingCredits
		switch a.ExpiresAt {
		case nil:
			t.Fatalf("unexpected non-expiring allocation")
		default:
			if a.ExpiresAt.Equal(soon) {
				if a.RemainingCredits != 0 || a.Status != AllocationDepleted {
					t.Fatalf("soon-expiring allocation should be depleted, got %+v", a)
				}
			}
			if a.ExpiresAt.Equal(later) && a.RemainingCredits != 8 {
				t.Fatalf("later allocation should keep 8, got %d", a.RemainingCredits)
			}
		}
	}

	b, _ := svc.GetBalance(ctx, "c1")
	if b.Balance != 8 || sumRemaining != b.Balance {
		t.Fatalf("allocation sum %d must equal balance %d (want 8)", sumRemaining, b.Balance)
	}
}

func TestRefund_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(ModeCredit)

	if _, err := svc.TopUp(ctx, "c1", 50, "purchase", nil); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if _, err := svc.Debit(ctx, "c1", 3, ReferenceMessage, "m1", ""); err != nil {
		t.Fatalf("debit: %v", err)
	}

	_, applied, err := svc.Refund(ctx, "c1", "m1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !applied {
		t.Fatalf("first refund should apply")
	}

	_, applied, err = svc.Refund(ctx, "c1", "m1")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if applied {
		t.Fatalf("second refund must be a no-op")
	}

	b, _ := svc.GetBalance(ctx, "c1")
	if b.Balance != 50 {
		t.Fatalf("expected balance restored to 50, got %d", b.Balance)
	}
	if got := replay(t, svc, "c1"); got != 50 {
		t.Fatalf("replay produced %d, want 50", got)
	}
}

func TestRefund_WithoutDebitIsNoop(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(ModeCredit)

	if _, err := svc.TopUp(ctx, "c1", 10, "purchase", nil); err != nil {
		t.Fatalf("topup: %v", err)
	}

	_, applied, err := svc.Refund(ctx, "c1", "never-sent")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if applied {
		t.Fatalf("refund without a debit must not apply")
	}
	b, _ := svc.GetBalance(ctx, "c1")
	if b.Balance != 10 {
		t.Fatalf("expected balance 10, got %d", b.Balance)
	}
}

func TestExpireClient_DrainsExpiredAllocations(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(ModeCredit)

	past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.TopUp(ctx, "c1", 10, "purchase", &past); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if _, err := svc.TopUp(ctx, "c1", 5, "purchase", nil); err != nil {
		t.Fatalf("topup: %v", err)
	}

	lost, err := svc.ExpireClient(ctx, "c1")
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if lost != 10 {
		t.Fatalf("expected 10 credits expired, got %d", lost)
	}

	b, _ := svc.GetBalance(ctx, "c1")
	if b.Balance != 5 || b.TotalExpired != 10 {
		t.Fatalf("expected balance 5 / expired 10, got %d / %d", b.Balance, b.TotalExpired)
	}
	if got := replay(t, svc, "c1"); got != 5 {
		t.Fatalf("replay produced %d, want 5", got)
	}

	// Second sweep finds nothing.
	lost, err = svc.ExpireClient(ctx, "c1")
	if err != nil || lost != 0 {
		t.Fatalf("expected idempotent sweep, got lost=%d err=%v", lost, err)
	}
}

func TestSweepExpired_CoversAllClients(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(ModeCredit)

	past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range []string{"a", "b"} {
		if _, err := svc.TopUp(ctx, c, 7, "purchase", &past); err != nil {
			t.Fatalf("topup: %v", err)
		}
	}

	total, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if total != 14 {
		t.Fatalf("expected 14 total expired, got %d", total)
	}
}

func TestWalletMode_NoAllocations(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(ModeWallet)

	if _, err := svc.TopUp(ctx, "c1", 100, "stripe", nil); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if len(store.Allocations("c1")) != 0 {
		t.Fatalf("wallet mode must not create allocations")
	}

	if _, err := svc.Debit(ctx, "c1", 30, ReferenceMessage, "m1", ""); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, applied, err := svc.Refund(ctx, "c1", "m1"); err != nil || !applied {
		t.Fatalf("refund: applied=%v err=%v", applied, err)
	}

	b, _ := svc.GetBalance(ctx, "c1")
	if b.Balance != 100 {
		t.Fatalf("expected balance 100, got %d", b.Balance)
	}
	if got := replay(t, svc, "c1"); got != 100 {
		t.Fatalf("replay produced %d, want 100", got)
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(ModeCredit)

	if _, err := svc.TopUp(ctx, "", 10, "x", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.TopUp(ctx, "c1", 0, "x", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Debit(ctx, "c1", -1, ReferenceMessage, "m", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := svc.Refund(ctx, "c1", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.GetBalance(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
