package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service provides credit accounting.
//
// Money invariants:
// - No balance change without exactly one paired transaction row.
// - Transactions are append-only and carry balance_before/balance_after.
// - Replaying a client's transactions in order reproduces the balance.
// - In credit mode, sum(remaining over active allocations) == balance at rest.
//
// Concurrency:
// - All mutations go through Store.Update, which serializes per client.
//
// Refunds are idempotent per message: a refund with no matching usage entry,
// or with an existing refund entry, is a no-op.
type Service struct {
	store Store
	mode  BillingMode
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store, mode BillingMode) *Service {
	if mode == "" {
		mode = ModeCredit
	}
	return &Service{store: store, mode: mode, clock: time.Now}
}

var (
	ErrNotFound          = errors.New("ledger: client balance not found")
	ErrInvalidArgument   = errors.New("ledger: invalid argument")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInconsistent signals drift between the balance projection and the
	// allocation queue. The operation is rejected rather than silently
	// repaired.
	ErrInconsistent = errors.New("ledger: balance and allocations disagree")
)

func (s *Service) Mode() BillingMode { return s.mode }

func (s *Service) GetBalance(ctx context.Context, clientID string) (Balance, error) {
	if clientID == "" {
		return Balance{}, ErrInvalidArgument
	}
	b, ok, err := s.store.GetBalance(ctx, clientID)
	if err != nil {
		return Balance{}, err
	}
	if !ok {
		return Balance{}, ErrNotFound
	}
	return b, nil
}

func (s *Service) ListTransactions(ctx context.Context, clientID string, from, to time.Time) ([]Transaction, error) {
	if clientID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListTransactions(ctx, clientID, from, to)
}

// TopUp adds credits from one funding event. In credit mode a new allocation
// is created; expiresAt bounds its validity (nil = never expires).
func (s *Service) TopUp(ctx context.Context, clientID string, credits int64, source string, expiresAt *time.Time) (Transaction, error) {
	if clientID == "" || credits <= 0 {
		return Transaction{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var out Transaction

	err := s.store.Update(ctx, clientID, func(tx Tx) error {
		b, ok, err := tx.Balance()
		if err != nil {
			return err
		}
		if !ok {
			b = Balance{ClientID: clientID}
		}

		refType, refID := "", ""
		if s.mode == ModeCredit {
			alloc := Allocation{
				ID:               uuid.NewString(),
				ClientID:         clientID,
				TotalCredits:     credits,
				RemainingCredits: credits,
				ExpiresAt:        expiresAt,
				Status:           AllocationActive,
				Source:           source,
				CreatedAt:        now,
			}
			if err := tx.InsertAllocation(alloc); err != nil {
				return err
			}
			refType, refID = "allocation", alloc.ID
		}

		entry := Transaction{
			ID:            uuid.NewString(),
			ClientID:      clientID,
			Type:          TxTopUp,
			Credits:       credits,
			BalanceBefore: b.Balance,
			BalanceAfter:  b.Balance + credits,
			ReferenceType: refType,
			ReferenceID:   refID,
			Description:   source,
			CreatedAt:     now,
		}
		if err := tx.InsertTransaction(entry); err != nil {
			return err
		}

		b.Balance += credits
		b.TotalPurchased += credits
		b.UpdatedAt = now
		if err := tx.SetBalance(b); err != nil {
			return err
		}
		out = entry
		return nil
	})
	return out, err
}

// Debit consumes credits for a send. In credit mode the oldest non-expired
// allocations are drained first. Insufficient funds leave no trace.
func (s *Service) Debit(ctx context.Context, clientID string, credits int64, refType, refID, description string) (Transaction, error) {
	if clientID == "" || credits <= 0 {
		return Transaction{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var out Transaction

	err := s.store.Update(ctx, clientID, func(tx Tx) error {
		b, ok, err := tx.Balance()
		if err != nil {
			return err
		}
		if !ok || b.Balance < credits {
			return ErrInsufficientFunds
		}

		if s.mode == ModeCredit {
			if err := s.consumeAllocations(tx, credits, now); err != nil {
				return err
			}
		}

		entry := Transaction{
			ID:            uuid.NewString(),
			ClientID:      clientID,
			Type:          TxUsage,
			Credits:       -credits,
			BalanceBefore: b.Balance,
			BalanceAfter:  b.Balance - credits,
			ReferenceType: refType,
			ReferenceID:   refID,
			Description:   description,
			CreatedAt:     now,
		}
		if err := tx.InsertTransaction(entry); err != nil {
			return err
		}

		b.Balance -= credits
		b.TotalUsed += credits
		b.UpdatedAt = now
		if err := tx.SetBalance(b); err != nil {
			return err
		}
		out = entry
		return nil
	})
	return out, err
}

// consumeAllocations drains `credits` from active allocations FIFO.
// The caller has already verified the balance covers the amount; if the
// allocation queue cannot, the projection has drifted and the operation is
// rejected.
func (s *Service) consumeAllocations(tx Tx, credits int64, now time.Time) error {
	allocs, err := tx.ActiveAllocations()
	if err != nil {
		return err
	}

	remaining := credits
	for _, a := range allocs {
		if remaining == 0 {
			break
		}
		if a.Expired(now) || a.RemainingCredits <= 0 {
			continue
		}
		take := a.RemainingCredits
		if take > remaining {
			take = remaining
		}
		a.RemainingCredits -= take
		if a.RemainingCredits == 0 {
			a.Status = AllocationDepleted
		}
		if err := tx.UpdateAllocation(a); err != nil {
			return err
		}
		remaining -= take
	}

	if remaining > 0 {
		return fmt.Errorf("%w: allocations short by %d", ErrInconsistent, remaining)
	}
	return nil
}

// Refund returns the debit for a message. Idempotent: applied=false when the
// message was never debited or was already refunded.
func (s *Service) Refund(ctx context.Context, clientID, messageID string) (Transaction, bool, error) {
	if clientID == "" || messageID == "" {
		return Transaction{}, false, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var out Transaction
	applied := false

	err := s.store.Update(ctx, clientID, func(tx Tx) error {
		usage, ok, err := tx.FindTransaction(TxUsage, ReferenceMessage, messageID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, ok, err := tx.FindTransaction(TxRefund, ReferenceMessage, messageID); err != nil {
			return err
		} else if ok {
			return nil
		}

		amount := -usage.Credits
		if amount <= 0 {
			return fmt.Errorf("%w: usage entry %s has non-negative credits", ErrInconsistent, usage.ID)
		}

		b, ok, err := tx.Balance()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: refund for client with no balance row", ErrInconsistent)
		}

		if s.mode == ModeCredit {
			// Restore into a fresh non-expiring allocation; re-crediting the
			// drained batches would need per-debit provenance we do not keep.
			alloc := Allocation{
				ID:               uuid.NewString(),
				ClientID:         clientID,
				TotalCredits:     amount,
				RemainingCredits: amount,
				Status:           AllocationActive,
				Source:           "refund",
				CreatedAt:        now,
			}
			if err := tx.InsertAllocation(alloc); err != nil {
				return err
			}
		}

		entry := Transaction{
			ID:            uuid.NewString(),
			ClientID:      clientID,
			Type:          TxRefund,
			Credits:       amount,
			BalanceBefore: b.Balance,
			BalanceAfter:  b.Balance + amount,
			ReferenceType: ReferenceMessage,
			ReferenceID:   messageID,
			Description:   "refund for " + messageID,
			CreatedAt:     now,
		}
		if err := tx.InsertTransaction(entry); err != nil {
			return err
		}

		b.Balance += amount
		b.TotalUsed -= amount
		b.UpdatedAt = now
		if err := tx.SetBalance(b); err != nil {
			return err
		}
		out = entry
		applied = true
		return nil
	})
	return out, applied, err
}

// ExpireClient retires the client's expired allocations, draining whatever
// credits remain in them. Returns the total credits expired.
func (s *Service) ExpireClient(ctx context.Context, clientID string) (int64, error) {
	if clientID == "" {
		return 0, ErrInvalidArgument
	}
	if s.mode != ModeCredit {
		return 0, nil
	}

	now := s.clock().UTC()
	var total int64

	err := s.store.Update(ctx, clientID, func(tx Tx) error {
		allocs, err := tx.ActiveAllocations()
		if err != nil {
			return err
		}
		b, ok, err := tx.Balance()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		for _, a := range allocs {
			if !a.Expired(now) {
				continue
			}
			lost := a.RemainingCredits
			a.RemainingCredits = 0
			a.Status = AllocationExpired
			if err := tx.UpdateAllocation(a); err != nil {
				return err
			}
			if lost == 0 {
				continue
			}

			entry := Transaction{
				ID:            uuid.NewString(),
				ClientID:      clientID,
				Type:          TxExpiry,
				Credits:       -lost,
				BalanceBefore: b.Balance,
				BalanceAfter:  b.Balance - lost,
				ReferenceType: "allocation",
				ReferenceID:   a.ID,
				CreatedAt:     now,
			}
			if err := tx.InsertTransaction(entry); err != nil {
				return err
			}
			b.Balance -= lost
			b.TotalExpired += lost
			total += lost
		}

		if total > 0 {
			b.UpdatedAt = now
			return tx.SetBalance(b)
		}
		return nil
	})
	return total, err
}

// SweepExpired expires allocations across all clients that have any.
// Invoked by the scheduled worker.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	if s.mode != ModeCredit {
		return 0, nil
	}
	clients, err := s.store.ClientsWithExpiredAllocations(ctx, s.clock().UTC())
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range clients {
		n, err := s.ExpireClient(ctx, id)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
