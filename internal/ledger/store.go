package ledger

import (
	"context"
	"time"
)

// Store is the persistence contract for the ledger.
//
// Update runs fn with per-client mutual exclusion: no two Update calls for
// the same client may interleave (row lock in Postgres, mutex in memory).
// All reads and writes inside fn are part of one logical transaction; if fn
// returns an error nothing is persisted.
type Store interface {
	GetBalance(ctx context.Context, clientID string) (Balance, bool, error)

	ListTransactions(ctx context.Context, clientID string, from, to time.Time) ([]Transaction, error)

	// ClientsWithExpiredAllocations returns clients that have active
	// allocations past their expiry at t. Used by the sweep task.
	ClientsWithExpiredAllocations(ctx context.Context, t time.Time) ([]string, error)

	Update(ctx context.Context, clientID string, fn func(tx Tx) error) error
}

// Tx is the unit-of-work view handed to Store.Update callbacks.
type Tx interface {
	Balance() (Balance, bool, error)
	SetBalance(b Balance) error

	// ActiveAllocations returns the client's active allocations in FIFO
	// consumption order: soonest expiry first, then oldest creation;
	// never-expiring allocations come last.
	ActiveAllocations() ([]Allocation, error)
	InsertAllocation(a Allocation) error
	UpdateAllocation(a Allocation) error

	InsertTransaction(t Transaction) error

	// FindTransaction locates an entry by type and reference, used for
	// refund idempotency checks.
	FindTransaction(txType TransactionType, refType, refID string) (Transaction, bool, error)
}
