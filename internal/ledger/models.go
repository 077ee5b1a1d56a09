package ledger

import "time"

// Amounts are expressed in credit minor units using int64.

// BillingMode selects how sends are paid for.
type BillingMode string

const (
	// ModeCredit consumes prepaid credit allocations FIFO by expiry.
	ModeCredit BillingMode = "credit"
	// ModeWallet debits a single balance with no allocation bookkeeping.
	ModeWallet BillingMode = "wallet"
)

// AllocationStatus is the lifecycle state of one funding batch.
type AllocationStatus string

const (
	AllocationActive    AllocationStatus = "active"
	AllocationDepleted  AllocationStatus = "depleted"
	AllocationExpired   AllocationStatus = "expired"
	AllocationCancelled AllocationStatus = "cancelled"
)

// Allocation is one funding event (purchase, renewal, admin add, refund).
// Active allocations for a client form a FIFO queue ordered by expiry then
// creation.
type Allocation struct {
	ID               string           `json:"id" db:"id"`
	ClientID         string           `json:"client_id" db:"client_id"`
	TotalCredits     int64            `json:"total_credits" db:"total_credits"`
	RemainingCredits int64            `json:"remaining_credits" db:"remaining_credits"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty" db:"expires_at"`
	Status           AllocationStatus `json:"status" db:"status"`
	Source           string           `json:"source" db:"source"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// Expired reports whether the allocation's window has passed at t.
func (a Allocation) Expired(t time.Time) bool {
	return a.ExpiresAt != nil && !t.Before(*a.ExpiresAt)
}

// Balance is the fast-path projection row, one per client.
// Mutated only through ledger operations.
//
// Invariant: for clients in credit mode,
// sum(RemainingCredits over active allocations) == Balance at rest.
type Balance struct {
	ClientID       string    `json:"client_id" db:"client_id"`
	Balance        int64     `json:"balance" db:"balance"`
	TotalPurchased int64     `json:"total_purchased" db:"total_purchased"`
	TotalUsed      int64     `json:"total_used" db:"total_used"`
	TotalExpired   int64     `json:"total_expired" db:"total_expired"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TxTopUp  TransactionType = "topup"
	TxUsage  TransactionType = "usage"
	TxRefund TransactionType = "refund"
	TxExpiry TransactionType = "expiry"
)

// Transaction is one append-only audit row. Replaying all transactions for a
// client in order must reproduce the current balance exactly.
type Transaction struct {
	ID       string          `json:"id" db:"id"`
	ClientID string          `json:"client_id" db:"client_id"`
	Type     TransactionType `json:"type" db:"type"`

	// Credits is signed: positive for top-up/refund, negative for
	// usage/expiry.
	Credits int64 `json:"credits" db:"credits"`

	BalanceBefore int64 `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64 `json:"balance_after" db:"balance_after"`

	// ReferenceType/ReferenceID tie the entry to its trigger
	// (e.g. "message"/<message id>, "order"/<order id>).
	ReferenceType string `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID   string `json:"reference_id,omitempty" db:"reference_id"`

	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ReferenceMessage is the ReferenceType used for send debits and refunds.
const ReferenceMessage = "message"
