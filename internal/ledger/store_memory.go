package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests.
// Update serializes all callers on one mutex, which satisfies the per-client
// exclusion contract (coarsely).
type MemoryStore struct {
	mu           sync.Mutex
	balances     map[string]Balance
	allocations  map[string][]Allocation
	transactions map[string][]Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:     make(map[string]Balance),
		allocations:  make(map[string][]Allocation),
		transactions: make(map[string][]Transaction),
	}
}

func (s *MemoryStore) GetBalance(ctx context.Context, clientID string) (Balance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[clientID]
	return b, ok, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, clientID string, from, to time.Time) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, t := range s.transactions[clientID] {
		if !from.IsZero() && t.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !t.CreatedAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) ClientsWithExpiredAllocations(ctx context.Context, t time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for clientID, allocs := range s.allocations {
		for _, a := range allocs {
			if a.Status == AllocationActive && a.Expired(t) {
				out = append(out, clientID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, clientID string, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage on copies; commit only when fn succeeds.
	tx := &memoryTx{store: s, clientID: clientID}
	if b, ok := s.balances[clientID]; ok {
		tx.balance, tx.hasBalance = b, true
	}
	tx.allocations = append(tx.allocations, s.allocations[clientID]...)
	tx.transactions = append(tx.transactions, s.transactions[clientID]...)

	if err := fn(tx); err != nil {
		return err
	}

	if tx.hasBalance {
		s.balances[clientID] = tx.balance
	}
	s.allocations[clientID] = tx.allocations
	s.transactions[clientID] = tx.transactions
	return nil
}

type memoryTx struct {
	store    *MemoryStore
	clientID string

	balance      Balance
	hasBalance   bool
	allocations  []Allocation
	transactions []Transaction
}

func (t *memoryTx) Balance() (Balance, bool, error) {
	return t.balance, t.hasBalance, nil
}

func (t *memoryTx) SetBalance(b Balance) error {
	b.ClientID = t.clientID
	t.balance = b
	t.hasBalance = true
	return nil
}

func (t *memoryTx) ActiveAllocations() ([]Allocation, error) {
	var out []Allocation
	for _, a := range t.allocations {
		if a.Status == AllocationActive {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i], out[j]
		switch {
		case ai.ExpiresAt == nil && aj.ExpiresAt == nil:
			return ai.CreatedAt.Before(aj.CreatedAt)
		case ai.ExpiresAt == nil:
			return false
		case aj.ExpiresAt == nil:
			return true
		case ai.ExpiresAt.Equal(*aj.ExpiresAt):
			return ai.CreatedAt.Before(aj.CreatedAt)
		default:
			return ai.ExpiresAt.Before(*aj.ExpiresAt)
		}
	})
	return out, nil
}

func (t *memoryTx) InsertAllocation(a Allocation) error {
	t.allocations = append(t.allocations, a)
	return nil
}

func (t *memoryTx) UpdateAllocation(a Allocation) error {
	for i := range t.allocations {
		if t.allocations[i].ID == a.ID {
			t.allocations[i] = a
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) InsertTransaction(e Transaction) error {
	t.transactions = append(t.transactions, e)
	return nil
}

func (t *memoryTx) FindTransaction(txType TransactionType, refType, refID string) (Transaction, bool, error) {
	for _, e := range t.transactions {
		if e.Type == txType && e.ReferenceType == refType && e.ReferenceID == refID {
			return e, true, nil
		}
	}
	return Transaction{}, false, nil
}

// Allocations returns the client's allocations, for assertions.
func (s *MemoryStore) Allocations(clientID string) []Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Allocation, len(s.allocations[clientID]))
	copy(out, s.allocations[clientID])
	return out
}
