package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"messaging-platform/pkg/utils"
)

// PostgresStore persists the ledger in credit_balances, credit_allocations
// and credit_transactions.
//
// Per-client exclusion: Update takes a transaction-scoped advisory lock on
// the client ID before running the callback, so concurrent money operations
// for one client serialize even before a balance row exists.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) GetBalance(ctx context.Context, clientID string) (Balance, bool, error) {
	const q = `
SELECT client_id, balance, total_purchased, total_used, total_expired, updated_at
FROM credit_balances
WHERE client_id = $1
`
	var b Balance
	err := s.db.QueryRowContext(ctx, q, clientID).Scan(
		&b.ClientID, &b.Balance, &b.TotalPurchased, &b.TotalUsed, &b.TotalExpired, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	return b, true, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, clientID string, from, to time.Time) ([]Transaction, error) {
	const q = `
SELECT id, client_id, type, credits, balance_before, balance_after,
       reference_type, reference_id, description, created_at
FROM credit_transactions
WHERE client_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at, id
`
	rows, err := s.db.QueryContext(ctx, q, clientID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.ClientID, &t.Type, &t.Credits, &t.BalanceBefore, &t.BalanceAfter,
			&t.ReferenceType, &t.ReferenceID, &t.Description, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClientsWithExpiredAllocations(ctx context.Context, t time.Time) ([]string, error) {
	const q = `
SELECT DISTINCT client_id
FROM credit_allocations
WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
ORDER BY client_id
`
	rows, err := s.db.QueryContext(ctx, q, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, clientID string, fn func(tx Tx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Serialize money operations per client.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, clientID); err != nil {
			return err
		}
		return fn(&pgTx{ctx: ctx, tx: tx, clientID: clientID})
	})
}

type pgTx struct {
	ctx      context.Context
	tx       *sql.Tx
	clientID string
}

func (t *pgTx) Balance() (Balance, bool, error) {
	const q = `
SELECT client_id, balance, total_purchased, total_used, total_expired, updated_at
FROM credit_balances
WHERE client_id = $1
FOR UPDATE
`
	var b Balance
	err := t.tx.QueryRowContext(t.ctx, q, t.clientID).Scan(
		&b.ClientID, &b.Balance, &b.TotalPurchased, &b.TotalUsed, &b.TotalExpired, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	return b, true, nil
}

func (t *pgTx) SetBalance(b Balance) error {
	const q = `
INSERT INTO credit_balances (client_id, balance, total_purchased, total_used, total_expired, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (client_id)
DO UPDATE SET balance = EXCLUDED.balance,
              total_purchased = EXCLUDED.total_purchased,
              total_used = EXCLUDED.total_used,
              total_expired = EXCLUDED.total_expired,
              updated_at = EXCLUDED.updated_at
`
	_, err := t.tx.ExecContext(t.ctx, q,
		t.clientID, b.Balance, b.TotalPurchased, b.TotalUsed, b.TotalExpired, b.UpdatedAt,
	)
	return err
}

func (t *pgTx) ActiveAllocations() ([]Allocation, error) {
	const q = `
SELECT id, client_id, total_credits, remaining_credits, expires_at, status, source, created_at
FROM credit_allocations
WHERE client_id = $1 AND status = 'active'
ORDER BY expires_at NULLS LAST, created_at
FOR UPDATE
`
	rows, err := t.tx.QueryContext(t.ctx, q, t.clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(
			&a.ID, &a.ClientID, &a.TotalCredits, &a.RemainingCredits,
			&a.ExpiresAt, &a.Status, &a.Source, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertAllocation(a Allocation) error {
	const q = `
INSERT INTO credit_allocations (id, client_id, total_credits, remaining_credits, expires_at, status, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := t.tx.ExecContext(t.ctx, q,
		a.ID, a.ClientID, a.TotalCredits, a.RemainingCredits, a.ExpiresAt, a.Status, a.Source, a.CreatedAt,
	)
	return err
}

func (t *pgTx) UpdateAllocation(a Allocation) error {
	const q = `
UPDATE credit_allocations
SET remaining_credits = $1, status = $2
WHERE id = $3 AND client_id = $4
`
	res, err := t.tx.ExecContext(t.ctx, q, a.RemainingCredits, a.Status, a.ID, t.clientID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertTransaction(e Transaction) error {
	const q = `
INSERT INTO credit_transactions (
  id, client_id, type, credits, balance_before, balance_after,
  reference_type, reference_id, description, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	_, err := t.tx.ExecContext(t.ctx, q,
		e.ID, e.ClientID, e.Type, e.Credits, e.BalanceBefore, e.BalanceAfter,
		e.ReferenceType, e.ReferenceID, e.Description, e.CreatedAt,
	)
	return err
}

func (t *pgTx) FindTransaction(txType TransactionType, refType, refID string) (Transaction, bool, error) {
	const q = `
SELECT id, client_id, type, credits, balance_before, balance_after,
       reference_type, reference_id, description, created_at
FROM credit_transactions
WHERE client_id = $1 AND type = $2 AND reference_type = $3 AND reference_id = $4
LIMIT 1
`
	var e Transaction
	err := t.tx.QueryRowContext(t.ctx, q, t.clientID, txType, refType, refID).Scan(
		&e.ID, &e.ClientID, &e.Type, &e.Credits, &e.BalanceBefore, &e.BalanceAfter,
		&e.ReferenceType, &e.ReferenceID, &e.Description, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return e, true, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
