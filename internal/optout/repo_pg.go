package optout

import (
	"context"
	"database/sql"

	"messaging-platform/internal/message"
)

// PostgresRepo persists opt-out entries in the opt_outs table.
// Idempotency relies on UNIQUE (client_id, channel, address).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Exists(ctx context.Context, clientID string, channel message.Channel, address string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM opt_outs
  WHERE channel = $1 AND address = $2 AND (client_id = '' OR client_id = $3)
)
`
	var out bool
	if err := r.db.QueryRowContext(ctx, q, channel, address, clientID).Scan(&out); err != nil {
		return false, err
	}
	return out, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, e Entry) (bool, error) {
	const q = `
INSERT INTO opt_outs (id, client_id, channel, address, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (client_id, channel, address) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q, e.ID, e.ClientID, e.Channel, e.Address, e.Source, e.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
