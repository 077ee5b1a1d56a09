package senderid

import (
	"context"
	"database/sql"
	"errors"

	"messaging-platform/internal/message"
)

// PostgresRepo reads sender-ID assignments from sender_id_assignments.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) FindActiveByAddress(ctx context.Context, channel message.Channel, address string) (Assignment, bool, error) {
	const q = `
SELECT id, client_id, channel, value, active, created_at
FROM sender_id_assignments
WHERE channel = $1 AND value = $2 AND active = true
LIMIT 1
`
	var a Assignment
	err := r.db.QueryRowContext(ctx, q, channel, address).Scan(
		&a.ID, &a.ClientID, &a.Channel, &a.Value, &a.Active, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, false, nil
	}
	if err != nil {
		return Assignment{}, false, err
	}
	return a, true, nil
}
