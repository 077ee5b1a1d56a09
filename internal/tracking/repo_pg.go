package tracking

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo stores links and clicks in tracked_links / link_clicks.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, l Link) error {
	const q = `
INSERT INTO tracked_links (id, client_id, message_id, code, target_url, clicks, created_at)
VALUES ($1,$2,$3,$4,$5,0,$6)
`
	_, err := r.db.ExecContext(ctx, q, l.ID, l.ClientID, l.MessageID, l.Code, l.TargetURL, l.CreatedAt)
	return err
}

func (r *PostgresRepo) GetByCode(ctx context.Context, code string) (Link, error) {
	const q = `
SELECT id, client_id, message_id, code, target_url, clicks, created_at
FROM tracked_links WHERE code = $1
`
	var l Link
	err := r.db.QueryRowContext(ctx, q, code).Scan(
		&l.ID, &l.ClientID, &l.MessageID, &l.Code, &l.TargetURL, &l.Clicks, &l.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, ErrLinkNotFound
	}
	return l, err
}

func (r *PostgresRepo) RecordClick(ctx context.Context, c Click) error {
	const insert = `
INSERT INTO link_clicks (id, link_id, user_agent, ip, created_at)
VALUES ($1,$2,$3,$4,$5)
`
	if _, err := r.db.ExecContext(ctx, insert, c.ID, c.LinkID, c.UserAgent, c.IP, c.CreatedAt); err != nil {
		return err
	}
	const bump = `UPDATE tracked_links SET clicks = clicks + 1 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, bump, c.LinkID)
	return err
}

func (r *PostgresRepo) ListByMessage(ctx context.Context, messageID string) ([]Link, error) {
	const q = `
SELECT id, client_id, message_id, code, target_url, clicks, created_at
FROM tracked_links WHERE message_id = $1 ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.ClientID, &l.MessageID, &l.Code, &l.TargetURL, &l.Clicks, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
