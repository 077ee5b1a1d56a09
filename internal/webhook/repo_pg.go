package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

// PostgresInbox persists inbox entries in the webhook_inbox table.
// Headers are stored as JSONB.
type PostgresInbox struct {
	db *sql.DB
}

func NewPostgresInbox(db *sql.DB) *PostgresInbox { return &PostgresInbox{db: db} }

func (r *PostgresInbox) Insert(ctx context.Context, e InboxEntry) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO webhook_inbox (
  id, gateway_id, gateway_type, request_url, headers, content_type,
  raw_payload, received_at, processed, kind, error, attempts
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,'','',0)
`
	_, err = r.db.ExecContext(ctx, q,
		e.ID, e.GatewayID, e.GatewayType, e.RequestURL, headers, e.ContentType,
		e.RawPayload, e.ReceivedAt,
	)
	return err
}

// Claim is a conditional update: it only succeeds while the entry is
// unprocessed and no claim younger than staleAfter holds it, which makes
// it safe for the inline HTTP path and the retry worker to race.
func (r *PostgresInbox) Claim(ctx context.Context, id string, at time.Time, staleAfter time.Duration) (bool, error) {
	const q = `
UPDATE webhook_inbox
SET claimed_at = $2
WHERE id = $1 AND processed = false AND (claimed_at IS NULL OR claimed_at < $3)
`
	res, err := r.db.ExecContext(ctx, q, id, at, at.Add(-staleAfter))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresInbox) MarkProcessed(ctx context.Context, id string, kind Kind, at time.Time) error {
	const q = `
UPDATE webhook_inbox
SET processed = true, processed_at = $1, kind = $2, error = ''
WHERE id = $3
`
	res, err := r.db.ExecContext(ctx, q, at, kind, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *PostgresInbox) MarkError(ctx context.Context, id, errMsg string) error {
	const q = `UPDATE webhook_inbox SET error = $1, attempts = attempts + 1, claimed_at = NULL WHERE id = $2`
	res, err := r.db.ExecContext(ctx, q, errMsg, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *PostgresInbox) ListUnprocessed(ctx context.Context, limit, maxAttempts int) ([]InboxEntry, error) {
	const q = `
SELECT id, gateway_id, gateway_type, request_url, headers, content_type,
       raw_payload, received_at, processed, processed_at, kind, error, attempts
FROM webhook_inbox
WHERE processed = false AND ($2 <= 0 OR attempts < $2)
ORDER BY received_at
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InboxEntry
	for rows.Next() {
		var e InboxEntry
		var headers []byte
		if err := rows.Scan(
			&e.ID, &e.GatewayID, &e.GatewayType, &e.RequestURL, &headers, &e.ContentType,
			&e.RawPayload, &e.ReceivedAt, &e.Processed, &e.ProcessedAt, &e.Kind, &e.Error, &e.Attempts,
		); err != nil {
			return nil, err
		}
		if len(headers) > 0 {
			e.Headers = http.Header{}
			if err := json.Unmarshal(headers, &e.Headers); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
