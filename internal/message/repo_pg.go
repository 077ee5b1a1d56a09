package message

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// PostgresRepo persists messages in the messages table.
//
// Status transitions are enforced in SQL: updates carry a WHERE clause
// listing the statuses the transition is legal from, so a concurrent or
// replayed update against a terminal row affects zero rows and surfaces as
// ErrInvalidTransition.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const messageColumns = `
id, client_id, campaign_id, gateway_id, channel, direction, sender_id,
to_address, from_address, body, media_ref, encoding, segments, cost_minor,
status, provider_message_id, error, created_at, updated_at, sent_at, delivered_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.ClientID,
		&m.CampaignID,
		&m.GatewayID,
		&m.Channel,
		&m.Direction,
		&m.SenderID,
		&m.To,
		&m.From,
		&m.Body,
		&m.MediaRef,
		&m.Encoding,
		&m.Segments,
		&m.CostMinor,
		&m.Status,
		&m.ProviderMessageID,
		&m.Error,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.SentAt,
		&m.DeliveredAt,
	)
	return m, err
}

func (r *PostgresRepo) Insert(ctx context.Context, m Message) error {
	const q = `
INSERT INTO messages (` + messageColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
`
	_, err := r.db.ExecContext(ctx, q,
		m.ID, m.ClientID, m.CampaignID, m.GatewayID, m.Channel, m.Direction,
		m.SenderID, m.To, m.From, m.Body, m.MediaRef, m.Encoding, m.Segments,
		m.CostMinor, m.Status, m.ProviderMessageID, m.Error,
		m.CreatedAt, m.UpdatedAt, m.SentAt, m.DeliveredAt,
	)
	return err
}

// InsertInbound relies on the partial unique index on
// (gateway_id, provider_message_id) over non-empty inbound rows, so the
// duplicate decision is made by the database, not by a prior read.
func (r *PostgresRepo) InsertInbound(ctx context.Context, m Message) (bool, error) {
	const q = `
INSERT INTO messages (` + messageColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
ON CONFLICT (gateway_id, provider_message_id)
  WHERE direction = 'inbound' AND provider_message_id <> ''
  DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		m.ID, m.ClientID, m.CampaignID, m.GatewayID, m.Channel, m.Direction,
		m.SenderID, m.To, m.From, m.Body, m.MediaRef, m.Encoding, m.Segments,
		m.CostMinor, m.Status, m.ProviderMessageID, m.Error,
		m.CreatedAt, m.UpdatedAt, m.SentAt, m.DeliveredAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Message, error) {
	const q = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessage(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (r *PostgresRepo) GetByProviderID(ctx context.Context, gatewayID, providerMessageID string) (Message, error) {
	const q = `
SELECT ` + messageColumns + `
FROM messages
WHERE gateway_id = $1 AND provider_message_id = $2 AND direction = 'outbound'
LIMIT 1
`
	m, err := scanMessage(r.db.QueryRowContext(ctx, q, gatewayID, providerMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (r *PostgresRepo) FindInboundByProviderID(ctx context.Context, gatewayID, providerMessageID string) (Message, bool, error) {
	if providerMessageID == "" {
		return Message{}, false, nil
	}
	const q = `
SELECT ` + messageColumns + `
FROM messages
WHERE gateway_id = $1 AND provider_message_id = $2 AND direction = 'inbound'
LIMIT 1
`
	m, err := scanMessage(r.db.QueryRowContext(ctx, q, gatewayID, providerMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return m, true, nil
}

// legalFrom lists the statuses a transition to `to` is allowed from.
func legalFrom(to Status) []string {
	var out []string
	for _, s := range []Status{StatusQueued, StatusSending, StatusSent} {
		if CanTransition(s, to) {
			out = append(out, string(s))
		}
	}
	return out
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, to Status, errMsg string, at time.Time) error {
	from := legalFrom(to)
	if len(from) == 0 {
		return ErrInvalidTransition
	}

	q := `
UPDATE messages
SET status = $1,
    error = CASE WHEN $2 <> '' THEN $2 ELSE error END,
    delivered_at = CASE WHEN $1 = 'delivered' THEN $3 ELSE delivered_at END,
    updated_at = $3
WHERE id = $4 AND status IN ('` + strings.Join(from, "','") + `')
`
	res, err := r.db.ExecContext(ctx, q, to, errMsg, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either missing or an illegal transition; disambiguate for callers.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepo) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	const q = `
UPDATE messages
SET status = 'sent', provider_message_id = $1, sent_at = $2, updated_at = $2
WHERE id = $3 AND status IN ('queued','sending')
`
	res, err := r.db.ExecContext(ctx, q, providerMessageID, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepo) ClaimQueued(ctx context.Context, limit int, at time.Time) ([]Message, error) {
	// SKIP LOCKED keeps concurrent claimers from blocking on each other's
	// candidate rows.
	const q = `
UPDATE messages
SET status = 'sending', updated_at = $1
WHERE id IN (
  SELECT id FROM messages
  WHERE status = 'queued' AND direction = 'outbound'
  ORDER BY created_at
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
RETURNING ` + messageColumns

	rows, err := r.db.QueryContext(ctx, q, at, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Requeue(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE messages
SET status = 'queued', updated_at = $1
WHERE id = $2 AND status = 'sending'
`
	res, err := r.db.ExecContext(ctx, q, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepo) IncrementCampaignFailed(ctx context.Context, campaignID string) error {
	const q = `UPDATE campaigns SET failed_count = failed_count + 1, updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, campaignID)
	return err
}

func (r *PostgresRepo) ListByClient(ctx context.Context, clientID string, from, to time.Time, campaignID string) ([]Message, error) {
	const q = `
SELECT ` + messageColumns + `
FROM messages
WHERE client_id = $1
  AND created_at >= $2 AND created_at < $3
  AND ($4 = '' OR campaign_id = $4)
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, clientID, from, to, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
