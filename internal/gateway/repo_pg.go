package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"messaging-platform/internal/message"
)

// PostgresRepo stores gateway rows in the gateways table. Credentials are
// kept as a JSONB column.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const gatewayColumns = `
id, name, type, channel, credentials, quota_value, quota_unit,
webhook_token, timeout_seconds, balance, is_default, active,
created_at, updated_at`

func scanGateway(row interface{ Scan(...any) error }) (Gateway, error) {
	var gw Gateway
	var creds []byte
	err := row.Scan(
		&gw.ID, &gw.Name, &gw.Type, &gw.Channel, &creds, &gw.QuotaValue, &gw.QuotaUnit,
		&gw.WebhookToken, &gw.TimeoutSeconds, &gw.Balance, &gw.IsDefault, &gw.Active,
		&gw.CreatedAt, &gw.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Gateway{}, ErrGatewayNotFound
	}
	if err != nil {
		return Gateway{}, err
	}
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &gw.Credentials); err != nil {
			return Gateway{}, err
		}
	}
	return gw, nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Gateway, error) {
	return scanGateway(r.db.QueryRowContext(ctx,
		`SELECT `+gatewayColumns+` FROM gateways WHERE id = $1`, id))
}

func (r *PostgresRepo) FindDefaultForChannel(ctx context.Context, ch message.Channel) (Gateway, error) {
	return scanGateway(r.db.QueryRowContext(ctx, `
SELECT `+gatewayColumns+`
FROM gateways
WHERE channel = $1 AND active = true
ORDER BY is_default DESC, created_at ASC
LIMIT 1`, ch))
}

func (r *PostgresRepo) FindByType(ctx context.Context, t Type) (Gateway, error) {
	return scanGateway(r.db.QueryRowContext(ctx, `
SELECT `+gatewayColumns+`
FROM gateways
WHERE type = $1 AND active = true
ORDER BY is_default DESC, created_at ASC
LIMIT 1`, t))
}

func (r *PostgresRepo) ListActive(ctx context.Context) ([]Gateway, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gatewayColumns+` FROM gateways WHERE active = true ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Gateway
	for rows.Next() {
		gw, err := scanGateway(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gw)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateBalance(ctx context.Context, id string, balance float64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE gateways SET balance = $2, updated_at = $3 WHERE id = $1`, id, balance, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGatewayNotFound
	}
	return nil
}
