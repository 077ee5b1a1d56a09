package rates

import (
	"context"
	"database/sql"

	"messaging-platform/internal/message"
)

// PostgresRepo reads rate rows from destination_rates.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) FindCandidates(ctx context.Context, clientID string, channel message.Channel) ([]Rate, error) {
	const q = `
SELECT id, client_id, gateway_id, channel, prefix, network,
       per_segment_minor, priority, effective_from, effective_to, status, created_at
FROM destination_rates
WHERE channel = $1 AND status = 'active' AND (client_id = '' OR client_id = $2)
`
	rows, err := r.db.QueryContext(ctx, q, channel, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rate
	for rows.Next() {
		var row Rate
		if err := rows.Scan(
			&row.ID, &row.ClientID, &row.GatewayID, &row.Channel, &row.Prefix, &row.Network,
			&row.PerSegmentMinor, &row.Priority, &row.EffectiveFrom, &row.EffectiveTo,
			&row.Status, &row.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
