package rates

import (
	"context"

	"messaging-platform/internal/message"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development. Not intended for production.
type MemoryRepo struct {
	Rows []Rate
}

func (r *MemoryRepo) FindCandidates(ctx context.Context, clientID string, channel message.Channel) ([]Rate, error) {
	_ = ctx
	var out []Rate
	for _, row := range r.Rows {
		if row.Channel != channel {
			continue
		}
		if row.ClientID != "" && row.ClientID != clientID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}
