package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FlashTheFire/NexNum-sub011/internal/health"
)

type pgHealthLogRepository struct {
	db *pgxpool.Pool
}

// NewPgHealthLogRepository creates the PostgreSQL repository for the
// append-only circuit-transition history.
func NewPgHealthLogRepository(db *pgxpool.Pool) health.LogRepository {
	return &pgHealthLogRepository{db: db}
}

func (r *pgHealthLogRepository) Append(ctx context.Context, entry *health.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO provider_health_log (id, provider_name, circuit_state, status, success_rate, avg_latency_ms, error_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		uuid.NewString(), entry.ProviderName, entry.CircuitState, entry.Status,
		entry.SuccessRate, entry.AvgLatencyMs, entry.ErrorCount, entry.CreatedAt,
	)
	return err
}
