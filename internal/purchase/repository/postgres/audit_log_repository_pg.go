package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

type AuditLogRepositoryPg struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewAuditLogRepositoryPg(pool *pgxpool.Pool, logger *slog.Logger) *AuditLogRepositoryPg {
	return &AuditLogRepositoryPg{pool: pool, logger: logger}
}

func (r *AuditLogRepositoryPg) Create(ctx context.Context, tx pgx.Tx, e *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_log (id, user_id, action, resource_type, resource_id, metadata, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`
	_, err := pick(r.pool, tx).Exec(ctx, query,
		e.ID, e.UserID, e.Action, e.ResourceType, e.ResourceID, e.Metadata, e.IPAddress)
	if err != nil {
		return fmt.Errorf("creating audit entry %s: %w", e.Action, err)
	}
	return nil
}
