package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

type OutboxRepositoryPg struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewOutboxRepositoryPg(pool *pgxpool.Pool, logger *slog.Logger) *OutboxRepositoryPg {
	return &OutboxRepositoryPg{pool: pool, logger: logger}
}

func (r *OutboxRepositoryPg) Enqueue(ctx context.Context, tx pgx.Tx, e *domain.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	_, err := pick(r.pool, tx).Exec(ctx, query,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, e.Payload, e.Status)
	if err != nil {
		return fmt.Errorf("enqueueing outbox event %s: %w", e.EventType, err)
	}
	return nil
}

func (r *OutboxRepositoryPg) FetchQueued(ctx context.Context, tx pgx.Tx, limit int) ([]*domain.OutboxEvent, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, created_at, published_at
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	rows, err := pick(r.pool, tx).Query(ctx, query, domain.OutboxQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching queued outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType,
			&e.Payload, &e.Status, &e.CreatedAt, &e.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning outbox event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *OutboxRepositoryPg) MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	query := `UPDATE outbox_events SET status = $2, published_at = NOW() WHERE id = $1`
	if _, err := pick(r.pool, tx).Exec(ctx, query, id, domain.OutboxPublished); err != nil {
		return fmt.Errorf("marking outbox event %s published: %w", id, err)
	}
	return nil
}
