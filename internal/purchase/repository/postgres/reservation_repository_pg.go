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

type ReservationRepositoryPg struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewReservationRepositoryPg(pool *pgxpool.Pool, logger *slog.Logger) *ReservationRepositoryPg {
	return &ReservationRepositoryPg{pool: pool, logger: logger}
}

func (r *ReservationRepositoryPg) Create(ctx context.Context, tx pgx.Tx, res *domain.OfferReservation) error {
	query := `
		INSERT INTO offer_reservations (id, offer_id, user_id, quantity, status, idempotency_key, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`
	_, err := pick(r.pool, tx).Exec(ctx, query,
		res.ID, res.OfferID, res.UserID, res.Quantity, res.Status, res.IdempotencyKey, res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("creating reservation: %w", err)
	}
	return nil
}

func (r *ReservationRepositoryPg) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.ReservationStatus) error {
	query := `UPDATE offer_reservations SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := pick(r.pool, tx).Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("updating reservation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (r *ReservationRepositoryPg) FindExpiredPending(ctx context.Context, tx pgx.Tx, limit int) ([]*domain.OfferReservation, error) {
	query := `
		SELECT id, offer_id, user_id, quantity, status, idempotency_key, expires_at, created_at, updated_at
		FROM offer_reservations
		WHERE status = $1 AND expires_at < NOW()
		ORDER BY expires_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	rows, err := pick(r.pool, tx).Query(ctx, query, domain.ReservationPending, limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.OfferReservation
	for rows.Next() {
		var res domain.OfferReservation
		err := rows.Scan(&res.ID, &res.OfferID, &res.UserID, &res.Quantity, &res.Status,
			&res.IdempotencyKey, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}
