package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

const numberColumns = `id, user_id, provider_name, activation_id, phone_number, country_code,
	country_name, service_code, service_name, price::text, status, idempotency_key, refunded,
	refund_amount::text, purchased_at, expires_at, created_at, updated_at`

type NumberRepositoryPg struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewNumberRepositoryPg(pool *pgxpool.Pool, logger *slog.Logger) *NumberRepositoryPg {
	return &NumberRepositoryPg{pool: pool, logger: logger}
}

func scanNumber(row pgx.Row) (*domain.Number, error) {
	var (
		n          domain.Number
		priceText  string
		refundText *string
	)
	err := row.Scan(&n.ID, &n.UserID, &n.ProviderName, &n.ActivationID, &n.PhoneNumber,
		&n.CountryCode, &n.CountryName, &n.ServiceCode, &n.ServiceName, &priceText,
		&n.Status, &n.IdempotencyKey, &n.Refunded, &refundText,
		&n.PurchasedAt, &n.ExpiresAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if n.Price, err = decimal.NewFromString(priceText); err != nil {
		return nil, fmt.Errorf("parsing price %q: %w", priceText, err)
	}
	if refundText != nil {
		amt, err := decimal.NewFromString(*refundText)
		if err != nil {
			return nil, fmt.Errorf("parsing refund_amount %q: %w", *refundText, err)
		}
		n.RefundAmount = &amt
	}
	return &n, nil
}

func (r *NumberRepositoryPg) Create(ctx context.Context, tx pgx.Tx, n *domain.Number) error {
	query := `
		INSERT INTO numbers (id, user_id, provider_name, activation_id, phone_number, country_code,
			country_name, service_code, service_name, price, status, idempotency_key, refunded,
			purchased_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, $13, $14, NOW(), NOW())`
	_, err := pick(r.pool, tx).Exec(ctx, query,
		n.ID, n.UserID, n.ProviderName, n.ActivationID, n.PhoneNumber, n.CountryCode,
		n.CountryName, n.ServiceCode, n.ServiceName, n.Price.String(), n.Status,
		n.IdempotencyKey, n.PurchasedAt, n.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateTransaction
		}
		return fmt.Errorf("creating number: %w", err)
	}
	return nil
}

func (r *NumberRepositoryPg) GetByID(ctx context.Context, id uuid.UUID) (*domain.Number, error) {
	query := fmt.Sprintf(`SELECT %s FROM numbers WHERE id = $1`, numberColumns)
	n, err := scanNumber(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNumberNotFound
		}
		return nil, fmt.Errorf("getting number %s: %w", id, err)
	}
	return n, nil
}

func (r *NumberRepositoryPg) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Number, error) {
	query := fmt.Sprintf(`SELECT %s FROM numbers WHERE idempotency_key = $1`, numberColumns)
	n, err := scanNumber(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNumberNotFound
		}
		return nil, fmt.Errorf("getting number by idempotency key: %w", err)
	}
	return n, nil
}

func (r *NumberRepositoryPg) GetByActivationID(ctx context.Context, providerName, activationID string) (*domain.Number, error) {
	query := fmt.Sprintf(`SELECT %s FROM numbers WHERE provider_name = $1 AND activation_id = $2`, numberColumns)
	n, err := scanNumber(r.pool.QueryRow(ctx, query, providerName, activationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNumberNotFound
		}
		return nil, fmt.Errorf("getting number by activation id: %w", err)
	}
	return n, nil
}

func (r *NumberRepositoryPg) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Number, error) {
	query := fmt.Sprintf(`SELECT %s FROM numbers WHERE user_id = $1
		ORDER BY purchased_at DESC LIMIT $2 OFFSET $3`, numberColumns)
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing numbers for user %s: %w", userID, err)
	}
	defer rows.Close()

	var numbers []*domain.Number
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// UpdateStatus transitions a number out of the active state. Terminal rows
// are left untouched and the call reports ErrNumberTerminal.
func (r *NumberRepositoryPg) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.NumberStatus) error {
	query := `UPDATE numbers SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`
	tag, err := pick(r.pool, tx).Exec(ctx, query, id, status, domain.NumberActive)
	if err != nil {
		return fmt.Errorf("updating number %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM numbers WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("checking number %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNumberNotFound
		}
		return domain.ErrNumberTerminal
	}
	return nil
}

func (r *NumberRepositoryPg) MarkRefunded(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal) error {
	query := `UPDATE numbers SET refunded = TRUE, refund_amount = $2, updated_at = NOW()
		WHERE id = $1 AND refunded = FALSE`
	tag, err := pick(r.pool, tx).Exec(ctx, query, id, amount.String())
	if err != nil {
		return fmt.Errorf("marking number %s refunded: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateTransaction
	}
	return nil
}

func (r *NumberRepositoryPg) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*domain.Number, error) {
	query := fmt.Sprintf(`SELECT %s FROM numbers WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC LIMIT $3`, numberColumns)
	rows, err := r.pool.Query(ctx, query, domain.NumberActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired numbers: %w", err)
	}
	defer rows.Close()

	var numbers []*domain.Number
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}
