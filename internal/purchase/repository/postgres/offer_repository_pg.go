package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

const offerColumns = `id, provider_name, country_code, country_name, service_code, service_name,
	operator, cost_price::text, sell_price::text, stock, is_active, created_at, updated_at`

type OfferRepositoryPg struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewOfferRepositoryPg(pool *pgxpool.Pool, logger *slog.Logger) *OfferRepositoryPg {
	return &OfferRepositoryPg{pool: pool, logger: logger}
}

func scanOffer(row pgx.Row) (*domain.Offer, error) {
	var (
		o        domain.Offer
		costText string
		sellText string
	)
	err := row.Scan(&o.ID, &o.ProviderName, &o.CountryCode, &o.CountryName, &o.ServiceCode,
		&o.ServiceName, &o.Operator, &costText, &sellText, &o.Stock, &o.IsActive,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.CostPrice, err = decimal.NewFromString(costText); err != nil {
		return nil, fmt.Errorf("parsing cost_price %q: %w", costText, err)
	}
	if o.SellPrice, err = decimal.NewFromString(sellText); err != nil {
		return nil, fmt.Errorf("parsing sell_price %q: %w", sellText, err)
	}
	return &o, nil
}

func (r *OfferRepositoryPg) FindAvailable(ctx context.Context, countryCode, serviceCode, preferredProvider string) ([]*domain.Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers
		WHERE country_code = $1 AND service_code = $2 AND is_active = TRUE AND stock > 0`, offerColumns)
	args := []any{countryCode, serviceCode}
	if preferredProvider != "" {
		query += ` AND provider_name = $3`
		args = append(args, preferredProvider)
	}
	query += ` ORDER BY sell_price ASC, provider_name ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying available offers: %w", err)
	}
	defer rows.Close()

	var offers []*domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (r *OfferRepositoryPg) LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers WHERE id = $1 FOR UPDATE`, offerColumns)
	o, err := scanOffer(pick(r.pool, tx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, fmt.Errorf("locking offer %s: %w", id, err)
	}
	return o, nil
}

func (r *OfferRepositoryPg) DecrementStock(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error) {
	var newStock int
	query := `UPDATE offers SET stock = stock - 1, updated_at = NOW()
		WHERE id = $1 AND stock > 0 RETURNING stock`
	err := pick(r.pool, tx).QueryRow(ctx, query, id).Scan(&newStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrOutOfStock
		}
		return 0, fmt.Errorf("decrementing stock for offer %s: %w", id, err)
	}
	return newStock, nil
}

func (r *OfferRepositoryPg) RestoreStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, qty int) error {
	query := `UPDATE offers SET stock = stock + $2, updated_at = NOW() WHERE id = $1`
	if _, err := pick(r.pool, tx).Exec(ctx, query, id, qty); err != nil {
		return fmt.Errorf("restoring stock for offer %s: %w", id, err)
	}
	return nil
}

func (r *OfferRepositoryPg) FindByKey(ctx context.Context, providerName, countryCode, serviceCode, operator string) (*domain.Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers
		WHERE provider_name = $1 AND country_code = $2 AND service_code = $3 AND operator = $4`, offerColumns)
	o, err := scanOffer(r.pool.QueryRow(ctx, query, providerName, countryCode, serviceCode, operator))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, fmt.Errorf("finding offer by key: %w", err)
	}
	return o, nil
}

func (r *OfferRepositoryPg) Upsert(ctx context.Context, o *domain.Offer) error {
	query := `
		INSERT INTO offers (id, provider_name, country_code, country_name, service_code,
			service_name, operator, cost_price, sell_price, stock, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (provider_name, country_code, service_code, operator) DO UPDATE SET
			country_name = EXCLUDED.country_name,
			service_name = EXCLUDED.service_name,
			cost_price   = EXCLUDED.cost_price,
			sell_price   = EXCLUDED.sell_price,
			stock        = EXCLUDED.stock,
			is_active    = EXCLUDED.is_active,
			updated_at   = NOW()`
	_, err := r.pool.Exec(ctx, query,
		o.ID, o.ProviderName, o.CountryCode, o.CountryName, o.ServiceCode, o.ServiceName,
		o.Operator, o.CostPrice.String(), o.SellPrice.String(), o.Stock, o.IsActive)
	if err != nil {
		return fmt.Errorf("upserting offer %s/%s/%s: %w", o.ProviderName, o.CountryCode, o.ServiceCode, err)
	}
	return nil
}
