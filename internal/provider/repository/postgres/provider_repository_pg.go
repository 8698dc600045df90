package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/FlashTheFire/NexNum-sub011/internal/provider/domain"
)

type pgProviderRepository struct {
	db *pgxpool.Pool
}

// NewPgProviderRepository creates the PostgreSQL ProviderRepository.
func NewPgProviderRepository(db *pgxpool.Pool) domain.ProviderRepository {
	return &pgProviderRepository{db: db}
}

const providerColumns = `
	id, name, display_name, base_url, auth_mode, auth_secret,
	COALESCE(auth_header_name, ''), COALESCE(auth_query_key, ''), provider_type,
	endpoints, mappings, priority, price_multiplier::text, price_markup::text,
	is_active, created_at, updated_at`

func (r *pgProviderRepository) GetByName(ctx context.Context, name string) (*domain.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE name = $1`
	p, err := scanProvider(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProviderNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *pgProviderRepository) ListActive(ctx context.Context) ([]*domain.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE is_active ORDER BY priority DESC, name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []*domain.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return providers, nil
}

func scanProvider(row pgx.Row) (*domain.Provider, error) {
	p := &domain.Provider{}
	var endpointsJSON, mappingsJSON []byte
	var multiplier, markup string

	err := row.Scan(
		&p.ID, &p.Name, &p.DisplayName, &p.BaseURL, &p.AuthMode, &p.AuthSecret,
		&p.AuthHeaderName, &p.AuthQueryKey, &p.Type,
		&endpointsJSON, &mappingsJSON, &p.Priority, &multiplier, &markup,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(endpointsJSON, &p.Endpoints); err != nil {
		return nil, fmt.Errorf("provider %s has malformed endpoints config: %w", p.Name, err)
	}
	if err := json.Unmarshal(mappingsJSON, &p.Mappings); err != nil {
		return nil, fmt.Errorf("provider %s has malformed mappings config: %w", p.Name, err)
	}
	for op, spec := range p.Mappings {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("provider %s mapping for %s: %w", p.Name, op, err)
		}
	}

	if p.PriceMultiplier, err = decimal.NewFromString(multiplier); err != nil {
		return nil, fmt.Errorf("provider %s has malformed price multiplier: %w", p.Name, err)
	}
	if p.PriceMarkup, err = decimal.NewFromString(markup); err != nil {
		return nil, fmt.Errorf("provider %s has malformed price markup: %w", p.Name, err)
	}
	return p, nil
}
