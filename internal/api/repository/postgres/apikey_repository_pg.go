package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAPIKeyNotFound = errors.New("api key not found")

// APIKeyRepositoryPg resolves hashed API keys to users. Keys are stored as
// SHA-256 hex digests; the raw key never touches the database.
type APIKeyRepositoryPg struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewAPIKeyRepositoryPg(pool *pgxpool.Pool, logger *slog.Logger) *APIKeyRepositoryPg {
	return &APIKeyRepositoryPg{pool: pool, logger: logger}
}

func (r *APIKeyRepositoryPg) Validate(ctx context.Context, keyHash string) (uuid.UUID, error) {
	var userID uuid.UUID
	query := `SELECT user_id FROM api_keys WHERE key_hash = $1 AND is_active = TRUE`
	err := r.pool.QueryRow(ctx, query, keyHash).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrAPIKeyNotFound
		}
		return uuid.Nil, fmt.Errorf("validating api key: %w", err)
	}

	// touch last_used_at out of band of request latency
	go func() {
		_, err := r.pool.Exec(context.Background(),
			`UPDATE api_keys SET last_used_at = NOW() WHERE key_hash = $1`, keyHash)
		if err != nil {
			r.logger.Debug("failed to touch api key", "error", err)
		}
	}()
	return userID, nil
}
