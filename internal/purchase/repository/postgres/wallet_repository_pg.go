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

// WalletRepositoryPg keeps one balance row per user in wallet_accounts plus
// an append-only wallet_transactions ledger. The unique index on
// wallet_transactions.idempotency_key makes Debit and Refund at-most-once.
type WalletRepositoryPg struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWalletRepositoryPg(pool *pgxpool.Pool, logger *slog.Logger) *WalletRepositoryPg {
	return &WalletRepositoryPg{pool: pool, logger: logger}
}

func (r *WalletRepositoryPg) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return r.balance(ctx, r.pool, userID)
}

func (r *WalletRepositoryPg) balance(ctx context.Context, q querier, userID uuid.UUID) (decimal.Decimal, error) {
	var balanceText string
	query := `SELECT balance::text FROM wallet_accounts WHERE user_id = $1`
	err := q.QueryRow(ctx, query, userID).Scan(&balanceText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("getting balance for user %s: %w", userID, err)
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing balance %q: %w", balanceText, err)
	}
	return balance, nil
}

func (r *WalletRepositoryPg) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, reason, idempotencyKey string) error {
	q := pick(r.pool, tx)

	update := `UPDATE wallet_accounts SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2`
	tag, err := q.Exec(ctx, update, userID, amount.String())
	if err != nil {
		return fmt.Errorf("debiting user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		balance, err := r.balance(ctx, q, userID)
		if err != nil {
			return err
		}
		return &domain.InsufficientBalanceError{Required: amount, Available: balance}
	}

	insert := `
		INSERT INTO wallet_transactions (id, user_id, amount, type, reason, idempotency_key, created_at)
		VALUES ($1, $2, $3, 'debit', $4, $5, NOW())`
	_, err = q.Exec(ctx, insert, uuid.New(), userID, amount.Neg().String(), reason, idempotencyKey)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateTransaction
		}
		return fmt.Errorf("recording debit for user %s: %w", userID, err)
	}
	return nil
}

func (r *WalletRepositoryPg) Refund(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, referenceID, reason, idempotencyKey string) error {
	q := pick(r.pool, tx)

	insert := `
		INSERT INTO wallet_transactions (id, user_id, amount, type, reason, reference_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, 'refund', $4, $5, $6, NOW())`
	_, err := q.Exec(ctx, insert, uuid.New(), userID, amount.String(), reason, referenceID, idempotencyKey)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateTransaction
		}
		return fmt.Errorf("recording refund for user %s: %w", userID, err)
	}

	update := `
		INSERT INTO wallet_accounts (user_id, balance, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			balance = wallet_accounts.balance + EXCLUDED.balance, updated_at = NOW()`
	if _, err := q.Exec(ctx, update, userID, amount.String()); err != nil {
		return fmt.Errorf("crediting user %s: %w", userID, err)
	}
	return nil
}
