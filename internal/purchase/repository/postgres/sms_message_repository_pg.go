package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

type SmsMessageRepositoryPg struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewSmsMessageRepositoryPg(pool *pgxpool.Pool, logger *slog.Logger) *SmsMessageRepositoryPg {
	return &SmsMessageRepositoryPg{pool: pool, logger: logger}
}

// Create inserts one message. The unique index on (number_id, dedup_key)
// absorbs concurrent deliveries of the same SMS; a conflicting insert is
// reported as ErrDuplicateSms without writing anything.
func (r *SmsMessageRepositoryPg) Create(ctx context.Context, m *domain.SmsMessage) error {
	query := `
		INSERT INTO sms_messages (id, number_id, code, content, dedup_key, ordinal, received_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (number_id, dedup_key) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, m.ID, m.NumberID, m.Code, m.Content, m.DedupKey, m.Ordinal, m.ReceivedAt)
	if err != nil {
		return fmt.Errorf("creating sms message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateSms
	}
	return nil
}

func (r *SmsMessageRepositoryPg) ListByNumber(ctx context.Context, numberID uuid.UUID) ([]*domain.SmsMessage, error) {
	query := `
		SELECT id, number_id, code, content, dedup_key, ordinal, received_at, created_at
		FROM sms_messages WHERE number_id = $1 ORDER BY ordinal ASC`
	rows, err := r.pool.Query(ctx, query, numberID)
	if err != nil {
		return nil, fmt.Errorf("listing sms messages for number %s: %w", numberID, err)
	}
	defer rows.Close()

	var messages []*domain.SmsMessage
	for rows.Next() {
		var m domain.SmsMessage
		err := rows.Scan(&m.ID, &m.NumberID, &m.Code, &m.Content, &m.DedupKey, &m.Ordinal, &m.ReceivedAt, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning sms message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
