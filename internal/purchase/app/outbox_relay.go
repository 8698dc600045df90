package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/FlashTheFire/NexNum-sub011/internal/platform/messagebroker"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

// OutboxRelay drains queued outbox events to the message broker. Events are
// locked with SKIP LOCKED, so multiple relay instances can run side by side.
type OutboxRelay struct {
	outbox    domain.OutboxRepository
	publisher messagebroker.Publisher
	tx        TxRunner
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewOutboxRelay(outbox domain.OutboxRepository, publisher messagebroker.Publisher, tx TxRunner, interval time.Duration, logger *slog.Logger) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		tx:        tx,
		interval:  interval,
		batchSize: 50,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.DrainOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce publishes one batch. An event whose publish fails stays queued
// and is retried on the next pass.
func (r *OutboxRelay) DrainOnce(ctx context.Context) error {
	return r.tx.InTx(ctx, func(tx pgx.Tx) error {
		events, err := r.outbox.FetchQueued(ctx, tx, r.batchSize)
		if err != nil {
			return err
		}
		for _, e := range events {
			subject := fmt.Sprintf("events.%s.%s", e.AggregateType, e.EventType)
			if err := r.publisher.Publish(ctx, subject, e.Payload); err != nil {
				r.logger.WarnContext(ctx, "outbox publish failed",
					"event_id", e.ID, "subject", subject, "error", err)
				continue
			}
			if err := r.outbox.MarkPublished(ctx, tx, e.ID); err != nil {
				return err
			}
			outboxPublished.Inc()
		}
		return nil
	})
}
