package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

// LifecycleService runs the periodic reconciliation sweeps: expiring numbers
// whose lifetime elapsed without a code, and cancelling reservations that a
// crashed purchase left PENDING.
type LifecycleService struct {
	offers       domain.OfferRepository
	reservations domain.ReservationRepository
	numbers      domain.NumberRepository
	sms          domain.SmsMessageRepository
	wallet       domain.WalletLedger
	vendors      VendorFactory
	tx           TxRunner
	interval     time.Duration
	batchSize    int
	logger       *slog.Logger
}

func NewLifecycleService(
	offers domain.OfferRepository,
	reservations domain.ReservationRepository,
	numbers domain.NumberRepository,
	sms domain.SmsMessageRepository,
	wallet domain.WalletLedger,
	vendors VendorFactory,
	tx TxRunner,
	interval time.Duration,
	logger *slog.Logger,
) *LifecycleService {
	return &LifecycleService{
		offers:       offers,
		reservations: reservations,
		numbers:      numbers,
		sms:          sms,
		wallet:       wallet,
		vendors:      vendors,
		tx:           tx,
		interval:     interval,
		batchSize:    100,
		logger:       logger,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *LifecycleService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.ExpireNumbers(ctx); err != nil {
				s.logger.ErrorContext(ctx, "number expiry sweep failed", "error", err)
			}
			if err := s.SweepReservations(ctx); err != nil {
				s.logger.ErrorContext(ctx, "reservation sweep failed", "error", err)
			}
		}
	}
}

// ExpireNumbers moves overdue active numbers to expired, refunding ones that
// never received a message.
func (s *LifecycleService) ExpireNumbers(ctx context.Context) error {
	stale, err := s.numbers.FindExpiredActive(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		return fmt.Errorf("finding expired numbers: %w", err)
	}
	for _, n := range stale {
		if err := s.expireOne(ctx, n); err != nil {
			s.logger.WarnContext(ctx, "failed to expire number", "number_id", n.ID, "error", err)
		}
	}
	return nil
}

func (s *LifecycleService) expireOne(ctx context.Context, n *domain.Number) error {
	if vendor, err := s.vendors.ForProvider(ctx, n.ProviderName); err == nil {
		if err := vendor.SetCancel(ctx, n.ActivationID); err != nil {
			s.logger.DebugContext(ctx, "provider cancel on expiry failed",
				"number_id", n.ID, "error", err)
		}
	}

	messages, err := s.sms.ListByNumber(ctx, n.ID)
	if err != nil {
		return err
	}
	refund := len(messages) == 0

	return s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.numbers.UpdateStatus(ctx, tx, n.ID, domain.NumberExpired); err != nil {
			return err
		}
		if !refund {
			return nil
		}
		if err := s.wallet.Refund(ctx, tx, n.UserID, n.Price, n.ID.String(),
			"number expired unused", "refund:"+n.ID.String()); err != nil {
			return err
		}
		return s.numbers.MarkRefunded(ctx, tx, n.ID, n.Price)
	})
}

// SweepReservations cancels PENDING reservations past their TTL and returns
// their stock. These rows only exist when a purchase crashed between commit
// points, so the sweep is a safety net rather than a hot path.
func (s *LifecycleService) SweepReservations(ctx context.Context) error {
	return s.tx.InTx(ctx, func(tx pgx.Tx) error {
		expired, err := s.reservations.FindExpiredPending(ctx, tx, s.batchSize)
		if err != nil {
			return err
		}
		for _, res := range expired {
			if err := s.reservations.UpdateStatus(ctx, tx, res.ID, domain.ReservationCancelled); err != nil {
				return err
			}
			if err := s.offers.RestoreStock(ctx, tx, res.OfferID, res.Quantity); err != nil {
				return err
			}
			s.logger.InfoContext(ctx, "cancelled stale reservation",
				"reservation_id", res.ID, "offer_id", res.OfferID)
		}
		return nil
	})
}
