package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/FlashTheFire/NexNum-sub011/internal/pricing"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

// errIdempotentReplay signals that the unique index on the idempotency key
// fired inside the transaction: another request already created the number.
var errIdempotentReplay = errors.New("idempotent replay")

// PurchaseLocker serializes purchases per (user, country, service).
// Implemented by the Redis lock in platform/redislock.
type PurchaseLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Availability filters offer candidates by provider circuit state.
type Availability interface {
	IsAvailable(ctx context.Context, providerName string) bool
}

// PurchaseConfig are the engine's tunables, loaded from platform config.
type PurchaseConfig struct {
	LockTTL        time.Duration
	ReservationTTL time.Duration
	IdempotencyTTL time.Duration
	NumberLifetime time.Duration
	Ranking        pricing.Config
}

type PurchaseRequest struct {
	UserID            uuid.UUID
	CountryCode       string
	ServiceCode       string
	PreferredProvider string
	IdempotencyKey    string
	IPAddress         string
}

type PurchaseResult struct {
	Number *domain.Number
	// Replayed is true when the idempotency key matched an earlier purchase
	// and no new number was created.
	Replayed bool
}

// NumberState is a number together with its received messages.
type NumberState struct {
	Number   *domain.Number
	Messages []*domain.SmsMessage
}

// PurchaseService orchestrates the buy flow: idempotency check, offer
// selection, distributed lock, then one serializable transaction covering
// stock, money, the provider call and the outbox record.
type PurchaseService struct {
	offers       domain.OfferRepository
	reservations domain.ReservationRepository
	numbers      domain.NumberRepository
	sms          domain.SmsMessageRepository
	outbox       domain.OutboxRepository
	audit        domain.AuditLogRepository
	wallet       domain.WalletLedger
	vendors      VendorFactory
	locker       PurchaseLocker
	idem         IdempotencyCache
	availability Availability
	tx           TxRunner
	cfg          PurchaseConfig
	logger       *slog.Logger
}

func NewPurchaseService(
	offers domain.OfferRepository,
	reservations domain.ReservationRepository,
	numbers domain.NumberRepository,
	sms domain.SmsMessageRepository,
	outbox domain.OutboxRepository,
	audit domain.AuditLogRepository,
	wallet domain.WalletLedger,
	vendors VendorFactory,
	locker PurchaseLocker,
	idem IdempotencyCache,
	availability Availability,
	tx TxRunner,
	cfg PurchaseConfig,
	logger *slog.Logger,
) *PurchaseService {
	return &PurchaseService{
		offers:       offers,
		reservations: reservations,
		numbers:      numbers,
		sms:          sms,
		outbox:       outbox,
		audit:        audit,
		wallet:       wallet,
		vendors:      vendors,
		locker:       locker,
		idem:         idem,
		availability: availability,
		tx:           tx,
		cfg:          cfg,
		logger:       logger,
	}
}

// Purchase buys one verification number. Retrying with the same idempotency
// key returns the number from the first attempt without charging again.
func (s *PurchaseService) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.UserID == uuid.Nil {
		return nil, domain.ErrUnauthorized
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	start := time.Now()

	if existing, ok := s.replay(ctx, req.IdempotencyKey); ok {
		return &PurchaseResult{Number: existing, Replayed: true}, nil
	}

	offer, err := s.selectOffer(ctx, req)
	if err != nil {
		return nil, err
	}

	lockKey := fmt.Sprintf("purchase:lock:%s:%s:%s", req.UserID, req.CountryCode, req.ServiceCode)
	token, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring purchase lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrPurchaseInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.WarnContext(ctx, "failed to release purchase lock", "key", lockKey, "error", err)
		}
	}()

	vendor, err := s.vendors.ForProvider(ctx, offer.ProviderName)
	if err != nil {
		return nil, fmt.Errorf("building adapter for provider %s: %w", offer.ProviderName, err)
	}

	number, err := s.executePurchase(ctx, req, offer, vendor)
	if err != nil {
		if errors.Is(err, errIdempotentReplay) {
			if existing, lookupErr := s.numbers.GetByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
				return &PurchaseResult{Number: existing, Replayed: true}, nil
			}
		}
		purchasesTotal.WithLabelValues(offer.ProviderName, "failure").Inc()
		return nil, err
	}

	s.idem.Set(ctx, req.IdempotencyKey, number.ID.String(), s.cfg.IdempotencyTTL)
	purchasesTotal.WithLabelValues(offer.ProviderName, "success").Inc()
	purchaseDuration.Observe(time.Since(start).Seconds())

	s.logger.InfoContext(ctx, "number purchased",
		"number_id", number.ID, "provider", offer.ProviderName,
		"country", req.CountryCode, "service", req.ServiceCode,
		"price", number.Price.String())
	return &PurchaseResult{Number: number}, nil
}

// replay checks the cache first, then the durable unique key.
func (s *PurchaseService) replay(ctx context.Context, key string) (*domain.Number, bool) {
	if idStr, ok := s.idem.Get(ctx, key); ok {
		if id, err := uuid.Parse(idStr); err == nil {
			if n, err := s.numbers.GetByID(ctx, id); err == nil {
				return n, true
			}
		}
	}
	n, err := s.numbers.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, false
	}
	return n, true
}

// selectOffer ranks the available offers, skipping providers whose circuit
// is not accepting traffic.
func (s *PurchaseService) selectOffer(ctx context.Context, req PurchaseRequest) (*domain.Offer, error) {
	candidates, err := s.offers.FindAvailable(ctx, req.CountryCode, req.ServiceCode, req.PreferredProvider)
	if err != nil {
		return nil, fmt.Errorf("finding offers: %w", err)
	}

	byID := make(map[string]*domain.Offer, len(candidates))
	options := make([]pricing.Option, 0, len(candidates))
	for _, o := range candidates {
		if !s.availability.IsAvailable(ctx, o.ProviderName) {
			continue
		}
		byID[o.ID.String()] = o
		options = append(options, pricing.Option{
			ID:           o.ID.String(),
			ProviderName: o.ProviderName,
			Operator:     o.Operator,
			Cost:         o.SellPrice,
			Stock:        o.Stock,
		})
	}

	best := pricing.SelectBestOption(options, s.cfg.Ranking)
	if best == nil {
		return nil, domain.ErrOfferNotFound
	}
	return byID[best.ID], nil
}

// executePurchase is the serializable core. Everything inside either commits
// together or rolls back together; a provider failure leaves only a
// best-effort cancelled reservation trace behind.
func (s *PurchaseService) executePurchase(ctx context.Context, req PurchaseRequest, offer *domain.Offer, vendor NumberVendor) (*domain.Number, error) {
	var (
		number      *domain.Number
		reservation *domain.OfferReservation
	)

	txErr := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		locked, err := s.offers.LockByID(ctx, tx, offer.ID)
		if err != nil {
			return err
		}
		if !locked.IsActive || locked.Stock <= 0 {
			return domain.ErrOutOfStock
		}

		now := time.Now().UTC()
		reservation = &domain.OfferReservation{
			ID:             uuid.New(),
			OfferID:        locked.ID,
			UserID:         req.UserID,
			Quantity:       1,
			Status:         domain.ReservationPending,
			IdempotencyKey: req.IdempotencyKey,
			ExpiresAt:      now.Add(s.cfg.ReservationTTL),
		}
		if err := s.reservations.Create(ctx, tx, reservation); err != nil {
			return err
		}

		if err := s.wallet.Debit(ctx, tx, req.UserID, locked.SellPrice,
			"number purchase", "purchase:"+req.IdempotencyKey); err != nil {
			return err
		}

		order, err := vendor.GetNumber(ctx, locked.CountryCode, locked.ServiceCode,
			operatorOpts(locked.Operator))
		if err != nil {
			return fmt.Errorf("provider purchase failed: %w", err)
		}

		newStock, err := s.offers.DecrementStock(ctx, tx, locked.ID)
		if err != nil {
			return err
		}

		number = &domain.Number{
			ID:             uuid.New(),
			UserID:         req.UserID,
			ProviderName:   locked.ProviderName,
			ActivationID:   order.ActivationID,
			PhoneNumber:    order.PhoneNumber,
			CountryCode:    locked.CountryCode,
			CountryName:    locked.CountryName,
			ServiceCode:    locked.ServiceCode,
			ServiceName:    locked.ServiceName,
			Price:          locked.SellPrice,
			Status:         domain.NumberActive,
			IdempotencyKey: req.IdempotencyKey,
			PurchasedAt:    now,
			ExpiresAt:      now.Add(s.cfg.NumberLifetime),
		}
		if err := s.numbers.Create(ctx, tx, number); err != nil {
			if errors.Is(err, domain.ErrDuplicateTransaction) {
				return errIdempotentReplay
			}
			return err
		}

		if err := s.reservations.UpdateStatus(ctx, tx, reservation.ID, domain.ReservationConfirmed); err != nil {
			return err
		}

		if err := s.writeAudit(ctx, tx, req, number); err != nil {
			return err
		}
		return s.enqueueOfferUpdate(ctx, tx, locked.ID, newStock, "purchase", req.UserID.String())
	})
	if txErr != nil {
		// The rollback undid the reservation row with everything else; keep
		// a cancelled trace for provider failures so support can see them.
		if reservation != nil && isProviderFailure(txErr) {
			s.recordCancelledReservation(ctx, reservation)
		}
		return nil, txErr
	}
	return number, nil
}

func operatorOpts(operator string) map[string]string {
	if operator == "" || operator == "any" {
		return nil
	}
	return map[string]string{"operator": operator}
}

func isProviderFailure(err error) bool {
	return err != nil && !errors.Is(err, domain.ErrOutOfStock) &&
		!errors.Is(err, errIdempotentReplay) && !domain.IsInsufficientBalance(err)
}

func (s *PurchaseService) recordCancelledReservation(ctx context.Context, res *domain.OfferReservation) {
	trace := *res
	trace.ID = uuid.New()
	trace.Status = domain.ReservationCancelled
	if err := s.reservations.Create(context.WithoutCancel(ctx), nil, &trace); err != nil {
		s.logger.WarnContext(ctx, "failed to record cancelled reservation", "error", err)
	}
}

func (s *PurchaseService) writeAudit(ctx context.Context, tx pgx.Tx, req PurchaseRequest, n *domain.Number) error {
	meta, _ := json.Marshal(map[string]string{
		"provider": n.ProviderName,
		"country":  n.CountryCode,
		"service":  n.ServiceCode,
		"price":    n.Price.String(),
	})
	userID := req.UserID
	return s.audit.Create(ctx, tx, &domain.AuditEntry{
		ID:           uuid.New(),
		UserID:       &userID,
		Action:       "number.purchase",
		ResourceType: "number",
		ResourceID:   n.ID.String(),
		Metadata:     meta,
		IPAddress:    req.IPAddress,
	})
}

func (s *PurchaseService) enqueueOfferUpdate(ctx context.Context, tx pgx.Tx, offerID uuid.UUID, newStock int, reason, purchasedBy string) error {
	payload, err := json.Marshal(domain.OfferUpdatedPayload{
		PricingID:   offerID.String(),
		NewStock:    newStock,
		Reason:      reason,
		PurchasedBy: purchasedBy,
	})
	if err != nil {
		return fmt.Errorf("marshalling offer update payload: %w", err)
	}
	return s.outbox.Enqueue(ctx, tx, &domain.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "offer",
		AggregateID:   offerID.String(),
		EventType:     "offer.updated",
		Payload:       payload,
		Status:        domain.OutboxQueued,
	})
}

// GetNumberState returns a number the user owns together with its messages,
// refreshed against the provider when the number is still active.
func (s *PurchaseService) GetNumberState(ctx context.Context, userID, numberID uuid.UUID) (*NumberState, error) {
	n, err := s.authorize(ctx, userID, numberID)
	if err != nil {
		return nil, err
	}

	if n.Status == domain.NumberActive {
		if refreshed, err := s.refreshStatus(ctx, n); err == nil {
			n = refreshed
		} else {
			s.logger.WarnContext(ctx, "provider status refresh failed",
				"number_id", n.ID, "error", err)
		}
	}

	messages, err := s.sms.ListByNumber(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return &NumberState{Number: n, Messages: messages}, nil
}

func (s *PurchaseService) refreshStatus(ctx context.Context, n *domain.Number) (*domain.Number, error) {
	vendor, err := s.vendors.ForProvider(ctx, n.ProviderName)
	if err != nil {
		return nil, err
	}
	status, err := vendor.GetStatus(ctx, n.ActivationID)
	if err != nil {
		return nil, err
	}

	var next domain.NumberStatus
	switch status.Status {
	case "cancelled":
		next = domain.NumberCancelled
	case "completed":
		next = domain.NumberCompleted
	default:
		return n, nil
	}
	if err := s.numbers.UpdateStatus(ctx, nil, n.ID, next); err != nil {
		if errors.Is(err, domain.ErrNumberTerminal) {
			return s.numbers.GetByID(ctx, n.ID)
		}
		return nil, err
	}
	return s.numbers.GetByID(ctx, n.ID)
}

// CancelNumber cancels an active number at the provider and refunds its
// price in one transaction.
func (s *PurchaseService) CancelNumber(ctx context.Context, userID, numberID uuid.UUID) (*domain.Number, error) {
	n, err := s.authorize(ctx, userID, numberID)
	if err != nil {
		return nil, err
	}
	if n.Status.Terminal() {
		return nil, domain.ErrNumberTerminal
	}

	vendor, err := s.vendors.ForProvider(ctx, n.ProviderName)
	if err != nil {
		return nil, err
	}
	if err := vendor.SetCancel(ctx, n.ActivationID); err != nil {
		return nil, fmt.Errorf("provider cancel failed: %w", err)
	}

	err = s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.numbers.UpdateStatus(ctx, tx, n.ID, domain.NumberCancelled); err != nil {
			return err
		}
		if err := s.wallet.Refund(ctx, tx, n.UserID, n.Price, n.ID.String(),
			"number cancelled", "refund:"+n.ID.String()); err != nil {
			return err
		}
		if err := s.numbers.MarkRefunded(ctx, tx, n.ID, n.Price); err != nil {
			return err
		}
		return s.audit.Create(ctx, tx, &domain.AuditEntry{
			ID:           uuid.New(),
			UserID:       &n.UserID,
			Action:       "number.cancel",
			ResourceType: "number",
			ResourceID:   n.ID.String(),
			Metadata:     []byte(fmt.Sprintf(`{"refund":%q}`, n.Price.String())),
		})
	})
	if err != nil {
		return nil, err
	}
	return s.numbers.GetByID(ctx, n.ID)
}

// CompleteNumber marks a number as successfully used and acknowledges the
// activation at the provider when it supports that.
func (s *PurchaseService) CompleteNumber(ctx context.Context, userID, numberID uuid.UUID) (*domain.Number, error) {
	n, err := s.authorize(ctx, userID, numberID)
	if err != nil {
		return nil, err
	}
	if n.Status.Terminal() {
		return nil, domain.ErrNumberTerminal
	}

	if vendor, err := s.vendors.ForProvider(ctx, n.ProviderName); err == nil {
		if err := vendor.SetComplete(ctx, n.ActivationID); err != nil {
			s.logger.WarnContext(ctx, "provider complete failed", "number_id", n.ID, "error", err)
		}
	}

	if err := s.numbers.UpdateStatus(ctx, nil, n.ID, domain.NumberCompleted); err != nil {
		return nil, err
	}
	return s.numbers.GetByID(ctx, n.ID)
}

// ListNumbers returns the user's purchase history, newest first.
func (s *PurchaseService) ListNumbers(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Number, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.numbers.ListByUser(ctx, userID, limit, offset)
}

// Balance returns the user's wallet balance.
func (s *PurchaseService) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.wallet.GetBalance(ctx, userID)
}

func (s *PurchaseService) authorize(ctx context.Context, userID, numberID uuid.UUID) (*domain.Number, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrUnauthorized
	}
	n, err := s.numbers.GetByID(ctx, numberID)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		// Hide other users' numbers entirely.
		return nil, domain.ErrNumberNotFound
	}
	return n, nil
}
