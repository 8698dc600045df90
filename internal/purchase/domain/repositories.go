package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Methods taking a pgx.Tx join the caller's transaction; a nil tx runs the
// statement on the repository's pool.

// OfferRepository persists the priced stock catalog.
type OfferRepository interface {
	// FindAvailable returns active offers with stock for a country/service
	// pair. When preferredProvider is non-empty only that provider's offers
	// are returned.
	FindAvailable(ctx context.Context, countryCode, serviceCode, preferredProvider string) ([]*Offer, error)
	// LockByID loads an offer under SELECT ... FOR UPDATE.
	LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Offer, error)
	// DecrementStock atomically decrements stock, refusing to go below zero.
	// Returns the new stock, or ErrOutOfStock when stock was already zero.
	DecrementStock(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error)
	// RestoreStock adds qty back (reconciliation of expired reservations).
	RestoreStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, qty int) error
	// FindByKey looks an offer up by its natural key.
	FindByKey(ctx context.Context, providerName, countryCode, serviceCode, operator string) (*Offer, error)
	// Upsert inserts or updates an offer by its natural key (catalog sync).
	Upsert(ctx context.Context, o *Offer) error
}

// ReservationRepository persists the short-lived purchase bridge records.
type ReservationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, r *OfferReservation) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status ReservationStatus) error
	// FindExpiredPending returns PENDING reservations past their TTL, locked
	// with SKIP LOCKED so concurrent sweepers do not collide.
	FindExpiredPending(ctx context.Context, tx pgx.Tx, limit int) ([]*OfferReservation, error)
}

// NumberRepository persists purchased numbers.
type NumberRepository interface {
	Create(ctx context.Context, tx pgx.Tx, n *Number) error
	GetByID(ctx context.Context, id uuid.UUID) (*Number, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Number, error)
	GetByActivationID(ctx context.Context, providerName, activationID string) (*Number, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Number, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status NumberStatus) error
	MarkRefunded(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal) error
	// FindExpiredActive returns active numbers whose lifetime has elapsed.
	FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*Number, error)
}

// SmsMessageRepository persists inbound messages.
type SmsMessageRepository interface {
	Create(ctx context.Context, m *SmsMessage) error
	ListByNumber(ctx context.Context, numberID uuid.UUID) ([]*SmsMessage, error)
}

// OutboxRepository persists and drains transactional outbox events.
type OutboxRepository interface {
	Enqueue(ctx context.Context, tx pgx.Tx, e *OutboxEvent) error
	// FetchQueued locks a batch of queued events with FOR UPDATE SKIP LOCKED.
	FetchQueued(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// AuditLogRepository appends immutable audit entries.
type AuditLogRepository interface {
	Create(ctx context.Context, tx pgx.Tx, e *AuditEntry) error
}

// WalletLedger is the money side of a purchase. Debit and Refund are
// idempotent on their key: a second call with the same key returns
// ErrDuplicateTransaction without moving money.
type WalletLedger interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, reason, idempotencyKey string) error
	Refund(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, referenceID, reason, idempotencyKey string) error
}
