package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Offer is a priced unit of (provider, country, service, operator) with a
// stock counter. Stock is the single source of truth for availability and is
// only ever mutated inside the purchase engine's locked transaction.
type Offer struct {
	ID           uuid.UUID
	ProviderName string
	CountryCode  string
	CountryName  string
	ServiceCode  string
	ServiceName  string
	Operator     string
	CostPrice    decimal.Decimal // what the vendor charges us
	SellPrice    decimal.Decimal // what the user pays
	Stock        int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReservationStatus tracks the short-lived purchase bridge record.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// OfferReservation bridges stock-lock and provider-call during a purchase.
// PENDING rows past ExpiresAt are swept by the external reconciliation job.
type OfferReservation struct {
	ID             uuid.UUID
	OfferID        uuid.UUID
	UserID         uuid.UUID
	Quantity       int
	Status         ReservationStatus
	IdempotencyKey string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NumberStatus is the lifecycle of a purchased number. Terminal states
// (everything but active) are immutable except for refund tracking.
type NumberStatus string

const (
	NumberActive    NumberStatus = "active"
	NumberExpired   NumberStatus = "expired"
	NumberCancelled NumberStatus = "cancelled"
	NumberCompleted NumberStatus = "completed"
	NumberFailed    NumberStatus = "failed"
	NumberRefunded  NumberStatus = "refunded"
)

// Terminal reports whether the status accepts no further transitions.
func (s NumberStatus) Terminal() bool {
	return s != NumberActive
}

// Number is the purchased asset: one phone number bound to one verification
// attempt at a provider. IdempotencyKey is unique, guaranteeing at-most-one
// creation per purchase request even if every other guard is bypassed.
type Number struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ProviderName   string
	ActivationID   string // provider-side id
	PhoneNumber    string
	CountryCode    string
	CountryName    string
	ServiceCode    string
	ServiceName    string
	Price          decimal.Decimal
	Status         NumberStatus
	IdempotencyKey string
	Refunded       bool
	RefundAmount   *decimal.Decimal
	PurchasedAt    time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SmsMessage is one inbound message attached to a Number. Rows are
// append-only; the unique index on (number_id, dedup_key) rejects a second
// insert of the same code or content even from concurrent webhook handlers.
type SmsMessage struct {
	ID         uuid.UUID
	NumberID   uuid.UUID
	Code       string // extracted verification code, may be empty
	Content    string
	DedupKey   string // code when extracted, content hash otherwise
	Ordinal    int    // 1-based position
	ReceivedAt time.Time
	CreatedAt  time.Time
}

// OutboxEventStatus tracks asynchronous propagation of a state change.
type OutboxEventStatus string

const (
	OutboxQueued    OutboxEventStatus = "queued"
	OutboxPublished OutboxEventStatus = "published"
)

// OutboxEvent is a durable record of a state change awaiting downstream
// propagation (search-index sync, notifications). Written in the same
// transaction as the change it describes.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte // JSON
	Status        OutboxEventStatus
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// OfferUpdatedPayload is the payload of an "offer.updated" outbox event.
type OfferUpdatedPayload struct {
	PricingID   string `json:"pricingId"`
	NewStock    int    `json:"newStock"`
	Reason      string `json:"reason"`
	PurchasedBy string `json:"purchasedBy,omitempty"`
}

// AuditEntry is one immutable audit-log row. Purchase audit entries are
// written inside the purchase transaction; health-circuit entries are not.
type AuditEntry struct {
	ID           uuid.UUID
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     []byte // JSON
	IPAddress    string
	CreatedAt    time.Time
}
