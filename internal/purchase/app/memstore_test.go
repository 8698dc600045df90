package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

// memStore implements every repository interface plus the wallet ledger and
// TxRunner against in-process maps. InTx serializes transactions and rolls
// the whole state back when fn fails, mirroring the database behaviour the
// engine relies on.
type memStore struct {
	mu           sync.Mutex
	txMu         sync.Mutex
	offers       map[uuid.UUID]*domain.Offer
	reservations map[uuid.UUID]*domain.OfferReservation
	numbers      map[uuid.UUID]*domain.Number
	sms          map[uuid.UUID][]*domain.SmsMessage
	outbox       []*domain.OutboxEvent
	audit        []*domain.AuditEntry
	balances     map[uuid.UUID]decimal.Decimal
	ledgerKeys   map[string]bool
	ledger       []ledgerEntry

	// beforeTx, when set, runs at the start of every transaction. Tests use
	// it to mutate state between offer selection and the stock lock.
	beforeTx func(s *memStore)
}

type ledgerEntry struct {
	userID uuid.UUID
	amount decimal.Decimal
	kind   string
}

func newMemStore() *memStore {
	return &memStore{
		offers:       make(map[uuid.UUID]*domain.Offer),
		reservations: make(map[uuid.UUID]*domain.OfferReservation),
		numbers:      make(map[uuid.UUID]*domain.Number),
		sms:          make(map[uuid.UUID][]*domain.SmsMessage),
		balances:     make(map[uuid.UUID]decimal.Decimal),
		ledgerKeys:   make(map[string]bool),
	}
}

type memSnapshot struct {
	offers       map[uuid.UUID]domain.Offer
	reservations map[uuid.UUID]domain.OfferReservation
	numbers      map[uuid.UUID]domain.Number
	outboxLen    int
	auditLen     int
	ledgerLen    int
	balances     map[uuid.UUID]decimal.Decimal
	ledgerKeys   map[string]bool
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		offers:       make(map[uuid.UUID]domain.Offer, len(s.offers)),
		reservations: make(map[uuid.UUID]domain.OfferReservation, len(s.reservations)),
		numbers:      make(map[uuid.UUID]domain.Number, len(s.numbers)),
		outboxLen:    len(s.outbox),
		auditLen:     len(s.audit),
		ledgerLen:    len(s.ledger),
		balances:     make(map[uuid.UUID]decimal.Decimal, len(s.balances)),
		ledgerKeys:   make(map[string]bool, len(s.ledgerKeys)),
	}
	for id, o := range s.offers {
		snap.offers[id] = *o
	}
	for id, r := range s.reservations {
		snap.reservations[id] = *r
	}
	for id, n := range s.numbers {
		snap.numbers[id] = *n
	}
	for id, b := range s.balances {
		snap.balances[id] = b
	}
	for k := range s.ledgerKeys {
		snap.ledgerKeys[k] = true
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = make(map[uuid.UUID]*domain.Offer, len(snap.offers))
	for id, o := range snap.offers {
		o := o
		s.offers[id] = &o
	}
	s.reservations = make(map[uuid.UUID]*domain.OfferReservation, len(snap.reservations))
	for id, r := range snap.reservations {
		r := r
		s.reservations[id] = &r
	}
	s.numbers = make(map[uuid.UUID]*domain.Number, len(snap.numbers))
	for id, n := range snap.numbers {
		n := n
		s.numbers[id] = &n
	}
	s.outbox = s.outbox[:snap.outboxLen]
	s.audit = s.audit[:snap.auditLen]
	s.ledger = s.ledger[:snap.ledgerLen]
	s.balances = snap.balances
	s.ledgerKeys = snap.ledgerKeys
}

func (s *memStore) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.beforeTx != nil {
		s.beforeTx(s)
	}
	snap := s.snapshot()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// --- OfferRepository ---

func (s *memStore) FindAvailable(ctx context.Context, countryCode, serviceCode, preferredProvider string) ([]*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Offer
	for _, o := range s.offers {
		if o.CountryCode != countryCode || o.ServiceCode != serviceCode {
			continue
		}
		if !o.IsActive || o.Stock <= 0 {
			continue
		}
		if preferredProvider != "" && o.ProviderName != preferredProvider {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, domain.ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) DecrementStock(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok || o.Stock <= 0 {
		return 0, domain.ErrOutOfStock
	}
	o.Stock--
	return o.Stock, nil
}

func (s *memStore) RestoreStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.offers[id]; ok {
		o.Stock += qty
	}
	return nil
}

func (s *memStore) FindByKey(ctx context.Context, providerName, countryCode, serviceCode, operator string) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers {
		if o.ProviderName == providerName && o.CountryCode == countryCode &&
			o.ServiceCode == serviceCode && o.Operator == operator {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrOfferNotFound
}

func (s *memStore) Upsert(ctx context.Context, o *domain.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.offers {
		if existing.ProviderName == o.ProviderName && existing.CountryCode == o.CountryCode &&
			existing.ServiceCode == o.ServiceCode && existing.Operator == o.Operator {
			cp := *o
			cp.ID = id
			s.offers[id] = &cp
			return nil
		}
	}
	cp := *o
	s.offers[cp.ID] = &cp
	return nil
}

// --- ReservationRepository ---

func (s *memStore) Create(ctx context.Context, tx pgx.Tx, r *domain.OfferReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reservations[cp.ID] = &cp
	return nil
}

func (s *memStore) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.ReservationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	r.Status = status
	return nil
}

func (s *memStore) FindExpiredPending(ctx context.Context, tx pgx.Tx, limit int) ([]*domain.OfferReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var out []*domain.OfferReservation
	for _, r := range s.reservations {
		if r.Status == domain.ReservationPending && r.ExpiresAt.Before(now) {
			cp := *r
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) reservationsByStatus(status domain.ReservationStatus) []*domain.OfferReservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.OfferReservation
	for _, r := range s.reservations {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

// --- numbers, exposed through memNumbers to avoid method name clashes ---

type memNumbers struct{ s *memStore }

func (m memNumbers) Create(ctx context.Context, tx pgx.Tx, n *domain.Number) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.numbers {
		if existing.IdempotencyKey == n.IdempotencyKey {
			return domain.ErrDuplicateTransaction
		}
	}
	cp := *n
	m.s.numbers[cp.ID] = &cp
	return nil
}

func (m memNumbers) GetByID(ctx context.Context, id uuid.UUID) (*domain.Number, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n, ok := m.s.numbers[id]
	if !ok {
		return nil, domain.ErrNumberNotFound
	}
	cp := *n
	return &cp, nil
}

func (m memNumbers) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Number, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, n := range m.s.numbers {
		if n.IdempotencyKey == key {
			cp := *n
			return &cp, nil
		}
	}
	return nil, domain.ErrNumberNotFound
}

func (m memNumbers) GetByActivationID(ctx context.Context, providerName, activationID string) (*domain.Number, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, n := range m.s.numbers {
		if n.ProviderName == providerName && n.ActivationID == activationID {
			cp := *n
			return &cp, nil
		}
	}
	return nil, domain.ErrNumberNotFound
}

func (m memNumbers) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Number, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.Number
	for _, n := range m.s.numbers {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memNumbers) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.NumberStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n, ok := m.s.numbers[id]
	if !ok {
		return domain.ErrNumberNotFound
	}
	if n.Status.Terminal() {
		return domain.ErrNumberTerminal
	}
	n.Status = status
	return nil
}

func (m memNumbers) MarkRefunded(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n, ok := m.s.numbers[id]
	if !ok {
		return domain.ErrNumberNotFound
	}
	if n.Refunded {
		return domain.ErrDuplicateTransaction
	}
	n.Refunded = true
	n.RefundAmount = &amount
	return nil
}

func (m memNumbers) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*domain.Number, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.Number
	for _, n := range m.s.numbers {
		if n.Status == domain.NumberActive && n.ExpiresAt.Before(now) {
			cp := *n
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// --- sms ---

type memSms struct{ s *memStore }

func (m memSms) Create(ctx context.Context, msg *domain.SmsMessage) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.sms[msg.NumberID] {
		if existing.DedupKey != "" && existing.DedupKey == msg.DedupKey {
			return domain.ErrDuplicateSms
		}
	}
	cp := *msg
	m.s.sms[cp.NumberID] = append(m.s.sms[cp.NumberID], &cp)
	return nil
}

func (m memSms) ListByNumber(ctx context.Context, numberID uuid.UUID) ([]*domain.SmsMessage, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	msgs := m.s.sms[numberID]
	out := make([]*domain.SmsMessage, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		out[i] = &cp
	}
	return out, nil
}

// --- outbox ---

type memOutbox struct{ s *memStore }

func (m memOutbox) Enqueue(ctx context.Context, tx pgx.Tx, e *domain.OutboxEvent) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *e
	m.s.outbox = append(m.s.outbox, &cp)
	return nil
}

func (m memOutbox) FetchQueued(ctx context.Context, tx pgx.Tx, limit int) ([]*domain.OutboxEvent, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.OutboxEvent
	for _, e := range m.s.outbox {
		if e.Status == domain.OutboxQueued {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m memOutbox) MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, e := range m.s.outbox {
		if e.ID == id {
			e.Status = domain.OutboxPublished
			now := time.Now().UTC()
			e.PublishedAt = &now
			return nil
		}
	}
	return nil
}

// --- audit ---

type memAudit struct{ s *memStore }

func (m memAudit) Create(ctx context.Context, tx pgx.Tx, e *domain.AuditEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *e
	m.s.audit = append(m.s.audit, &cp)
	return nil
}

// --- wallet ---

type memWallet struct{ s *memStore }

func (m memWallet) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.balances[userID], nil
}

func (m memWallet) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, reason, idempotencyKey string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.ledgerKeys[idempotencyKey] {
		return domain.ErrDuplicateTransaction
	}
	balance := m.s.balances[userID]
	if balance.LessThan(amount) {
		return &domain.InsufficientBalanceError{Required: amount, Available: balance}
	}
	m.s.balances[userID] = balance.Sub(amount)
	m.s.ledgerKeys[idempotencyKey] = true
	m.s.ledger = append(m.s.ledger, ledgerEntry{userID: userID, amount: amount.Neg(), kind: "debit"})
	return nil
}

func (m memWallet) Refund(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, referenceID, reason, idempotencyKey string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.ledgerKeys[idempotencyKey] {
		return domain.ErrDuplicateTransaction
	}
	m.s.balances[userID] = m.s.balances[userID].Add(amount)
	m.s.ledgerKeys[idempotencyKey] = true
	m.s.ledger = append(m.s.ledger, ledgerEntry{userID: userID, amount: amount, kind: "refund"})
	return nil
}
