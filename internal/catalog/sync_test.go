package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	providerdomain "github.com/FlashTheFire/NexNum-sub011/internal/provider/domain"

	"github.com/FlashTheFire/NexNum-sub011/internal/mapping"
	"github.com/FlashTheFire/NexNum-sub011/internal/pricing"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

type fakeOffers struct {
	byKey map[string]*domain.Offer
}

func key(provider, country, service, operator string) string {
	return provider + "/" + country + "/" + service + "/" + operator
}

func (f *fakeOffers) FindAvailable(context.Context, string, string, string) ([]*domain.Offer, error) {
	return nil, nil
}

func (f *fakeOffers) LockByID(context.Context, pgx.Tx, uuid.UUID) (*domain.Offer, error) {
	return nil, domain.ErrOfferNotFound
}

func (f *fakeOffers) DecrementStock(context.Context, pgx.Tx, uuid.UUID) (int, error) {
	return 0, domain.ErrOutOfStock
}

func (f *fakeOffers) RestoreStock(context.Context, pgx.Tx, uuid.UUID, int) error { return nil }

func (f *fakeOffers) FindByKey(ctx context.Context, provider, country, service, operator string) (*domain.Offer, error) {
	if o, ok := f.byKey[key(provider, country, service, operator)]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, domain.ErrOfferNotFound
}

func (f *fakeOffers) Upsert(ctx context.Context, o *domain.Offer) error {
	cp := *o
	f.byKey[key(o.ProviderName, o.CountryCode, o.ServiceCode, o.Operator)] = &cp
	return nil
}

type fakeOutbox struct {
	events []*domain.OutboxEvent
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, e *domain.OutboxEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeOutbox) FetchQueued(context.Context, pgx.Tx, int) ([]*domain.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(context.Context, pgx.Tx, uuid.UUID) error { return nil }

type fakeSource struct {
	name string
	rows []providerdomain.PriceRow
	err  error
}

func (f *fakeSource) ProviderName() string { return f.name }

func (f *fakeSource) GetPrices(ctx context.Context, countryID, serviceID string) ([]providerdomain.PriceRow, error) {
	return f.rows, f.err
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testProvider() *providerdomain.Provider {
	return &providerdomain.Provider{
		ID:              uuid.New(),
		Name:            "smsmain",
		PriceMultiplier: d("1.5"),
		PriceMarkup:     d("0.10"),
		IsActive:        true,
	}
}

func newTestSyncer(offers *fakeOffers, outbox *fakeOutbox, source *fakeSource) *Syncer {
	return &Syncer{
		offers:    offers,
		outbox:    outbox,
		ranking:   pricing.DefaultConfig(),
		interval:  time.Minute,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		newSource: func(p *providerdomain.Provider) (PriceSource, error) { return source, nil },
	}
}

func TestSyncProviderCreatesOffers(t *testing.T) {
	offers := &fakeOffers{byKey: map[string]*domain.Offer{}}
	outbox := &fakeOutbox{}
	source := &fakeSource{name: "smsmain", rows: []providerdomain.PriceRow{
		{CountryID: "ru", ServiceID: "tg", Operator: "mts", Cost: d("4.00"), Count: 120},
		{CountryID: "ru", ServiceID: "wa", Operator: "", Cost: d("6.00"), Count: 30},
	}}

	s := newTestSyncer(offers, outbox, source)
	require.NoError(t, s.SyncProvider(context.Background(), testProvider()))

	tg := offers.byKey[key("smsmain", "ru", "tg", "mts")]
	require.NotNil(t, tg)
	// 4.00 * 1.5 + 0.10 = 6.10
	assert.True(t, tg.SellPrice.Equal(d("6.10")), "sell price is %s", tg.SellPrice)
	assert.True(t, tg.CostPrice.Equal(d("4.00")))
	assert.Equal(t, 120, tg.Stock)
	assert.True(t, tg.IsActive)

	// empty operator normalizes to "any"
	wa := offers.byKey[key("smsmain", "ru", "wa", "any")]
	require.NotNil(t, wa)
	assert.True(t, wa.SellPrice.Equal(d("9.10")))

	// new offers announce their stock
	assert.Len(t, outbox.events, 2)
}

func TestSyncProviderPicksBestOperator(t *testing.T) {
	offers := &fakeOffers{byKey: map[string]*domain.Offer{}}
	outbox := &fakeOutbox{}
	source := &fakeSource{name: "smsmain", rows: []providerdomain.PriceRow{
		{CountryID: "ru", ServiceID: "tg", Operator: "mts", Cost: d("10.00"), Count: 5},
		{CountryID: "ru", ServiceID: "tg", Operator: "tele2", Cost: d("5.00"), Count: 1},
	}}

	s := newTestSyncer(offers, outbox, source)
	require.NoError(t, s.SyncProvider(context.Background(), testProvider()))

	// only one offer per (country, service); the cheaper operator wins under
	// the default cost-biased weights
	assert.Len(t, offers.byKey, 1)
	picked := offers.byKey[key("smsmain", "ru", "tg", "tele2")]
	require.NotNil(t, picked)
	assert.Equal(t, 1, picked.Stock)
}

func TestSyncProviderSkipsOutboxWhenStockUnchanged(t *testing.T) {
	existingID := uuid.New()
	offers := &fakeOffers{byKey: map[string]*domain.Offer{
		key("smsmain", "ru", "tg", "mts"): {
			ID: existingID, ProviderName: "smsmain", CountryCode: "ru",
			CountryName: "Russia", ServiceCode: "tg", Operator: "mts",
			CostPrice: d("3.00"), SellPrice: d("4.60"), Stock: 120, IsActive: true,
		},
	}}
	outbox := &fakeOutbox{}
	source := &fakeSource{name: "smsmain", rows: []providerdomain.PriceRow{
		{CountryID: "ru", ServiceID: "tg", Operator: "mts", Cost: d("4.00"), Count: 120},
	}}

	s := newTestSyncer(offers, outbox, source)
	require.NoError(t, s.SyncProvider(context.Background(), testProvider()))

	updated := offers.byKey[key("smsmain", "ru", "tg", "mts")]
	require.NotNil(t, updated)
	assert.Equal(t, existingID, updated.ID, "existing offer keeps its id")
	assert.Equal(t, "Russia", updated.CountryName, "display name survives the sync")
	assert.True(t, updated.SellPrice.Equal(d("6.10")), "price refreshed")
	assert.Empty(t, outbox.events, "no stock change, no event")
}

func TestSyncProviderZeroStockDeactivates(t *testing.T) {
	offers := &fakeOffers{byKey: map[string]*domain.Offer{}}
	outbox := &fakeOutbox{}
	source := &fakeSource{name: "smsmain", rows: []providerdomain.PriceRow{
		{CountryID: "ru", ServiceID: "tg", Operator: "mts", Cost: d("4.00"), Count: 0},
	}}

	s := newTestSyncer(offers, outbox, source)
	require.NoError(t, s.SyncProvider(context.Background(), testProvider()))

	o := offers.byKey[key("smsmain", "ru", "tg", "mts")]
	require.NotNil(t, o)
	assert.False(t, o.IsActive)
}

type fakeProviders struct {
	active []*providerdomain.Provider
}

func (f *fakeProviders) GetByName(ctx context.Context, name string) (*providerdomain.Provider, error) {
	for _, p := range f.active {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, providerdomain.ErrProviderNotFound
}

func (f *fakeProviders) ListActive(ctx context.Context) ([]*providerdomain.Provider, error) {
	return f.active, nil
}

type fakeGate struct {
	down map[string]bool
}

func (f *fakeGate) RecordRequest(context.Context, string, bool, float64) {}

func (f *fakeGate) IsAvailable(ctx context.Context, providerName string) bool {
	return !f.down[providerName]
}

func TestSyncAllSkipsUnavailableProviders(t *testing.T) {
	offers := &fakeOffers{byKey: map[string]*domain.Offer{}}
	outbox := &fakeOutbox{}
	source := &fakeSource{name: "smsmain", rows: []providerdomain.PriceRow{
		{CountryID: "ru", ServiceID: "tg", Operator: "mts", Cost: d("4.00"), Count: 10},
	}}

	p := testProvider()
	p.Endpoints = map[providerdomain.Operation]providerdomain.EndpointTemplate{
		providerdomain.OpGetPrices: {},
	}
	p.Mappings = map[providerdomain.Operation]*mapping.Spec{
		providerdomain.OpGetPrices: {},
	}

	s := newTestSyncer(offers, outbox, source)
	s.providers = &fakeProviders{active: []*providerdomain.Provider{p}}
	s.availability = &fakeGate{down: map[string]bool{"smsmain": true}}

	require.NoError(t, s.SyncAll(context.Background()))
	assert.Empty(t, offers.byKey)

	s.availability = &fakeGate{}
	require.NoError(t, s.SyncAll(context.Background()))
	assert.NotEmpty(t, offers.byKey)
}
