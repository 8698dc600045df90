package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	providerdomain "github.com/FlashTheFire/NexNum-sub011/internal/provider/domain"

	"github.com/FlashTheFire/NexNum-sub011/internal/pricing"
	"github.com/FlashTheFire/NexNum-sub011/internal/provider/adapter"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

// PriceSource is the slice of a provider adapter the catalog needs.
type PriceSource interface {
	ProviderName() string
	GetPrices(ctx context.Context, countryID, serviceID string) ([]providerdomain.PriceRow, error)
}

// HealthGate is the monitor surface the syncer needs: outcome recording for
// the adapter, circuit state to skip vendors that are down.
type HealthGate interface {
	adapter.HealthRecorder
	IsAvailable(ctx context.Context, providerName string) bool
}

// Syncer refreshes the offers table from vendor price feeds. Each vendor row
// becomes an offer priced with the provider's multiplier and markup; stock
// changes are propagated through the outbox like purchases are.
type Syncer struct {
	providers    providerdomain.ProviderRepository
	offers       domain.OfferRepository
	outbox       domain.OutboxRepository
	availability HealthGate
	ranking      pricing.Config
	interval     time.Duration
	logger       *slog.Logger

	// newSource builds the price source for a provider. Tests swap it out;
	// production uses the HTTP adapter.
	newSource func(p *providerdomain.Provider) (PriceSource, error)
}

func NewSyncer(
	providers providerdomain.ProviderRepository,
	offers domain.OfferRepository,
	outbox domain.OutboxRepository,
	client *http.Client,
	health HealthGate,
	ranking pricing.Config,
	interval time.Duration,
	logger *slog.Logger,
) *Syncer {
	return &Syncer{
		providers:    providers,
		offers:       offers,
		outbox:       outbox,
		availability: health,
		ranking:      ranking,
		interval:     interval,
		logger:       logger,
		newSource: func(p *providerdomain.Provider) (PriceSource, error) {
			return adapter.New(p, client, health, logger, providerdomain.OpGetPrices)
		},
	}
}

// Run syncs on a ticker until ctx is cancelled, starting with an immediate
// pass so a fresh deployment has offers right away.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.SyncAll(ctx); err != nil {
		s.logger.ErrorContext(ctx, "initial catalog sync failed", "error", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SyncAll(ctx); err != nil {
				s.logger.ErrorContext(ctx, "catalog sync failed", "error", err)
			}
		}
	}
}

// SyncAll refreshes every active provider that publishes prices. One failing
// provider does not block the rest.
func (s *Syncer) SyncAll(ctx context.Context) error {
	providers, err := s.providers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing providers: %w", err)
	}
	for _, p := range providers {
		if !p.Supports(providerdomain.OpGetPrices) {
			continue
		}
		if s.availability != nil && !s.availability.IsAvailable(ctx, p.Name) {
			s.logger.InfoContext(ctx, "skipping catalog sync for unavailable provider", "provider", p.Name)
			continue
		}
		if err := s.SyncProvider(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "provider catalog sync failed",
				"provider", p.Name, "error", err)
		}
	}
	return nil
}

// SyncProvider pulls one vendor's price feed and upserts its offers.
func (s *Syncer) SyncProvider(ctx context.Context, p *providerdomain.Provider) error {
	source, err := s.newSource(p)
	if err != nil {
		return fmt.Errorf("building price source: %w", err)
	}
	rows, err := source.GetPrices(ctx, "", "")
	if err != nil {
		return fmt.Errorf("fetching prices: %w", err)
	}

	// Collapse duplicate (country, service) rows to the best operator.
	table := pricing.PriceTable{}
	for _, row := range rows {
		if _, ok := table[row.CountryID]; !ok {
			table[row.CountryID] = map[string]map[string]pricing.PricePoint{}
		}
		if _, ok := table[row.CountryID][row.ServiceID]; !ok {
			table[row.CountryID][row.ServiceID] = map[string]pricing.PricePoint{}
		}
		operator := row.Operator
		if operator == "" {
			operator = "any"
		}
		table[row.CountryID][row.ServiceID][operator] = pricing.PricePoint{
			Cost:  row.Cost,
			Count: row.Count,
		}
	}

	var synced int
	for _, flat := range pricing.FlattenPriceTable(table, s.ranking) {
		if err := s.upsertOffer(ctx, p, flat); err != nil {
			s.logger.WarnContext(ctx, "offer upsert failed",
				"provider", p.Name, "country", flat.Country, "service", flat.Service, "error", err)
			continue
		}
		synced++
	}
	s.logger.InfoContext(ctx, "catalog synced", "provider", p.Name, "offers", synced)
	syncedOffers.WithLabelValues(p.Name).Set(float64(synced))
	return nil
}

func (s *Syncer) upsertOffer(ctx context.Context, p *providerdomain.Provider, flat pricing.FlatOffer) error {
	sellPrice := flat.Cost.Mul(p.PriceMultiplier).Add(p.PriceMarkup).Round(2)

	existing, err := s.offers.FindByKey(ctx, p.Name, flat.Country, flat.Service, flat.Operator)
	prevStock := -1
	offerID := uuid.New()
	if err == nil {
		prevStock = existing.Stock
		offerID = existing.ID
	}

	offer := &domain.Offer{
		ID:           offerID,
		ProviderName: p.Name,
		CountryCode:  flat.Country,
		ServiceCode:  flat.Service,
		Operator:     flat.Operator,
		CostPrice:    flat.Cost,
		SellPrice:    sellPrice,
		Stock:        flat.Count,
		IsActive:     flat.Count > 0,
	}
	if existing != nil {
		offer.CountryName = existing.CountryName
		offer.ServiceName = existing.ServiceName
	}
	if err := s.offers.Upsert(ctx, offer); err != nil {
		return err
	}

	if prevStock == flat.Count {
		return nil
	}
	payload, err := json.Marshal(domain.OfferUpdatedPayload{
		PricingID: offerID.String(),
		NewStock:  flat.Count,
		Reason:    "catalog_sync",
	})
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, nil, &domain.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "offer",
		AggregateID:   offerID.String(),
		EventType:     "offer.updated",
		Payload:       payload,
		Status:        domain.OutboxQueued,
	})
}
