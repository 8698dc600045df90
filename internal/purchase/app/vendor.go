package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	providerdomain "github.com/FlashTheFire/NexNum-sub011/internal/provider/domain"

	"github.com/FlashTheFire/NexNum-sub011/internal/provider/adapter"
)

// NumberVendor is the slice of a provider adapter the purchase and SMS flows
// need. *adapter.Adapter satisfies it.
type NumberVendor interface {
	ProviderName() string
	Capabilities() map[providerdomain.Operation]bool
	GetNumber(ctx context.Context, countryID, serviceID string, opts map[string]string) (*providerdomain.NumberOrder, error)
	GetStatus(ctx context.Context, activationID string) (*providerdomain.ActivationStatus, error)
	SetCancel(ctx context.Context, activationID string) error
	SetResendCode(ctx context.Context, activationID string) error
	SetComplete(ctx context.Context, activationID string) error
}

// VendorFactory builds a vendor for a named provider from stored config.
type VendorFactory interface {
	ForProvider(ctx context.Context, providerName string) (NumberVendor, error)
}

// AdapterVendorFactory builds HTTP adapters from the provider repository.
type AdapterVendorFactory struct {
	providers providerdomain.ProviderRepository
	client    *http.Client
	health    adapter.HealthRecorder
	logger    *slog.Logger
}

func NewAdapterVendorFactory(providers providerdomain.ProviderRepository, timeout time.Duration, health adapter.HealthRecorder, logger *slog.Logger) *AdapterVendorFactory {
	return &AdapterVendorFactory{
		providers: providers,
		client:    &http.Client{Timeout: timeout},
		health:    health,
		logger:    logger,
	}
}

func (f *AdapterVendorFactory) ForProvider(ctx context.Context, providerName string) (NumberVendor, error) {
	p, err := f.providers.GetByName(ctx, providerName)
	if err != nil {
		return nil, err
	}
	return adapter.New(p, f.client, f.health, f.logger, providerdomain.OpGetNumber, providerdomain.OpGetStatus, providerdomain.OpSetCancel)
}
