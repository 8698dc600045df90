package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FlashTheFire/NexNum-sub011/internal/mapping"
)

// AuthMode says how a vendor expects its credential.
type AuthMode string

const (
	AuthBearer     AuthMode = "bearer"
	AuthHeader     AuthMode = "header"
	AuthQueryParam AuthMode = "query_param"
	AuthNone       AuthMode = "none"
)

// ProviderType distinguishes pure REST vendors from hybrid ones that mix JSON
// endpoints with legacy handler_api.php text responses.
type ProviderType string

const (
	TypeRest   ProviderType = "rest"
	TypeHybrid ProviderType = "hybrid"
)

// Operation enumerates the canonical vendor operations an adapter can perform.
type Operation string

const (
	OpGetCountries  Operation = "getCountries"
	OpGetServices   Operation = "getServices"
	OpGetNumber     Operation = "getNumber"
	OpGetStatus     Operation = "getStatus"
	OpSetCancel     Operation = "setCancel"
	OpSetResendCode Operation = "setResendCode"
	OpSetComplete   Operation = "setComplete"
	OpGetBalance    Operation = "getBalance"
	OpGetPrices     Operation = "getPrices"
)

// EndpointTemplate describes one vendor endpoint. Path and query values may
// contain $variable or {variable} placeholders substituted at call time.
type EndpointTemplate struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query,omitempty"`
}

// Provider is a configured vendor instance. It is created and edited by
// administrators and read-only at request time; circuit state lives in Redis,
// never on this entity.
type Provider struct {
	ID              uuid.UUID
	Name            string // unique slug
	DisplayName     string
	BaseURL         string
	AuthMode        AuthMode
	AuthSecret      string
	AuthHeaderName  string // used when AuthMode == header
	AuthQueryKey    string // used when AuthMode == query_param
	Type            ProviderType
	Endpoints       map[Operation]EndpointTemplate
	Mappings        map[Operation]*mapping.Spec
	Priority        int
	PriceMultiplier decimal.Decimal
	PriceMarkup     decimal.Decimal
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Supports reports whether the provider is configured for an operation. An
// operation needs both an endpoint template and a response mapping.
func (p *Provider) Supports(op Operation) bool {
	_, hasEndpoint := p.Endpoints[op]
	_, hasMapping := p.Mappings[op]
	return hasEndpoint && hasMapping
}

// Validate fails fast on configurations that could silently misbehave later:
// missing endpoint/mapping pairs for the required operations, invalid mapping
// specs, or incomplete auth material.
func (p *Provider) Validate(required ...Operation) error {
	if p.Name == "" {
		return fmt.Errorf("provider config invalid: name is empty")
	}
	if p.BaseURL == "" {
		return fmt.Errorf("provider %s config invalid: base URL is empty", p.Name)
	}

	switch p.AuthMode {
	case AuthBearer, AuthNone:
	case AuthHeader:
		if p.AuthHeaderName == "" {
			return fmt.Errorf("provider %s config invalid: header auth without header name", p.Name)
		}
	case AuthQueryParam:
		if p.AuthQueryKey == "" {
			return fmt.Errorf("provider %s config invalid: query_param auth without query key", p.Name)
		}
	default:
		return fmt.Errorf("provider %s config invalid: unknown auth mode %q", p.Name, p.AuthMode)
	}

	for _, op := range required {
		if _, ok := p.Endpoints[op]; !ok {
			return fmt.Errorf("provider %s config invalid: no endpoint for %s", p.Name, op)
		}
		if _, ok := p.Mappings[op]; !ok {
			return fmt.Errorf("provider %s config invalid: no mapping for %s", p.Name, op)
		}
	}
	for op, spec := range p.Mappings {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("provider %s mapping for %s: %w", p.Name, op, err)
		}
	}
	return nil
}
