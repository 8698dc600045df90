package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FlashTheFire/NexNum-sub011/internal/mapping"
	"github.com/FlashTheFire/NexNum-sub011/internal/provider/domain"
)

const maxResponseBytes = 1 << 20

// HealthRecorder receives the outcome of every vendor call. Recording is
// best-effort; the adapter never lets it fail a request.
type HealthRecorder interface {
	RecordRequest(ctx context.Context, providerName string, success bool, latencyMs float64)
}

// Trace captures the last request for admin diagnostics. Credentials are
// redacted before the trace is stored.
type Trace struct {
	Operation  domain.Operation
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	At         time.Time
}

// Adapter executes canonical operations against one configured vendor. It is
// a value built from a configuration snapshot; the diagnostic trace is its
// only mutable state and is guarded for concurrent use.
type Adapter struct {
	provider *domain.Provider
	client   *http.Client
	logger   *slog.Logger
	health   HealthRecorder

	mu        sync.Mutex
	lastTrace *Trace
}

// New validates the configuration and builds an adapter. required lists the
// operations this adapter instance will be asked to perform; a provider
// missing any of them is rejected at construction, not at call time.
func New(p *domain.Provider, client *http.Client, health HealthRecorder, logger *slog.Logger, required ...domain.Operation) (*Adapter, error) {
	if err := p.Validate(required...); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{
		provider: p,
		client:   client,
		health:   health,
		logger:   logger.With("provider", p.Name),
	}, nil
}

// ProviderName returns the configured provider slug.
func (a *Adapter) ProviderName() string { return a.provider.Name }

// Capabilities lists the operations this provider is configured for. Optional
// operations (resend, complete) are discovered here, never by duck probing.
func (a *Adapter) Capabilities() map[domain.Operation]bool {
	caps := make(map[domain.Operation]bool, len(a.provider.Endpoints))
	for op := range a.provider.Endpoints {
		if a.provider.Supports(op) {
			caps[op] = true
		}
	}
	return caps
}

// LastRequestTrace returns the redacted trace of the most recent call, or nil
// if the adapter has not been used.
func (a *Adapter) LastRequestTrace() *Trace {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastTrace == nil {
		return nil
	}
	t := *a.lastTrace
	return &t
}

func (a *Adapter) GetCountries(ctx context.Context) ([]domain.Country, error) {
	records, err := a.execute(ctx, domain.OpGetCountries, nil)
	if err != nil {
		return nil, err
	}
	countries := make([]domain.Country, 0, len(records))
	for _, rec := range records {
		id, ok := rec["id"]
		if !ok {
			continue
		}
		countries = append(countries, domain.Country{ID: id, Name: rec["name"]})
	}
	return countries, nil
}

func (a *Adapter) GetServices(ctx context.Context) ([]domain.Service, error) {
	records, err := a.execute(ctx, domain.OpGetServices, nil)
	if err != nil {
		return nil, err
	}
	services := make([]domain.Service, 0, len(records))
	for _, rec := range records {
		id, ok := rec["id"]
		if !ok {
			continue
		}
		services = append(services, domain.Service{ID: id, Name: rec["name"]})
	}
	return services, nil
}

// GetNumber purchases one number for (countryID, serviceID). opts carries
// vendor-specific extras such as the operator and is merged into template
// variables.
func (a *Adapter) GetNumber(ctx context.Context, countryID, serviceID string, opts map[string]string) (*domain.NumberOrder, error) {
	vars := map[string]string{"country": countryID, "service": serviceID}
	for k, v := range opts {
		vars[k] = v
	}
	records, err := a.execute(ctx, domain.OpGetNumber, vars)
	if err != nil {
		return nil, err
	}
	rec := firstRecord(records)
	order := &domain.NumberOrder{
		ActivationID: rec["id"],
		PhoneNumber:  rec["phone"],
		Status:       rec["status"],
	}
	if raw, ok := rec["cost"]; ok {
		if cost, err := decimal.NewFromString(raw); err == nil {
			order.Cost = &cost
		}
	}
	return order, nil
}

func (a *Adapter) GetStatus(ctx context.Context, activationID string) (*domain.ActivationStatus, error) {
	records, err := a.execute(ctx, domain.OpGetStatus, map[string]string{"id": activationID})
	if err != nil {
		return nil, err
	}
	rec := firstRecord(records)
	return &domain.ActivationStatus{Status: rec["status"], Code: rec["code"]}, nil
}

func (a *Adapter) SetCancel(ctx context.Context, activationID string) error {
	_, err := a.execute(ctx, domain.OpSetCancel, map[string]string{"id": activationID})
	return err
}

func (a *Adapter) SetResendCode(ctx context.Context, activationID string) error {
	_, err := a.execute(ctx, domain.OpSetResendCode, map[string]string{"id": activationID})
	return err
}

func (a *Adapter) SetComplete(ctx context.Context, activationID string) error {
	_, err := a.execute(ctx, domain.OpSetComplete, map[string]string{"id": activationID})
	return err
}

func (a *Adapter) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	records, err := a.execute(ctx, domain.OpGetBalance, nil)
	if err != nil {
		return decimal.Zero, err
	}
	raw := firstRecord(records)["balance"]
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("provider %s returned unparseable balance %q: %w", a.provider.Name, raw, err)
	}
	return balance, nil
}

// GetPrices fetches the vendor price table, optionally narrowed to a country
// and/or service. Rows without a parseable cost are dropped.
func (a *Adapter) GetPrices(ctx context.Context, countryID, serviceID string) ([]domain.PriceRow, error) {
	vars := map[string]string{}
	if countryID != "" {
		vars["country"] = countryID
	}
	if serviceID != "" {
		vars["service"] = serviceID
	}
	records, err := a.execute(ctx, domain.OpGetPrices, vars)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.PriceRow, 0, len(records))
	for _, rec := range records {
		cost, err := decimal.NewFromString(rec["cost"])
		if err != nil {
			continue
		}
		row := domain.PriceRow{
			CountryID: rec["country"],
			ServiceID: rec["service"],
			Operator:  rec["operator"],
			Cost:      cost,
		}
		if row.CountryID == "" {
			row.CountryID = countryID
		}
		if row.ServiceID == "" {
			row.ServiceID = serviceID
		}
		if raw, ok := rec["count"]; ok {
			if n, err := strconv.Atoi(raw); err == nil {
				row.Count = n
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// execute resolves the endpoint template, performs the HTTP call and runs the
// mapping engine over the response. Every call, success or failure, is
// reported to the health monitor and leaves a redacted trace.
func (a *Adapter) execute(ctx context.Context, op domain.Operation, vars map[string]string) ([]mapping.Record, error) {
	if !a.provider.Supports(op) {
		return nil, fmt.Errorf("%w: %s on %s", domain.ErrOperationNotSupported, op, a.provider.Name)
	}
	tmpl := a.provider.Endpoints[op]
	spec := a.provider.Mappings[op]

	merged := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		merged[k] = v
	}
	merged["authKey"] = a.provider.AuthSecret

	reqURL, err := a.buildURL(tmpl, merged)
	if err != nil {
		return nil, fmt.Errorf("provider %s %s: %w", a.provider.Name, op, err)
	}

	method := strings.ToUpper(tmpl.Method)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("provider %s %s: building request: %w", a.provider.Name, op, err)
	}
	switch a.provider.AuthMode {
	case domain.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.provider.AuthSecret)
	case domain.AuthHeader:
		req.Header.Set(a.provider.AuthHeaderName, a.provider.AuthSecret)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	start := time.Now()
	resp, err := a.client.Do(req)
	duration := time.Since(start)
	redactedURL := a.redact(reqURL)

	if err != nil {
		a.record(ctx, op, method, redactedURL, 0, duration, false)
		return nil, &domain.ProviderAPIError{
			ProviderName: a.provider.Name,
			Operation:    op,
			URL:          redactedURL,
			Err:          err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		a.record(ctx, op, method, redactedURL, resp.StatusCode, duration, false)
		return nil, &domain.ProviderAPIError{
			ProviderName: a.provider.Name,
			Operation:    op,
			StatusCode:   resp.StatusCode,
			URL:          redactedURL,
			Err:          fmt.Errorf("reading response: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.record(ctx, op, method, redactedURL, resp.StatusCode, duration, false)
		a.logger.WarnContext(ctx, "provider call failed", "operation", op, "status", resp.StatusCode, "url", redactedURL)
		return nil, &domain.ProviderAPIError{
			ProviderName: a.provider.Name,
			Operation:    op,
			StatusCode:   resp.StatusCode,
			URL:          redactedURL,
			Body:         a.redact(string(body)),
		}
	}

	records, err := mapping.Extract(body, spec)
	if err != nil {
		a.record(ctx, op, method, redactedURL, resp.StatusCode, duration, false)
		return nil, &domain.ProviderAPIError{
			ProviderName: a.provider.Name,
			Operation:    op,
			StatusCode:   resp.StatusCode,
			URL:          redactedURL,
			Body:         a.redact(string(body)),
			Err:          err,
		}
	}

	if missing := missingRequiredField(op, records); missing != "" {
		a.record(ctx, op, method, redactedURL, resp.StatusCode, duration, false)
		return nil, fmt.Errorf("%w: %s on %s from %s", domain.ErrMissingField, missing, op, a.provider.Name)
	}

	a.record(ctx, op, method, redactedURL, resp.StatusCode, duration, true)
	a.logger.DebugContext(ctx, "provider call succeeded", "operation", op, "status", resp.StatusCode, "records", len(records), "duration_ms", duration.Milliseconds())
	return records, nil
}

// requiredFields are the per-operation fields a mapped response must carry
// for the call to count as served. A well-formed vendor error payload that
// maps to an empty record is a failed call, not a healthy one.
var requiredFields = map[domain.Operation][]string{
	domain.OpGetNumber:  {"id", "phone"},
	domain.OpGetStatus:  {"status"},
	domain.OpGetBalance: {"balance"},
}

func missingRequiredField(op domain.Operation, records []mapping.Record) string {
	fields := requiredFields[op]
	if len(fields) == 0 {
		return ""
	}
	rec := firstRecord(records)
	for _, f := range fields {
		if rec[f] == "" {
			return f
		}
	}
	return ""
}

func (a *Adapter) buildURL(tmpl domain.EndpointTemplate, vars map[string]string) (string, error) {
	base := strings.TrimSuffix(a.provider.BaseURL, "/")
	path := substitute(tmpl.Path, vars)
	if !strings.HasPrefix(path, "/") && path != "" {
		path = "/" + path
	}

	u, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("building URL: %w", err)
	}

	q := u.Query()
	for key, valueTmpl := range tmpl.Query {
		q.Set(key, substitute(valueTmpl, vars))
	}
	if a.provider.AuthMode == domain.AuthQueryParam {
		q.Set(a.provider.AuthQueryKey, a.provider.AuthSecret)
	}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// redact strips the credential from anything destined for logs, traces or
// errors.
func (a *Adapter) redact(s string) string {
	if a.provider.AuthSecret == "" {
		return s
	}
	return strings.ReplaceAll(s, a.provider.AuthSecret, "***")
}

func (a *Adapter) record(ctx context.Context, op domain.Operation, method, redactedURL string, status int, duration time.Duration, success bool) {
	a.mu.Lock()
	a.lastTrace = &Trace{
		Operation:  op,
		Method:     method,
		URL:        redactedURL,
		StatusCode: status,
		Duration:   duration,
		At:         time.Now().UTC(),
	}
	a.mu.Unlock()

	if a.health == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Warn("health recording panicked", "panic", r)
			}
		}()
		a.health.RecordRequest(ctx, a.provider.Name, success, float64(duration.Milliseconds()))
	}()
}

func firstRecord(records []mapping.Record) mapping.Record {
	if len(records) == 0 {
		return mapping.Record{}
	}
	return records[0]
}

// ErrIsProviderFailure reports whether err came from the vendor rather than
// from local configuration.
func ErrIsProviderFailure(err error) bool {
	var apiErr *domain.ProviderAPIError
	return errors.As(err, &apiErr)
}
