package health

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var errAdminContention = errors.New("circuit state contention, try again")

// LogRepository appends immutable circuit-transition rows for historical
// observability. Appends are best-effort and never block traffic.
type LogRepository interface {
	Append(ctx context.Context, entry *LogEntry) error
}

// Options tune the breaker. Zero values fall back to the documented defaults.
type Options struct {
	FailureThreshold int           // consecutive failures before opening (default 5)
	OpenDuration     time.Duration // how long an open circuit rejects traffic (default 30s)
	HalfOpenTrials   int           // trial budget and required successes in half-open (default 3)
	Window           time.Duration // sliding window length (default 60s)
	SuccessRateFloor float64       // below this while closed -> degraded (default 0.7)
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.OpenDuration <= 0 {
		o.OpenDuration = 30 * time.Second
	}
	if o.HalfOpenTrials <= 0 {
		o.HalfOpenTrials = 3
	}
	if o.Window <= 0 {
		o.Window = 60 * time.Second
	}
	if o.SuccessRateFloor <= 0 {
		o.SuccessRateFloor = 0.7
	}
	return o
}

// Monitor tracks per-provider success rate and latency in a shared store and
// trips a circuit breaker on sustained failure. All state updates go through
// the store's compare-and-set; the monitor itself holds no provider state.
type Monitor struct {
	store   Store
	logRepo LogRepository
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

func NewMonitor(store Store, logRepo LogRepository, opts Options, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:   store,
		logRepo: logRepo,
		opts:    opts.withDefaults(),
		logger:  logger.With("component", "health_monitor"),
		now:     time.Now,
	}
}

// RecordRequest records one call outcome. It satisfies the adapter's
// HealthRecorder and must never fail the caller: store errors are logged and
// swallowed.
func (m *Monitor) RecordRequest(ctx context.Context, providerName string, success bool, latencyMs float64) {
	m.Record(ctx, providerName, success, latencyMs, "")
}

// Record is RecordRequest plus an optional error note kept as lastError.
func (m *Monitor) Record(ctx context.Context, providerName string, success bool, latencyMs float64, errMsg string) {
	const maxRetries = 32
	for attempt := 0; attempt < maxRetries; attempt++ {
		st, version, err := m.store.Get(ctx, providerName)
		if err != nil {
			m.logger.WarnContext(ctx, "health store read failed", "provider", providerName, "error", err)
			return
		}

		before := st.Circuit
		m.apply(st, success, latencyMs, errMsg)

		ok, err := m.store.CompareAndSet(ctx, providerName, version, st)
		if err != nil {
			m.logger.WarnContext(ctx, "health store write failed", "provider", providerName, "error", err)
			return
		}
		if !ok {
			continue // lost the race, re-read and retry
		}

		if st.Circuit != before {
			circuitTransitionsCounter.WithLabelValues(providerName, string(st.Circuit)).Inc()
			// only trips into open and recoveries to closed are history-worthy;
			// the timed open -> half-open move is implicit
			if st.Circuit != CircuitHalfOpen {
				m.logTransition(ctx, providerName, st)
			}
		}
		outcome := "success"
		if !success {
			outcome = "failure"
		}
		requestsRecordedCounter.WithLabelValues(providerName, outcome).Inc()
		return
	}
	m.logger.WarnContext(ctx, "health record dropped after CAS retries", "provider", providerName)
}

// apply advances the state machine for one recorded request.
func (m *Monitor) apply(st *providerState, success bool, latencyMs float64, errMsg string) {
	now := m.now()
	m.normalize(st, now)
	m.pruneWindow(st, now)
	st.Window = append(st.Window, sample{Success: success, LatencyMs: latencyMs, At: now})

	if success {
		switch st.Circuit {
		case CircuitClosed:
			st.ConsecutiveFailures = 0
		case CircuitHalfOpen:
			st.HalfOpenAttempts++
			st.HalfOpenSuccesses++
			if st.HalfOpenSuccesses >= m.opts.HalfOpenTrials {
				st.Circuit = CircuitClosed
				st.ConsecutiveFailures = 0
				st.HalfOpenAttempts = 0
				st.HalfOpenSuccesses = 0
				st.LastError = ""
			}
		}
		return
	}

	if errMsg != "" {
		st.LastError = errMsg
	}
	switch st.Circuit {
	case CircuitClosed:
		st.ConsecutiveFailures++
		if st.ConsecutiveFailures >= m.opts.FailureThreshold {
			m.open(st, now)
		}
	case CircuitHalfOpen:
		// any failure during trials re-opens with a fresh timer
		st.ConsecutiveFailures++
		m.open(st, now)
	case CircuitOpen:
		st.ConsecutiveFailures++
	}
}

func (m *Monitor) open(st *providerState, now time.Time) {
	st.Circuit = CircuitOpen
	st.OpenedAt = now
	st.HalfOpenAttempts = 0
	st.HalfOpenSuccesses = 0
}

// normalize moves an expired open circuit to half-open. Both readers and
// writers normalize, so availability flips without waiting for traffic.
func (m *Monitor) normalize(st *providerState, now time.Time) {
	if st.Circuit == CircuitOpen && now.Sub(st.OpenedAt) >= m.opts.OpenDuration {
		st.Circuit = CircuitHalfOpen
		st.HalfOpenAttempts = 0
		st.HalfOpenSuccesses = 0
	}
}

func (m *Monitor) pruneWindow(st *providerState, now time.Time) {
	cutoff := now.Add(-m.opts.Window)
	kept := st.Window[:0]
	for _, s := range st.Window {
		if s.At.After(cutoff) {
			kept = append(kept, s)
		}
	}
	st.Window = kept
}

// GetHealth returns the current snapshot for one provider. Unknown providers
// report a fresh closed circuit.
func (m *Monitor) GetHealth(ctx context.Context, providerName string) (*Health, error) {
	st, _, err := m.store.Get(ctx, providerName)
	if err != nil {
		return nil, err
	}
	now := m.now()
	m.normalize(st, now)
	m.pruneWindow(st, now)
	return m.snapshot(providerName, st), nil
}

func (m *Monitor) snapshot(providerName string, st *providerState) *Health {
	h := &Health{
		ProviderName:        providerName,
		CircuitState:        st.Circuit,
		ConsecutiveFailures: st.ConsecutiveFailures,
		RequestsInWindow:    len(st.Window),
		LastError:           st.LastError,
		SuccessRate:         1,
	}

	if len(st.Window) > 0 {
		successes := 0
		var latencySum float64
		for _, s := range st.Window {
			if s.Success {
				successes++
			}
			latencySum += s.LatencyMs
		}
		h.SuccessRate = float64(successes) / float64(len(st.Window))
		h.AvgLatencyMs = latencySum / float64(len(st.Window))
	}

	switch {
	case st.Circuit == CircuitOpen:
		h.Status = StatusDown
	case st.Circuit == CircuitHalfOpen:
		h.Status = StatusDegraded
	case len(st.Window) > 0 && h.SuccessRate < m.opts.SuccessRateFloor:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
	return h
}

// IsAvailable reports whether traffic should be routed to the provider:
// closed circuits always, half-open ones while trial budget remains.
func (m *Monitor) IsAvailable(ctx context.Context, providerName string) bool {
	st, _, err := m.store.Get(ctx, providerName)
	if err != nil {
		m.logger.WarnContext(ctx, "health store read failed; assuming available", "provider", providerName, "error", err)
		return true
	}
	m.normalize(st, m.now())
	switch st.Circuit {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		return st.HalfOpenAttempts < m.opts.HalfOpenTrials
	default:
		return false
	}
}

// OpenCircuit forces a provider's circuit open (administrative override).
func (m *Monitor) OpenCircuit(ctx context.Context, providerName string) error {
	return m.force(ctx, providerName, func(st *providerState) { m.open(st, m.now()) })
}

// CloseCircuit forces a provider's circuit closed (administrative override).
func (m *Monitor) CloseCircuit(ctx context.Context, providerName string) error {
	return m.force(ctx, providerName, func(st *providerState) {
		st.Circuit = CircuitClosed
		st.ConsecutiveFailures = 0
		st.HalfOpenAttempts = 0
		st.HalfOpenSuccesses = 0
	})
}

func (m *Monitor) force(ctx context.Context, providerName string, mutate func(*providerState)) error {
	const maxRetries = 5
	for attempt := 0; attempt < maxRetries; attempt++ {
		st, version, err := m.store.Get(ctx, providerName)
		if err != nil {
			return err
		}
		before := st.Circuit
		mutate(st)
		ok, err := m.store.CompareAndSet(ctx, providerName, version, st)
		if err != nil {
			return err
		}
		if ok {
			if st.Circuit != before {
				circuitTransitionsCounter.WithLabelValues(providerName, string(st.Circuit)).Inc()
				if st.Circuit != CircuitHalfOpen {
					m.logTransition(ctx, providerName, st)
				}
			}
			return nil
		}
	}
	return errAdminContention
}

// GetAllHealth returns the fleet-wide view for every provider the store has
// seen.
func (m *Monitor) GetAllHealth(ctx context.Context) ([]*Health, error) {
	names, err := m.store.Providers(ctx)
	if err != nil {
		return nil, err
	}
	healths := make([]*Health, 0, len(names))
	for _, name := range names {
		h, err := m.GetHealth(ctx, name)
		if err != nil {
			m.logger.WarnContext(ctx, "health snapshot failed", "provider", name, "error", err)
			continue
		}
		healths = append(healths, h)
	}
	return healths, nil
}

func (m *Monitor) logTransition(ctx context.Context, providerName string, st *providerState) {
	snap := m.snapshot(providerName, st)
	m.logger.InfoContext(ctx, "circuit transition",
		"provider", providerName, "circuit", st.Circuit, "success_rate", snap.SuccessRate)

	if m.logRepo == nil {
		return
	}
	errorCount := 0
	for _, s := range st.Window {
		if !s.Success {
			errorCount++
		}
	}
	entry := &LogEntry{
		ProviderName: providerName,
		CircuitState: st.Circuit,
		Status:       snap.Status,
		SuccessRate:  snap.SuccessRate,
		AvgLatencyMs: snap.AvgLatencyMs,
		ErrorCount:   errorCount,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.logRepo.Append(ctx, entry); err != nil {
		m.logger.WarnContext(ctx, "health log append failed", "provider", providerName, "error", err)
	}
}
