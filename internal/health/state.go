package health

import "time"

// CircuitState is the per-provider breaker position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// Status is the operator-facing availability summary.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// sample is one recorded request inside the sliding window.
type sample struct {
	Success   bool      `json:"s"`
	LatencyMs float64   `json:"l"`
	At        time.Time `json:"t"`
}

// providerState is the full mutable circuit state for one provider. It lives
// in the shared store and is updated only through compare-and-set, never by
// in-memory read-modify-write.
type providerState struct {
	Circuit             CircuitState `json:"circuit"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitempty"`
	HalfOpenAttempts    int          `json:"half_open_attempts"`
	HalfOpenSuccesses   int          `json:"half_open_successes"`
	Window              []sample     `json:"window,omitempty"`
	LastError           string       `json:"last_error,omitempty"`
}

func newProviderState() *providerState {
	return &providerState{Circuit: CircuitClosed}
}

// Health is the snapshot returned to callers.
type Health struct {
	ProviderName        string       `json:"providerName"`
	Status              Status       `json:"status"`
	CircuitState        CircuitState `json:"circuitState"`
	SuccessRate         float64      `json:"successRate"`
	AvgLatencyMs        float64      `json:"avgLatencyMs"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	RequestsInWindow    int          `json:"requestsInWindow"`
	LastError           string       `json:"lastError,omitempty"`
}

// LogEntry is one immutable row of the circuit-transition history.
type LogEntry struct {
	ProviderName string
	CircuitState CircuitState
	Status       Status
	SuccessRate  float64
	AvgLatencyMs float64
	ErrorCount   int
	CreatedAt    time.Time
}
