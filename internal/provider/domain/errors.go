package domain

import (
	"errors"
	"fmt"
)

// ErrMissingField is returned when a vendor response resolved without a field
// the operation cannot proceed without (e.g. no activation id on getNumber).
var ErrMissingField = errors.New("required field missing from provider response")

// ErrProviderNotFound is returned by the repository for an unknown slug.
var ErrProviderNotFound = errors.New("provider not found")

// ErrOperationNotSupported is returned when an adapter is asked for an
// operation its provider has no endpoint or mapping for.
var ErrOperationNotSupported = errors.New("operation not supported by provider")

// ProviderAPIError carries the diagnostic detail of a failed vendor call.
// URL and Body are already redacted of credentials; the raw vendor text must
// still never reach end users, only admin diagnostics.
type ProviderAPIError struct {
	ProviderName string
	Operation    Operation
	StatusCode   int // 0 for transport-level failures
	URL          string
	Body         string
	Err          error
}

func (e *ProviderAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s %s failed: status %d", e.ProviderName, e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("provider %s %s failed: %v", e.ProviderName, e.Operation, e.Err)
}

func (e *ProviderAPIError) Unwrap() error { return e.Err }
