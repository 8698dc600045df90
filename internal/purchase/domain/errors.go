package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnauthorized means there is no authenticated user behind the request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrOfferNotFound means no active offer matched the requested
	// country/service pair, or none of the matching providers is available.
	ErrOfferNotFound = errors.New("no offer available for the requested country and service")
	// ErrOutOfStock means the chosen offer's stock was exhausted between
	// selection and the row lock, or was already zero under the lock.
	ErrOutOfStock = errors.New("offer is out of stock")
	// ErrPurchaseInProgress means another purchase for the same
	// (user, country, service) holds the distributed lock.
	ErrPurchaseInProgress = errors.New("another purchase for this offer is already in progress")
	// ErrNumberNotFound means no purchased number matched the lookup.
	ErrNumberNotFound = errors.New("number not found")
	// ErrNumberTerminal means the number is in a terminal state and the
	// requested transition is not allowed.
	ErrNumberTerminal = errors.New("number is in a terminal state")
	// ErrReservationNotFound means the reservation row disappeared mid-flow.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrDuplicateTransaction means the wallet ledger already holds an entry
	// for this idempotency key.
	ErrDuplicateTransaction = errors.New("duplicate wallet transaction")
	// ErrDuplicateSms means a message with the same dedup key is already
	// stored for the number.
	ErrDuplicateSms = errors.New("duplicate sms message")
)

// InsufficientBalanceError carries the amounts so the API layer can tell the
// user exactly how much is missing.
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// IsInsufficientBalance reports whether err is an InsufficientBalanceError.
func IsInsufficientBalance(err error) bool {
	var ib *InsufficientBalanceError
	return errors.As(err, &ib)
}
