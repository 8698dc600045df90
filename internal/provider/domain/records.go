package domain

import "github.com/shopspring/decimal"

// Canonical records produced by the adapter after mapping extraction. These
// are the only shapes the rest of the system sees, regardless of vendor wire
// format.

// Country is one purchasable country as reported by a vendor.
type Country struct {
	ID   string
	Name string
}

// Service is one verification service (telegram, whatsapp, ...) a vendor sells.
type Service struct {
	ID   string
	Name string
}

// NumberOrder is the result of a successful getNumber call.
type NumberOrder struct {
	ActivationID string
	PhoneNumber  string
	Cost         *decimal.Decimal // set when the vendor reports a charge
	Status       string
}

// ActivationStatus is the canonical polling result for one activation.
type ActivationStatus struct {
	Status string // pending | received | cancelled | completed
	Code   string // verification code when status == received
}

// PriceRow is one (country, service, operator) price offer from a vendor's
// price table, before our multiplier/markup is applied.
type PriceRow struct {
	CountryID string
	ServiceID string
	Operator  string
	Cost      decimal.Decimal
	Count     int
}
