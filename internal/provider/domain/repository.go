package domain

import "context"

// ProviderRepository reads provider configurations. The core never writes
// them; administration happens elsewhere.
type ProviderRepository interface {
	GetByName(ctx context.Context, name string) (*Provider, error)
	ListActive(ctx context.Context) ([]*Provider, error)
}
