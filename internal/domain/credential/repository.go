package credential

import (
	"context"
)

// Repository defines the operations for persisting Credential entities.
type Repository interface {
	// ListActive returns active credentials in stable insertion order.
	ListActive(ctx context.Context) ([]*Credential, error)
	// Append durably stores secret as active. Appending a known secret
	// re-activates it instead of duplicating it.
	Append(ctx context.Context, secret string) (*Credential, error)
	CountActive(ctx context.Context) (int, error)
}
