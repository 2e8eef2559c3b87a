package production

import (
	"context"
	"errors"
)

var (
	ErrProductionNotFound = errors.New("production not found")
	ErrInvalidSlug        = errors.New("invalid production slug")
	ErrSlugTaken          = errors.New("slug already in use")
)

// Repository defines the interface for production storage.
//
// CreateIfAbsent and SetOwnerIfUnset are the only mutation primitives, and
// both must be atomic at the store level (conditional insert / conditional
// update). That atomicity is what keeps reconciliation idempotent under
// concurrent duplicate delivery without explicit locking.
type Repository interface {
	// CreateIfAbsent inserts the production keyed by slug if no production
	// with that slug exists, and returns the stored row either way. The
	// existing row's fields, including its payment reference, are left
	// untouched on conflict (first-writer-wins).
	CreateIfAbsent(ctx context.Context, p *Production) (*Production, error)

	// GetBySlug retrieves a production by slug regardless of active state.
	GetBySlug(ctx context.Context, slug string) (*Production, error)

	// GetByID retrieves a production by ID.
	GetByID(ctx context.Context, id string) (*Production, error)

	// SetOwnerIfUnset assigns the owner only when no owner has been recorded.
	// Returns true if this call performed the assignment.
	SetOwnerIfUnset(ctx context.Context, productionID, identityID string) (bool, error)

	// ExistsBySlug reports whether any production, active or not, holds the slug.
	ExistsBySlug(ctx context.Context, slug string) (bool, error)
}
