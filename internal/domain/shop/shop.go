package shop

import (
	"context"

	"github.com/google/uuid"
)

// Shop is a seller storefront. Orders are placed against exactly one shop.
type Shop struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	Name     string
	Approved bool
	Deleted  bool
}

// Directory looks up shops. Get returns a fault.NotFound error when the shop
// row does not exist; soft-deleted shops are returned with Deleted set.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*Shop, error)
}
