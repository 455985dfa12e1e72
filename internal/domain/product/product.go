package product

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the listing status of a product.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Product is a catalog item owned by a shop. Stock and Sold are only changed
// through Catalog.AdjustStock as part of order creation and cancellation.
type Product struct {
	ID      uuid.UUID
	ShopID  uuid.UUID
	Name    string
	Price   decimal.Decimal
	Stock   int
	Sold    int
	Status  Status
	Deleted bool
}

// Catalog provides transactional access to product inventory.
type Catalog interface {
	// GetForUpdate returns the product and holds a row lock on it until the
	// surrounding transaction ends. It returns a fault.NotFound error when the
	// product does not exist.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Product, error)
	// AdjustStock adds deltaQty to stock and deltaSold to the sold count.
	AdjustStock(ctx context.Context, id uuid.UUID, deltaQty, deltaSold int) error
}
