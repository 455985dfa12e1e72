package cart

import (
	"context"

	"github.com/google/uuid"
)

// Store is the buyer's per-shop cart. It is only touched after an order has
// committed, so its failures never affect the order.
type Store interface {
	// ShopCartID returns the buyer's cart for the shop, or a fault.NotFound
	// error when the buyer has none.
	ShopCartID(ctx context.Context, buyerID, shopID uuid.UUID) (uuid.UUID, error)
	RemoveLine(ctx context.Context, shopCartID, productID uuid.UUID) error
}
