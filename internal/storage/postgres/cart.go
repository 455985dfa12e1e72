package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/fault"
)

const (
	getShopCartSQL    = `SELECT id FROM shop_carts WHERE user_id = $1 AND shop_id = $2`
	removeCartLineSQL = `DELETE FROM cart_items WHERE shop_cart_id = $1 AND product_id = $2`
)

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store backed by PostgreSQL. It runs on the pool
// because cart cleanup happens after the order transaction commits.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore returns a CartStore that uses the given pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

// ShopCartID returns the buyer's cart for the shop.
func (r *CartStore) ShopCartID(ctx context.Context, buyerID, shopID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, getShopCartSQL, buyerID, shopID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fault.NotFound("cart of buyer %s in shop %s not found", buyerID, shopID)
		}
		return uuid.Nil, errors.Wrap(err, "get shop cart")
	}
	return id, nil
}

// RemoveLine deletes the product line from the cart. Removing an absent line
// is not an error.
func (r *CartStore) RemoveLine(ctx context.Context, shopCartID, productID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, removeCartLineSQL, shopCartID, productID); err != nil {
		return errors.Wrapf(err, "remove product %s from cart %s", productID, shopCartID)
	}
	return nil
}
