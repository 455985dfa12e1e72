package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/product"
)

const (
	getProductForUpdateSQL = `SELECT id, shop_id, name, price, stock, sold, status, deleted
		FROM products WHERE id = $1 FOR UPDATE`

	adjustStockSQL = `UPDATE products SET stock = stock + $2, sold = sold + $3 WHERE id = $1`
)

var _ product.Catalog = (*ProductCatalog)(nil)

// ProductCatalog implements product.Catalog backed by PostgreSQL.
type ProductCatalog struct {
	q querier
}

// GetForUpdate returns the product and locks its row.
func (r *ProductCatalog) GetForUpdate(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	rows, err := r.q.Query(ctx, getProductForUpdateSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "lock product %s", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("product %s not found", id)
		}
		return nil, errors.Wrapf(err, "lock product %s", id)
	}
	return &p, nil
}

// AdjustStock applies the deltas in a single UPDATE, so concurrent
// adjustments of the same row never lose an update. The table's check
// constraints reject a negative stock or sold count.
func (r *ProductCatalog) AdjustStock(ctx context.Context, id uuid.UUID, deltaQty, deltaSold int) error {
	tag, err := r.q.Exec(ctx, adjustStockSQL, id, deltaQty, deltaSold)
	if err != nil {
		if pgCode(err) == codeCheckViolation {
			return fault.InvalidInput("insufficient stock for product %s", id)
		}
		return errors.Wrapf(err, "adjust stock of product %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("product %s not found", id)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		status string
	)
	err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.Price, &p.Stock, &p.Sold, &status, &p.Deleted)
	p.Status = product.Status(status)
	return p, err
}
