package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/payment"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, buyer_id, shop_id, address_id, subtotal, shipping_fee,
		voucher_discount, final_amount, payment_method, voucher_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, price_at_purchase)
		VALUES ($1, $2, $3, $4)`

	selectOrderSQL = `SELECT id, buyer_id, shop_id, address_id, subtotal, shipping_fee, voucher_discount,
		final_amount, payment_method, COALESCE(payment_intent_id, ''), voucher_id, cancelled, deleted, created_at
		FROM orders WHERE id = $1`

	getOrderSQL          = selectOrderSQL
	getOrderForUpdateSQL = selectOrderSQL + ` FOR UPDATE`

	listOrderItemsSQL = `SELECT product_id, quantity, price_at_purchase
		FROM order_items WHERE order_id = $1 ORDER BY product_id`

	setPaymentIntentSQL = `UPDATE orders SET payment_intent_id = $2 WHERE id = $1`

	markCancelledSQL = `UPDATE orders SET cancelled = TRUE WHERE id = $1 AND NOT cancelled`

	latestStatusSQL = `SELECT status, description, created_at FROM order_status_history
		WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`

	listHistorySQL = `SELECT status, description, created_at FROM order_status_history
		WHERE order_id = $1 ORDER BY created_at DESC, id DESC`

	appendHistorySQL = `INSERT INTO order_status_history (order_id, status, description, created_at)
		VALUES ($1, $2, $3, $4)`

	listSellerOrdersSQL = `SELECT o.id, o.buyer_id, u.full_name, u.email, o.subtotal, o.shipping_fee,
		o.voucher_discount, o.final_amount, o.payment_method, COALESCE(h.status, 'Unknown'),
		(SELECT count(*) FROM order_items i WHERE i.order_id = o.id), o.created_at
		FROM orders o
		JOIN users u ON u.id = o.buyer_id
		LEFT JOIN LATERAL (
			SELECT status FROM order_status_history
			WHERE order_id = o.id ORDER BY created_at DESC, id DESC LIMIT 1
		) h ON TRUE
		WHERE o.shop_id = $1 AND NOT o.deleted
		ORDER BY o.created_at DESC, o.id
		LIMIT $2 OFFSET $3`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. It is
// only constructed by Transactor and always runs inside a transaction.
type OrderRepository struct {
	q querier
}

// Insert persists the order row and its items in one round trip.
func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	b := &pgx.Batch{}
	b.Queue(insertOrderSQL,
		o.ID, o.BuyerID, o.ShopID, o.AddressID, o.Subtotal, o.ShippingFee,
		o.VoucherDiscount, o.FinalAmount, string(o.PaymentMethod), o.VoucherID, o.CreatedAt,
	)
	for _, it := range o.Items {
		b.Queue(insertOrderItemSQL, o.ID, it.ProductID, it.Quantity, it.PriceAtPurchase)
	}

	if err := r.q.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}
	return nil
}

// Get returns the order with its items.
func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetForUpdate returns the order with its items and locks the order row.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, query string, id uuid.UUID) (*order.Order, error) {
	rows, err := r.q.Query(ctx, query, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("order %s not found", id)
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}

	rows, err = r.q.Query(ctx, listOrderItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list items of order %s", id)
	}
	if o.Items, err = pgx.CollectRows(rows, scanOrderItem); err != nil {
		return nil, errors.Wrapf(err, "list items of order %s", id)
	}
	return &o, nil
}

// SetPaymentIntent records the payment provider's intent id on the order.
func (r *OrderRepository) SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	if _, err := r.q.Exec(ctx, setPaymentIntentSQL, id, intentID); err != nil {
		return errors.Wrapf(err, "set payment intent of order %s", id)
	}
	return nil
}

// MarkCancelled flags the order as cancelled. Cancelling twice is an
// InvalidState error.
func (r *OrderRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, markCancelledSQL, id)
	if err != nil {
		return errors.Wrapf(err, "cancel order %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fault.InvalidState("order %s is already cancelled", id)
	}
	return nil
}

// LatestStatus returns the newest history row of the order.
func (r *OrderRepository) LatestStatus(ctx context.Context, id uuid.UUID) (*order.HistoryEntry, error) {
	rows, err := r.q.Query(ctx, latestStatusSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "latest status of order %s", id)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanHistoryEntry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("order status not found")
		}
		return nil, errors.Wrapf(err, "latest status of order %s", id)
	}
	return &e, nil
}

// AppendHistory inserts a status history row.
func (r *OrderRepository) AppendHistory(ctx context.Context, id uuid.UUID, e order.HistoryEntry) error {
	if _, err := r.q.Exec(ctx, appendHistorySQL, id, string(e.Status), e.Description, e.CreatedAt); err != nil {
		return errors.Wrapf(err, "append history of order %s", id)
	}
	return nil
}

// History returns every status history row of the order, newest first.
func (r *OrderRepository) History(ctx context.Context, id uuid.UUID) ([]order.HistoryEntry, error) {
	rows, err := r.q.Query(ctx, listHistorySQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list history of order %s", id)
	}
	return pgx.CollectRows(rows, scanHistoryEntry)
}

// ListBySeller returns the shop's orders with their derived current status.
func (r *OrderRepository) ListBySeller(ctx context.Context, shopID uuid.UUID, page order.Page) ([]order.SellerOrder, error) {
	rows, err := r.q.Query(ctx, listSellerOrdersSQL, shopID, page.Limit, page.Offset)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of shop %s", shopID)
	}
	return pgx.CollectRows(rows, scanSellerOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		method string
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.ShopID, &o.AddressID, &o.Subtotal, &o.ShippingFee, &o.VoucherDiscount,
		&o.FinalAmount, &method, &o.PaymentIntentID, &o.VoucherID, &o.Cancelled, &o.Deleted, &o.CreatedAt,
	)
	o.PaymentMethod = payment.Method(method)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ProductID, &it.Quantity, &it.PriceAtPurchase)
	return it, err
}

func scanHistoryEntry(row pgx.CollectableRow) (order.HistoryEntry, error) {
	var (
		e      order.HistoryEntry
		status string
	)
	err := row.Scan(&status, &e.Description, &e.CreatedAt)
	e.Status = order.Status(status)
	return e, err
}

func scanSellerOrder(row pgx.CollectableRow) (order.SellerOrder, error) {
	var (
		so     order.SellerOrder
		method string
		status string
	)
	err := row.Scan(
		&so.OrderID, &so.BuyerID, &so.CustomerName, &so.CustomerEmail, &so.Subtotal, &so.ShippingFee,
		&so.VoucherDiscount, &so.FinalAmount, &method, &status, &so.ItemCount, &so.CreatedAt,
	)
	so.PaymentMethod = payment.Method(method)
	so.Status = order.Status(status)
	return so, err
}
