package order

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/payment"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/domain/voucher"
)

// LineRequest is one requested product line.
type LineRequest struct {
	ProductID uuid.UUID
	Quantity  int
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	BuyerID       uuid.UUID
	ShopID        uuid.UUID
	AddressID     uuid.UUID
	PaymentMethod payment.Method
	Items         []LineRequest
	VoucherID     uuid.NullUUID
}

// CreateResult holds the output of a successfully created order.
// PaymentURL is empty for cash on delivery.
type CreateResult struct {
	OrderID    uuid.UUID
	PaymentURL string
	Order      *Order
}

func validateCreate(req CreateRequest) error {
	if len(req.Items) == 0 {
		return fault.InvalidInput("items required")
	}
	if _, ok := payment.ParseMethod(string(req.PaymentMethod)); !ok {
		return fault.InvalidInput("unsupported payment method: %q", req.PaymentMethod)
	}
	seen := make(map[uuid.UUID]struct{}, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return fault.InvalidInput("quantity must be greater than 0 for product %s", item.ProductID)
		}
		if _, dup := seen[item.ProductID]; dup {
			return fault.InvalidInput("product %s is listed more than once", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

// Create validates the request, prices it, reserves stock, consumes the
// voucher, seeds the status history and, for external payments, creates a
// payment intent. All of it commits or rolls back together. Purchased lines
// are then removed from the buyer's cart on a best-effort basis.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *CreateResult, rerr error) {
	ctx, span := s.startSpan(ctx, "order.Create",
		attribute.String("shop.id", req.ShopID.String()),
		attribute.String("payment.method", string(req.PaymentMethod)),
	)
	defer func() { endSpan(span, rerr) }()

	if err := validateCreate(req); err != nil {
		return nil, err
	}

	var (
		o      *Order
		intent payment.Intent
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = s.stage(ctx, tx, req)
		if err != nil {
			return err
		}
		if o.PaymentMethod != payment.MethodExternal {
			return nil
		}

		// The gateway goes last so that every local check has passed before
		// the provider sees the intent.
		intent, err = s.payments.CreateIntent(ctx, o.FinalAmount)
		if err != nil {
			s.metrics.paymentsFailed.Add(ctx, 1)
			if fault.KindOf(err) == fault.KindInternal {
				err = fault.External(err, "create payment intent")
			}
			return err
		}
		if err := tx.Orders.SetPaymentIntent(ctx, o.ID, intent.ExternalID); err != nil {
			return errors.Wrap(err, "set payment intent")
		}
		o.PaymentIntentID = intent.ExternalID
		return nil
	})
	if err != nil {
		return nil, wrap(err, "create order")
	}

	s.metrics.created.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.id", o.ID.String()))
	zctx.From(ctx).Info("Order created",
		zap.Stringer("order_id", o.ID),
		zap.Stringer("shop_id", o.ShopID),
		zap.String("final_amount", o.FinalAmount.StringFixed(2)),
	)

	s.clearCart(ctx, o)

	return &CreateResult{
		OrderID:    o.ID,
		PaymentURL: intent.ApprovalURL,
		Order:      o,
	}, nil
}

// stage performs every validation and local write of Create.
func (s *Service) stage(ctx context.Context, tx Tx, req CreateRequest) (*Order, error) {
	sh, err := tx.Shops.Get(ctx, req.ShopID)
	if err != nil {
		return nil, wrap(err, "get shop")
	}
	if sh.Deleted {
		return nil, fault.NotFound("shop %s not found", req.ShopID)
	}
	if !sh.Approved {
		return nil, fault.InvalidInput("shop %s is not approved", req.ShopID)
	}

	addr, err := tx.Addresses.Get(ctx, req.AddressID)
	if err != nil {
		return nil, wrap(err, "get address")
	}
	if !addr.OwnedBy(req.BuyerID) {
		return nil, fault.InvalidInput("address %s does not belong to buyer", req.AddressID)
	}

	products, err := lockProducts(ctx, tx.Products, req.Items)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(req.Items))
	subtotal := decimal.Zero
	for i, line := range req.Items {
		p := products[line.ProductID]
		if p == nil || p.Deleted {
			return nil, fault.NotFound("product %s not found", line.ProductID)
		}
		if p.ShopID != req.ShopID {
			return nil, fault.InvalidInput("product %s does not belong to shop %s", p.ID, req.ShopID)
		}
		if p.Status != product.StatusActive {
			return nil, fault.InvalidInput("product %s is not active", p.ID)
		}
		if p.Stock < line.Quantity {
			return nil, fault.InvalidInput("insufficient stock for product %s", p.ID)
		}

		items[i] = Item{
			ProductID:       p.ID,
			Quantity:        line.Quantity,
			PriceAtPurchase: p.Price,
		}
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	subtotal = subtotal.Round(2)

	var discount *voucher.Discount
	if req.VoucherID.Valid {
		discount, err = s.vouchers.Apply(ctx, tx.Vouchers, voucher.Request{
			BuyerID:   req.BuyerID,
			VoucherID: req.VoucherID.UUID,
			ShopID:    req.ShopID,
			Subtotal:  subtotal,
		})
		if err != nil {
			return nil, wrap(err, "apply voucher")
		}
	}

	o := &Order{
		ID:              uuid.New(),
		BuyerID:         req.BuyerID,
		ShopID:          req.ShopID,
		AddressID:       req.AddressID,
		Subtotal:        subtotal,
		ShippingFee:     s.shippingFee,
		VoucherDiscount: decimal.Zero,
		PaymentMethod:   req.PaymentMethod,
		CreatedAt:       s.now().UTC().Truncate(time.Microsecond),
		Items:           items,
	}
	if discount != nil {
		o.VoucherDiscount = discount.Amount
		o.VoucherID = uuid.NullUUID{UUID: discount.Voucher.ID, Valid: true}
	}
	o.FinalAmount = o.Subtotal.Add(o.ShippingFee).Sub(o.VoucherDiscount).Round(2)

	if err := tx.Orders.Insert(ctx, o); err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	for _, it := range o.Items {
		if err := tx.Products.AdjustStock(ctx, it.ProductID, -it.Quantity, it.Quantity); err != nil {
			return nil, wrap(err, "reserve stock")
		}
	}

	if discount != nil {
		if err := tx.Vouchers.Consume(ctx, discount.Allocation.ID, discount.Voucher.ID, o.ID); err != nil {
			return nil, wrap(err, "consume voucher")
		}
	}

	entry := HistoryEntry{
		Status:      StatusPending,
		Description: describe(StatusPending),
		CreatedAt:   o.CreatedAt,
	}
	if err := tx.Orders.AppendHistory(ctx, o.ID, entry); err != nil {
		return nil, errors.Wrap(err, "append history")
	}

	if err := tx.Events.Enqueue(ctx, createdEvent(o)); err != nil {
		return nil, errors.Wrap(err, "enqueue event")
	}

	return o, nil
}

// lockProducts locks every requested product in ascending id order, so that
// concurrent creations touching overlapping products cannot deadlock. Missing
// products are left out of the result.
func lockProducts(ctx context.Context, catalog product.Catalog, lines []LineRequest) (map[uuid.UUID]*product.Product, error) {
	ids := make([]uuid.UUID, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	out := make(map[uuid.UUID]*product.Product, len(ids))
	for _, id := range ids {
		p, err := catalog.GetForUpdate(ctx, id)
		switch {
		case errors.Is(err, fault.ErrNotFound):
			continue
		case err != nil:
			return nil, errors.Wrapf(err, "lock product %s", id)
		}
		out[id] = p
	}
	return out, nil
}

func (s *Service) clearCart(ctx context.Context, o *Order) {
	lg := zctx.From(ctx).With(zap.Stringer("order_id", o.ID))

	cartID, err := s.carts.ShopCartID(ctx, o.BuyerID, o.ShopID)
	if err != nil {
		if !errors.Is(err, fault.ErrNotFound) {
			lg.Warn("Lookup shop cart", zap.Error(err))
		}
		return
	}
	for _, it := range o.Items {
		if err := s.carts.RemoveLine(ctx, cartID, it.ProductID); err != nil {
			lg.Warn("Remove cart line",
				zap.Stringer("product_id", it.ProductID),
				zap.Error(err),
			)
		}
	}
}
