package voucher

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/fault"
)

var hundred = decimal.NewFromInt(100)

// Request is the input of Applier.Apply.
type Request struct {
	BuyerID   uuid.UUID
	VoucherID uuid.UUID
	ShopID    uuid.UUID
	Subtotal  decimal.Decimal
}

// Discount is a priced voucher. Allocation must be consumed by the caller in
// the same transaction that persists the order.
type Discount struct {
	Amount     decimal.Decimal
	Allocation *Allocation
	Voucher    *Voucher
}

// Applier validates a buyer's voucher against an order and prices it.
type Applier struct {
	now func() time.Time
}

// NewApplier creates an Applier using the wall clock.
func NewApplier() *Applier {
	return &Applier{now: time.Now}
}

// Apply checks, in order: the buyer holds an unused allocation, the voucher is
// not deleted, now is within its validity window, the subtotal reaches the
// minimum order value, the voucher belongs to the order's shop (or the
// platform), and units remain. It then computes the discount.
func (a *Applier) Apply(ctx context.Context, ledger Ledger, req Request) (*Discount, error) {
	alloc, v, err := ledger.FindUnusedAllocation(ctx, req.BuyerID, req.VoucherID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "find voucher allocation")
	}

	if v.Deleted {
		return nil, fault.InvalidInput("voucher %s is no longer available", v.Code)
	}

	now := a.now()
	if now.Before(v.StartDate) {
		return nil, fault.InvalidInput("voucher %s is not valid at this time", v.Code)
	}
	if now.After(v.EndDate) {
		return nil, fault.InvalidInput("voucher %s has expired", v.Code)
	}

	if req.Subtotal.LessThan(v.MinOrderValue) {
		return nil, fault.InvalidInput("order subtotal %s is below voucher minimum %s",
			req.Subtotal.StringFixed(2), v.MinOrderValue.StringFixed(2))
	}

	if !v.AppliesTo(req.ShopID) {
		return nil, fault.InvalidInput("voucher %s cannot be used in this shop", v.Code)
	}

	if v.Quantity <= 0 {
		return nil, fault.InvalidInput("voucher %s has been fully redeemed", v.Code)
	}

	amount, err := Compute(v, req.Subtotal)
	if err != nil {
		return nil, err
	}

	return &Discount{
		Amount:     amount,
		Allocation: alloc,
		Voucher:    v,
	}, nil
}

// Compute returns the discount v grants on subtotal, rounded to cents.
func Compute(v *Voucher, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch v.DiscountType {
	case DiscountPercent:
		amount = subtotal.Mul(v.Value).Div(hundred)
		if v.MaxDiscount.Valid {
			amount = decimal.Min(amount, v.MaxDiscount.Decimal)
		}
		amount = decimal.Min(amount, subtotal)
	case DiscountFixed:
		amount = decimal.Min(v.Value, subtotal)
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", v.DiscountType)
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2), nil
}
