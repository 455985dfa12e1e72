package voucher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported voucher discount strategies.
type DiscountType string

const (
	// DiscountPercent takes a percentage of the subtotal, capped by MaxDiscount.
	DiscountPercent DiscountType = "PERCENT"
	// DiscountFixed takes a flat amount, capped at the subtotal.
	DiscountFixed DiscountType = "FIXED"
)

// Voucher is a discount definition issued by a shop, or by the platform when
// ShopID is not set.
type Voucher struct {
	ID            uuid.UUID
	ShopID        uuid.NullUUID
	Code          string
	DiscountType  DiscountType
	Value         decimal.Decimal
	MinOrderValue decimal.Decimal
	MaxDiscount   decimal.NullDecimal
	StartDate     time.Time
	EndDate       time.Time
	Quantity      int
	Deleted       bool
}

// AppliesTo reports whether the voucher can be used on an order from shopID.
func (v *Voucher) AppliesTo(shopID uuid.UUID) bool {
	return !v.ShopID.Valid || v.ShopID.UUID == shopID
}

// Allocation is one user's claim on a voucher. It is consumed by at most one
// order.
type Allocation struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	VoucherID uuid.UUID
	Used      bool
	OrderID   uuid.NullUUID
}

// Ledger provides transactional access to voucher allocations.
type Ledger interface {
	// FindUnusedAllocation returns the buyer's unused allocation of the voucher
	// together with the voucher itself, or a fault.NotFound error.
	FindUnusedAllocation(ctx context.Context, buyerID, voucherID uuid.UUID) (*Allocation, *Voucher, error)
	// Consume marks the allocation used by orderID and takes one unit off the
	// voucher's remaining quantity.
	Consume(ctx context.Context, allocationID, voucherID, orderID uuid.UUID) error
	// Restore releases a consumed allocation.
	Restore(ctx context.Context, allocationID uuid.UUID) error
}
