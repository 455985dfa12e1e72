package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/address"
	"github.com/xenking/bazaar/internal/domain/payment"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/domain/shop"
	"github.com/xenking/bazaar/internal/domain/voucher"
)

// Order is a buyer's purchase from a single shop. Monetary fields and items
// are frozen at creation; only Cancelled and PaymentIntentID change later.
type Order struct {
	ID              uuid.UUID
	BuyerID         uuid.UUID
	ShopID          uuid.UUID
	AddressID       uuid.UUID
	Subtotal        decimal.Decimal
	ShippingFee     decimal.Decimal
	VoucherDiscount decimal.Decimal
	FinalAmount     decimal.Decimal
	PaymentMethod   payment.Method
	PaymentIntentID string
	VoucherID       uuid.NullUUID
	Cancelled       bool
	Deleted         bool
	CreatedAt       time.Time
	Items           []Item
}

// Item is one order line with the unit price captured at purchase time.
type Item struct {
	ProductID       uuid.UUID
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// HistoryEntry is one row of the append-only status log. The most recent
// entry defines the order's current status.
type HistoryEntry struct {
	Status      Status
	Description string
	CreatedAt   time.Time
}

// SellerOrder is the seller-facing projection of an order.
type SellerOrder struct {
	OrderID         uuid.UUID
	BuyerID         uuid.UUID
	CustomerName    string
	CustomerEmail   string
	Subtotal        decimal.Decimal
	ShippingFee     decimal.Decimal
	VoucherDiscount decimal.Decimal
	FinalAmount     decimal.Decimal
	PaymentMethod   payment.Method
	Status          Status
	ItemCount       int
	CreatedAt       time.Time
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// Repository persists orders, their items and status history. All methods
// run inside the transaction that produced the Repository.
type Repository interface {
	// Insert stores the order and its items.
	Insert(ctx context.Context, o *Order) error
	// Get returns the order with its items, or a fault.NotFound error.
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	// GetForUpdate is Get with a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	// LatestStatus returns the newest history entry, or a fault.NotFound error.
	LatestStatus(ctx context.Context, id uuid.UUID) (*HistoryEntry, error)
	AppendHistory(ctx context.Context, id uuid.UUID, e HistoryEntry) error
	// History returns all entries, newest first.
	History(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error)
	// ListBySeller returns the shop's orders, newest first, excluding
	// soft-deleted ones.
	ListBySeller(ctx context.Context, shopID uuid.UUID, page Page) ([]SellerOrder, error)
}

// Event is a domain event recorded in the same transaction as the change it
// describes.
type Event struct {
	Type    string
	Key     string
	Payload any
}

// EventSink records events for asynchronous delivery.
type EventSink interface {
	Enqueue(ctx context.Context, e Event) error
}

// Tx bundles the collaborators bound to a single database transaction.
type Tx struct {
	Orders    Repository
	Shops     shop.Directory
	Addresses address.Book
	Products  product.Catalog
	Vouchers  voucher.Ledger
	Events    EventSink
}

// Transactor runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
