package order

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/address"
	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/payment"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/domain/shop"
	"github.com/xenking/bazaar/internal/domain/voucher"
)

// --- In-memory transactional store ---

// memStore serializes transactions behind a single mutex and restores a
// snapshot when the transaction function fails.
type memStore struct {
	mu sync.Mutex

	shops     map[uuid.UUID]shop.Shop
	addresses map[uuid.UUID]address.Address
	products  map[uuid.UUID]product.Product
	vouchers  map[uuid.UUID]voucher.Voucher
	allocs    map[uuid.UUID]voucher.Allocation
	users     map[uuid.UUID]string
	orders    map[uuid.UUID]Order
	history   map[uuid.UUID][]HistoryEntry
	events    []Event
}

func newMemStore() *memStore {
	return &memStore{
		shops:     map[uuid.UUID]shop.Shop{},
		addresses: map[uuid.UUID]address.Address{},
		products:  map[uuid.UUID]product.Product{},
		vouchers:  map[uuid.UUID]voucher.Voucher{},
		allocs:    map[uuid.UUID]voucher.Allocation{},
		users:     map[uuid.UUID]string{},
		orders:    map[uuid.UUID]Order{},
		history:   map[uuid.UUID][]HistoryEntry{},
	}
}

type memSnapshot struct {
	products map[uuid.UUID]product.Product
	vouchers map[uuid.UUID]voucher.Voucher
	allocs   map[uuid.UUID]voucher.Allocation
	orders   map[uuid.UUID]Order
	history  map[uuid.UUID][]HistoryEntry
	events   []Event
}

func (m *memStore) snapshot() memSnapshot {
	h := make(map[uuid.UUID][]HistoryEntry, len(m.history))
	for k, v := range m.history {
		h[k] = slices.Clone(v)
	}
	return memSnapshot{
		products: maps.Clone(m.products),
		vouchers: maps.Clone(m.vouchers),
		allocs:   maps.Clone(m.allocs),
		orders:   maps.Clone(m.orders),
		history:  h,
		events:   slices.Clone(m.events),
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.products = s.products
	m.vouchers = s.vouchers
	m.allocs = s.allocs
	m.orders = s.orders
	m.history = s.history
	m.events = s.events
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	err := fn(ctx, Tx{
		Orders:    memOrders{m},
		Shops:     memShops{m},
		Addresses: memAddresses{m},
		Products:  memProducts{m},
		Vouchers:  memVouchers{m},
		Events:    memEvents{m},
	})
	if err != nil {
		m.restore(snap)
	}
	return err
}

// Accessors below are for assertions outside of transactions.

func (m *memStore) product(id uuid.UUID) product.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id]
}

func (m *memStore) allocation(id uuid.UUID) voucher.Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocs[id]
}

func (m *memStore) voucherQty(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vouchers[id].Quantity
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) storedOrder(id uuid.UUID) Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memStore) historyOf(id uuid.UUID) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history[id])
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type memOrders struct{ m *memStore }

func (r memOrders) Insert(_ context.Context, o *Order) error {
	if _, ok := r.m.orders[o.ID]; ok {
		return errors.New("duplicate order")
	}
	c := *o
	c.Items = slices.Clone(o.Items)
	r.m.orders[o.ID] = c
	return nil
}

func (r memOrders) Get(_ context.Context, id uuid.UUID) (*Order, error) {
	o, ok := r.m.orders[id]
	if !ok {
		return nil, fault.NotFound("order %s not found", id)
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (r memOrders) GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.Get(ctx, id)
}

func (r memOrders) SetPaymentIntent(_ context.Context, id uuid.UUID, intentID string) error {
	o := r.m.orders[id]
	o.PaymentIntentID = intentID
	r.m.orders[id] = o
	return nil
}

func (r memOrders) MarkCancelled(_ context.Context, id uuid.UUID) error {
	o := r.m.orders[id]
	o.Cancelled = true
	r.m.orders[id] = o
	return nil
}

func (r memOrders) LatestStatus(_ context.Context, id uuid.UUID) (*HistoryEntry, error) {
	h := r.m.history[id]
	if len(h) == 0 {
		return nil, fault.NotFound("no status for order %s", id)
	}
	e := h[len(h)-1]
	return &e, nil
}

func (r memOrders) AppendHistory(_ context.Context, id uuid.UUID, e HistoryEntry) error {
	r.m.history[id] = append(r.m.history[id], e)
	return nil
}

func (r memOrders) History(_ context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	h := slices.Clone(r.m.history[id])
	slices.Reverse(h)
	return h, nil
}

func (r memOrders) ListBySeller(_ context.Context, shopID uuid.UUID, page Page) ([]SellerOrder, error) {
	var out []SellerOrder
	for _, o := range r.m.orders {
		if o.ShopID != shopID || o.Deleted {
			continue
		}
		status := StatusUnknown
		if h := r.m.history[o.ID]; len(h) > 0 {
			status = h[len(h)-1].Status
		}
		out = append(out, SellerOrder{
			OrderID:         o.ID,
			BuyerID:         o.BuyerID,
			CustomerEmail:   r.m.users[o.BuyerID],
			Subtotal:        o.Subtotal,
			ShippingFee:     o.ShippingFee,
			VoucherDiscount: o.VoucherDiscount,
			FinalAmount:     o.FinalAmount,
			PaymentMethod:   o.PaymentMethod,
			Status:          status,
			ItemCount:       len(o.Items),
			CreatedAt:       o.CreatedAt,
		})
	}
	slices.SortFunc(out, func(a, b SellerOrder) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

type memShops struct{ m *memStore }

func (r memShops) Get(_ context.Context, id uuid.UUID) (*shop.Shop, error) {
	s, ok := r.m.shops[id]
	if !ok {
		return nil, fault.NotFound("shop %s not found", id)
	}
	return &s, nil
}

type memAddresses struct{ m *memStore }

func (r memAddresses) Get(_ context.Context, id uuid.UUID) (*address.Address, error) {
	a, ok := r.m.addresses[id]
	if !ok {
		return nil, fault.NotFound("address %s not found", id)
	}
	return &a, nil
}

type memProducts struct{ m *memStore }

func (r memProducts) GetForUpdate(_ context.Context, id uuid.UUID) (*product.Product, error) {
	p, ok := r.m.products[id]
	if !ok {
		return nil, fault.NotFound("product %s not found", id)
	}
	return &p, nil
}

func (r memProducts) AdjustStock(_ context.Context, id uuid.UUID, deltaQty, deltaSold int) error {
	p, ok := r.m.products[id]
	if !ok {
		return fault.NotFound("product %s not found", id)
	}
	p.Stock += deltaQty
	p.Sold += deltaSold
	if p.Stock < 0 || p.Sold < 0 {
		return errors.New("stock check constraint violated")
	}
	r.m.products[id] = p
	return nil
}

type memVouchers struct{ m *memStore }

func (r memVouchers) FindUnusedAllocation(_ context.Context, buyerID, voucherID uuid.UUID) (*voucher.Allocation, *voucher.Voucher, error) {
	for _, a := range r.m.allocs {
		if a.UserID != buyerID || a.VoucherID != voucherID || a.Used {
			continue
		}
		v, ok := r.m.vouchers[voucherID]
		if !ok {
			break
		}
		return &a, &v, nil
	}
	return nil, nil, fault.NotFound("voucher %s not found for buyer", voucherID)
}

func (r memVouchers) Consume(_ context.Context, allocationID, voucherID, orderID uuid.UUID) error {
	v := r.m.vouchers[voucherID]
	if v.Quantity <= 0 {
		return fault.InvalidInput("voucher %s has been fully redeemed", v.Code)
	}
	v.Quantity--
	r.m.vouchers[voucherID] = v

	a := r.m.allocs[allocationID]
	a.Used = true
	a.OrderID = uuid.NullUUID{UUID: orderID, Valid: true}
	r.m.allocs[allocationID] = a
	return nil
}

func (r memVouchers) Restore(_ context.Context, allocationID uuid.UUID) error {
	a := r.m.allocs[allocationID]
	a.Used = false
	a.OrderID = uuid.NullUUID{}
	r.m.allocs[allocationID] = a
	return nil
}

type memEvents struct{ m *memStore }

func (r memEvents) Enqueue(_ context.Context, e Event) error {
	r.m.events = append(r.m.events, e)
	return nil
}

// --- Collaborators outside the transaction ---

type fakeGateway struct {
	mu      sync.Mutex
	intent  payment.Intent
	err     error
	amounts []decimal.Decimal
}

func (g *fakeGateway) CreateIntent(_ context.Context, amount decimal.Decimal) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amounts = append(g.amounts, amount)
	if g.err != nil {
		return payment.Intent{}, g.err
	}
	return g.intent, nil
}

type fakeCarts struct {
	mu        sync.Mutex
	carts     map[[2]uuid.UUID]uuid.UUID
	lines     map[uuid.UUID]map[uuid.UUID]bool
	removeErr error
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{
		carts: map[[2]uuid.UUID]uuid.UUID{},
		lines: map[uuid.UUID]map[uuid.UUID]bool{},
	}
}

func (c *fakeCarts) add(buyerID, shopID uuid.UUID, productIDs ...uuid.UUID) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := [2]uuid.UUID{buyerID, shopID}
	id, ok := c.carts[key]
	if !ok {
		id = uuid.New()
		c.carts[key] = id
		c.lines[id] = map[uuid.UUID]bool{}
	}
	for _, p := range productIDs {
		c.lines[id][p] = true
	}
	return id
}

func (c *fakeCarts) has(cartID, productID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines[cartID][productID]
}

func (c *fakeCarts) ShopCartID(_ context.Context, buyerID, shopID uuid.UUID) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.carts[[2]uuid.UUID{buyerID, shopID}]
	if !ok {
		return uuid.Nil, fault.NotFound("cart not found")
	}
	return id, nil
}

func (c *fakeCarts) RemoveLine(_ context.Context, shopCartID, productID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removeErr != nil {
		return c.removeErr
	}
	delete(c.lines[shopCartID], productID)
	return nil
}
