//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/payment"
	"github.com/xenking/bazaar/internal/domain/voucher"
	"github.com/xenking/bazaar/internal/outbox"
)

const testTopic = "order-events"

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bazaar",
				"POSTGRES_PASSWORD": "bazaar",
				"POSTGRES_DB":       "bazaar",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = ctr.Terminate(context.Background()) }()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://bazaar:bazaar@%s:%s/bazaar?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	return m.Run()
}

// --- Fixtures ---

type world struct {
	buyer   auth.Actor
	seller  auth.Actor
	shopID  uuid.UUID
	address uuid.UUID
	product uuid.UUID
}

var emailSeq atomic.Int64

func exec(t *testing.T, sql string, args ...any) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), sql, args...)
	require.NoError(t, err)
}

func newUser(t *testing.T, role auth.Role) auth.Actor {
	t.Helper()
	a := auth.Actor{
		UserID: uuid.New(),
		Email:  fmt.Sprintf("user%d@example.com", emailSeq.Add(1)),
		Role:   role,
	}
	exec(t, `INSERT INTO users (id, email, full_name) VALUES ($1, $2, $3)`, a.UserID, a.Email, "Test "+string(role))
	return a
}

func newWorld(t *testing.T, stock int) world {
	t.Helper()
	w := world{
		buyer:   newUser(t, auth.RoleBuyer),
		seller:  newUser(t, auth.RoleSeller),
		shopID:  uuid.New(),
		address: uuid.New(),
		product: uuid.New(),
	}
	exec(t, `INSERT INTO shops (id, owner_id, name, approved) VALUES ($1, $2, 'Test Shop', TRUE)`, w.shopID, w.seller.UserID)
	exec(t, `INSERT INTO addresses (id, user_id, line) VALUES ($1, $2, '1 Test Road')`, w.address, w.buyer.UserID)
	exec(t, `INSERT INTO products (id, shop_id, name, price, stock) VALUES ($1, $2, 'Widget', 10.00, $3)`, w.product, w.shopID, stock)
	return w
}

func (w world) request(qty int) order.CreateRequest {
	return order.CreateRequest{
		BuyerID:       w.buyer.UserID,
		ShopID:        w.shopID,
		AddressID:     w.address,
		PaymentMethod: payment.MethodCOD,
		Items:         []order.LineRequest{{ProductID: w.product, Quantity: qty}},
	}
}

func newService(t *testing.T) *order.Service {
	t.Helper()
	svc, err := order.NewService(
		NewTransactor(testPool, testTopic),
		voucher.NewApplier(),
		payment.Unavailable{},
		NewCartStore(testPool),
		order.Options{ShippingFee: decimal.RequireFromString("5.00")},
	)
	require.NoError(t, err)
	return svc
}

func stockOf(t *testing.T, productID uuid.UUID) (stock, sold int) {
	t.Helper()
	err := testPool.QueryRow(context.Background(),
		`SELECT stock, sold FROM products WHERE id = $1`, productID).Scan(&stock, &sold)
	require.NoError(t, err)
	return stock, sold
}

func eventTypes(t *testing.T, orderID uuid.UUID) []string {
	t.Helper()
	rows, err := testPool.Query(context.Background(),
		`SELECT event_type FROM outbox WHERE key = $1 ORDER BY id`, orderID.String())
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var typ string
		require.NoError(t, rows.Scan(&typ))
		types = append(types, typ)
	}
	require.NoError(t, rows.Err())
	return types
}

// --- Tests ---

func TestCreateCancel_RoundTrip(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, 5)
	svc := newService(t)

	cartID := uuid.New()
	exec(t, `INSERT INTO shop_carts (id, user_id, shop_id) VALUES ($1, $2, $3)`, cartID, w.buyer.UserID, w.shopID)
	exec(t, `INSERT INTO cart_items (shop_cart_id, product_id, quantity) VALUES ($1, $2, 2)`, cartID, w.product)

	res, err := svc.Create(ctx, w.request(2))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("25.00").Equal(res.Order.FinalAmount))

	stock, sold := stockOf(t, w.product)
	assert.Equal(t, 3, stock)
	assert.Equal(t, 2, sold)

	var lines int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM cart_items WHERE shop_cart_id = $1`, cartID).Scan(&lines))
	assert.Zero(t, lines, "purchased lines are removed from the cart")

	detail, err := svc.GetOrder(ctx, w.buyer, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, detail.Status)
	require.Len(t, detail.Order.Items, 1)
	assert.True(t, decimal.RequireFromString("10.00").Equal(detail.Order.Items[0].PriceAtPurchase))

	require.NoError(t, svc.Cancel(ctx, w.buyer, res.OrderID))

	stock, sold = stockOf(t, w.product)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, sold)

	history, err := svc.History(ctx, w.buyer, res.OrderID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, order.StatusCancelled, history[0].Status)
	assert.Equal(t, order.StatusPending, history[1].Status)
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt))

	err = svc.Cancel(ctx, w.buyer, res.OrderID)
	assert.Equal(t, fault.KindInvalidState, fault.KindOf(err))

	assert.Equal(t, []string{order.EventCreated, order.EventCancelled}, eventTypes(t, res.OrderID))
}

func TestCreate_ConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, 1)
	svc := newService(t)

	const buyers = 6
	var wins, outOfStock atomic.Int32
	var g errgroup.Group
	for range buyers {
		g.Go(func() error {
			_, err := svc.Create(ctx, w.request(1))
			switch {
			case err == nil:
				wins.Add(1)
			case fault.KindOf(err) == fault.KindInvalidInput:
				outOfStock.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(buyers-1), outOfStock.Load())
	stock, sold := stockOf(t, w.product)
	assert.Equal(t, 0, stock)
	assert.Equal(t, 1, sold)
}

func TestCreate_WithVoucher(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, 10)
	svc := newService(t)

	voucherID, allocID := uuid.New(), uuid.New()
	exec(t, `INSERT INTO vouchers (id, shop_id, code, discount_type, value, min_order_value, max_discount,
		start_date, end_date, quantity)
		VALUES ($1, $2, 'TEN', 'PERCENT', 10, 0, 5, now() - interval '1 day', now() + interval '1 day', 1)`,
		voucherID, w.shopID)
	exec(t, `INSERT INTO user_vouchers (id, user_id, voucher_id) VALUES ($1, $2, $3)`, allocID, w.buyer.UserID, voucherID)

	req := w.request(8)
	req.VoucherID = uuid.NullUUID{UUID: voucherID, Valid: true}
	res, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("5.00").Equal(res.Order.VoucherDiscount))
	assert.True(t, decimal.RequireFromString("80.00").Equal(res.Order.FinalAmount))

	var (
		used     bool
		usedBy   uuid.NullUUID
		quantity int
	)
	require.NoError(t, testPool.QueryRow(ctx,
		`SELECT used, order_id FROM user_vouchers WHERE id = $1`, allocID).Scan(&used, &usedBy))
	require.NoError(t, testPool.QueryRow(ctx,
		`SELECT quantity FROM vouchers WHERE id = $1`, voucherID).Scan(&quantity))
	assert.True(t, used)
	assert.Equal(t, res.OrderID, usedBy.UUID)
	assert.Zero(t, quantity)

	_, err = svc.Create(ctx, req)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestCreate_ExternalWithoutGatewayRollsBack(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, 3)
	svc := newService(t)

	req := w.request(1)
	req.PaymentMethod = payment.MethodExternal
	_, err := svc.Create(ctx, req)
	assert.Equal(t, fault.KindExternal, fault.KindOf(err))

	stock, sold := stockOf(t, w.product)
	assert.Equal(t, 3, stock)
	assert.Equal(t, 0, sold)

	var orders int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE buyer_id = $1`, w.buyer.UserID).Scan(&orders))
	assert.Zero(t, orders)
}

func TestUpdateStatus_AndSellerOrders(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, 10)
	svc := newService(t)

	first, err := svc.Create(ctx, w.request(1))
	require.NoError(t, err)
	second, err := svc.Create(ctx, w.request(2))
	require.NoError(t, err)

	for _, s := range []order.Status{order.StatusPaid, order.StatusProcessing, order.StatusShipping} {
		_, err := svc.UpdateStatus(ctx, w.seller, first.OrderID, s)
		require.NoError(t, err, s)
	}
	_, err = svc.UpdateStatus(ctx, w.buyer, first.OrderID, order.StatusDelivered)
	assert.Equal(t, fault.KindUnauthorized, fault.KindOf(err))

	rows, err := svc.SellerOrders(ctx, w.seller, w.shopID, order.Page{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, second.OrderID, rows[0].OrderID)
	assert.Equal(t, order.StatusPending, rows[0].Status)
	assert.Equal(t, 1, rows[0].ItemCount)
	assert.Equal(t, first.OrderID, rows[1].OrderID)
	assert.Equal(t, order.StatusShipping, rows[1].Status)
	assert.Equal(t, w.buyer.Email, rows[1].CustomerEmail)

	page, err := svc.SellerOrders(ctx, w.seller, w.shopID, order.Page{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.OrderID, page[0].OrderID)
}

func TestOutboxStore_Process(t *testing.T) {
	ctx := context.Background()
	exec(t, `UPDATE outbox SET sent_at = now() WHERE sent_at IS NULL`)

	w := newWorld(t, 10)
	svc := newService(t)
	res, err := svc.Create(ctx, w.request(1))
	require.NoError(t, err)

	store := NewOutboxStore(testPool)

	_, err = store.Process(ctx, 10, func(context.Context, []outbox.Record) error {
		return errors.New("broker down")
	})
	require.Error(t, err)

	var got []outbox.Record
	n, err := store.Process(ctx, 10, func(_ context.Context, recs []outbox.Record) error {
		got = append(got, recs...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, order.EventCreated, got[0].EventType)
	assert.Equal(t, testTopic, got[0].Topic)
	assert.Equal(t, res.OrderID.String(), got[0].Key)
	assert.Contains(t, string(got[0].Payload), res.OrderID.String())

	n, err = store.Process(ctx, 10, func(context.Context, []outbox.Record) error {
		t.Fatal("no pending records expected")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVoucherLedger_Grant(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, 1)
	other := newUser(t, auth.RoleBuyer)

	voucherID := uuid.New()
	exec(t, `INSERT INTO vouchers (id, code, discount_type, value, start_date, end_date, quantity)
		VALUES ($1, 'FIVE', 'FIXED', 5, now(), now() + interval '1 day', 10)`, voucherID)
	exec(t, `INSERT INTO user_vouchers (id, user_id, voucher_id) VALUES ($1, $2, $3)`, uuid.New(), w.buyer.UserID, voucherID)

	ledger := NewVoucherLedger(testPool)
	n, err := ledger.Grant(ctx, voucherID, []uuid.UUID{w.buyer.UserID, other.UserID, other.UserID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "existing holder, duplicate and unknown user are skipped")

	_, err = ledger.Grant(ctx, uuid.New(), []uuid.UUID{other.UserID})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}
