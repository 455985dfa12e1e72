package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/order"
)

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs order units of work in a READ COMMITTED transaction. Rows
// that decisions depend on are locked with SELECT ... FOR UPDATE by the
// repositories.
type Transactor struct {
	pool  *pgxpool.Pool
	topic string
}

// NewTransactor returns a Transactor whose events are recorded in the outbox
// under topic.
func NewTransactor(pool *pgxpool.Pool, topic string) *Transactor {
	return &Transactor{pool: pool, topic: topic}
}

// WithinTx implements order.Transactor.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ptx pgx.Tx) error {
		return fn(ctx, order.Tx{
			Orders:    &OrderRepository{q: ptx},
			Shops:     &ShopDirectory{q: ptx},
			Addresses: &AddressBook{q: ptx},
			Products:  &ProductCatalog{q: ptx},
			Vouchers:  &VoucherLedger{q: ptx},
			Events:    &OutboxWriter{q: ptx, topic: t.topic},
		})
	})
}
