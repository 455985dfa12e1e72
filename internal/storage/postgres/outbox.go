package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/outbox"
)

const (
	insertOutboxSQL = `INSERT INTO outbox (event_id, event_type, topic, key, payload)
		VALUES ($1, $2, $3, $4, $5)`

	fetchPendingOutboxSQL = `SELECT id, event_id, event_type, topic, key, payload, created_at
		FROM outbox WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markOutboxSentSQL = `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`
)

var (
	_ order.EventSink = (*OutboxWriter)(nil)
	_ outbox.Store    = (*OutboxStore)(nil)
)

// OutboxWriter records domain events in the outbox table of the current
// transaction.
type OutboxWriter struct {
	q     querier
	topic string
}

// Enqueue implements order.EventSink.
func (w *OutboxWriter) Enqueue(ctx context.Context, e order.Event) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s payload", e.Type)
	}
	if _, err := w.q.Exec(ctx, insertOutboxSQL, ulid.Make().String(), e.Type, w.topic, e.Key, data); err != nil {
		return errors.Wrapf(err, "insert %s event", e.Type)
	}
	return nil
}

// OutboxStore implements outbox.Store backed by PostgreSQL.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore returns an OutboxStore that uses the given pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// Process implements outbox.Store. Rows stay locked while fn runs, so
// concurrent relays never publish the same row twice.
func (s *OutboxStore) Process(ctx context.Context, limit int, fn func(ctx context.Context, recs []outbox.Record) error) (int, error) {
	var n int
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, fetchPendingOutboxSQL, limit)
		if err != nil {
			return errors.Wrap(err, "fetch pending")
		}
		recs, err := pgx.CollectRows(rows, scanOutboxRecord)
		if err != nil {
			return errors.Wrap(err, "fetch pending")
		}
		if len(recs) == 0 {
			return nil
		}

		if err := fn(ctx, recs); err != nil {
			return err
		}

		ids := make([]int64, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
		}
		if _, err := tx.Exec(ctx, markOutboxSentSQL, ids); err != nil {
			return errors.Wrap(err, "mark sent")
		}
		n = len(recs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func scanOutboxRecord(row pgx.CollectableRow) (outbox.Record, error) {
	var rec outbox.Record
	err := row.Scan(&rec.ID, &rec.EventID, &rec.EventType, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt)
	return rec, err
}
