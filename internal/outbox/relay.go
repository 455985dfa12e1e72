// Package outbox delivers domain events recorded in the outbox table to
// Kafka. Delivery is at least once: a batch is marked sent only after the
// broker acknowledged every message in it.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Header keys set on every published message.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// Record is one pending outbox row.
type Record struct {
	ID        int64
	EventID   string
	EventType string
	Topic     string
	Key       string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Store hands out pending records.
type Store interface {
	// Process locks up to limit pending records, passes them to fn and marks
	// them sent if fn succeeds. Records locked by another relay are skipped.
	Process(ctx context.Context, limit int, fn func(ctx context.Context, recs []Record) error) (int, error)
}

// Publisher is implemented by *kafka.Writer.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

var _ Publisher = (*kafka.Writer)(nil)

// Config holds Relay settings.
type Config struct {
	Interval  time.Duration `default:"1s"`
	BatchSize int           `default:"100"`
}

// Relay polls the Store and publishes pending records.
type Relay struct {
	store    Store
	pub      Publisher
	interval time.Duration
	batch    int
}

// NewRelay creates a Relay.
func NewRelay(store Store, pub Publisher, cfg Config) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		store:    store,
		pub:      pub,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
	}
}

// NewKafkaWriter returns a writer that routes each message to its own topic
// and keeps messages of one order on one partition.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// Run publishes pending records until ctx is done. Full batches are followed
// immediately by the next one; otherwise the relay waits for the interval.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	lg.Info("Relay started", zap.Duration("interval", r.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			lg.Info("Relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.Flush(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			lg.Error("Flush outbox", zap.Error(err))
			timer.Reset(r.interval)
		case n == r.batch:
			timer.Reset(0)
		default:
			timer.Reset(r.interval)
		}
	}
}

// Flush publishes a single batch and returns the number of records sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	n, err := r.store.Process(ctx, r.batch, func(ctx context.Context, recs []Record) error {
		if len(recs) == 0 {
			return nil
		}
		msgs := make([]kafka.Message, len(recs))
		for i, rec := range recs {
			msgs[i] = message(rec)
		}
		if err := r.pub.WriteMessages(ctx, msgs...); err != nil {
			return errors.Wrap(err, "write messages")
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "process outbox")
	}
	return n, nil
}

func message(rec Record) kafka.Message {
	return kafka.Message{
		Topic: rec.Topic,
		Key:   []byte(rec.Key),
		Value: rec.Payload,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(rec.EventID)},
			{Key: HeaderEventType, Value: []byte(rec.EventType)},
		},
		Time: rec.CreatedAt,
	}
}
