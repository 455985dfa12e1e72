package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/payment"
	"github.com/xenking/bazaar/internal/domain/voucher"
)

const instrumentationName = "github.com/xenking/bazaar/internal/domain/order"

// VoucherApplier validates and prices a voucher inside an order transaction.
type VoucherApplier interface {
	Apply(ctx context.Context, ledger voucher.Ledger, req voucher.Request) (*voucher.Discount, error)
}

// Options holds optional Service settings.
type Options struct {
	// ShippingFee is the flat fee added to every order.
	ShippingFee    decimal.Decimal
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

type serviceMetrics struct {
	created        metric.Int64Counter
	cancelled      metric.Int64Counter
	statusChanged  metric.Int64Counter
	paymentsFailed metric.Int64Counter
}

// Service implements the order lifecycle: creation, seller status
// transitions, cancellation and read projections.
type Service struct {
	tx          Transactor
	vouchers    VoucherApplier
	payments    payment.Gateway
	carts       cart.Store
	shippingFee decimal.Decimal
	now         func() time.Time
	tracer      trace.Tracer
	metrics     serviceMetrics
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	tx Transactor,
	vouchers VoucherApplier,
	payments payment.Gateway,
	carts cart.Store,
	opts Options,
) (*Service, error) {
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.ShippingFee.IsNegative() {
		return nil, errors.New("shipping fee must not be negative")
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	var (
		m   serviceMetrics
		err error
	)
	if m.created, err = meter.Int64Counter("bazaar.orders.created",
		metric.WithDescription("Orders created")); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if m.cancelled, err = meter.Int64Counter("bazaar.orders.cancelled",
		metric.WithDescription("Orders cancelled")); err != nil {
		return nil, errors.Wrap(err, "orders.cancelled counter")
	}
	if m.statusChanged, err = meter.Int64Counter("bazaar.orders.status_changed",
		metric.WithDescription("Seller status transitions")); err != nil {
		return nil, errors.Wrap(err, "orders.status_changed counter")
	}
	if m.paymentsFailed, err = meter.Int64Counter("bazaar.payments.failed",
		metric.WithDescription("Payment intents the gateway refused")); err != nil {
		return nil, errors.Wrap(err, "payments.failed counter")
	}

	return &Service{
		tx:          tx,
		vouchers:    vouchers,
		payments:    payments,
		carts:       carts,
		shippingFee: opts.ShippingFee.Round(2),
		now:         time.Now,
		tracer:      opts.TracerProvider.Tracer(instrumentationName),
		metrics:     m,
	}, nil
}

// stamp returns a history timestamp strictly after the previous entry, at
// the microsecond precision Postgres stores.
func (s *Service) stamp(after time.Time) time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(after) {
		now = after.Add(time.Microsecond)
	}
	return now
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// wrap passes classified errors through untouched so callers see the
// original kind and message, and wraps everything else.
func wrap(err error, msg string) error {
	if fault.KindOf(err) != fault.KindInternal {
		return err
	}
	return errors.Wrap(err, msg)
}
