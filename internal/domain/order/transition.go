package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/shop"
)

// StatusUpdate is the result of a successful status transition.
type StatusUpdate struct {
	OrderID     uuid.UUID
	Status      Status
	Description string
	UpdatedAt   time.Time
}

// UpdateStatus moves the order to target on behalf of the shop owner. The
// current status is read under the order row lock, so two concurrent callers
// cannot both apply a transition that is legal only once.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target Status) (_ *StatusUpdate, rerr error) {
	ctx, span := s.startSpan(ctx, "order.UpdateStatus",
		attribute.String("order.id", orderID.String()),
		attribute.String("order.status", string(target)),
	)
	defer func() { endSpan(span, rerr) }()

	var update *StatusUpdate
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		sh, err := tx.Shops.Get(ctx, o.ShopID)
		if err != nil {
			return wrap(err, "get shop")
		}
		if sh.OwnerID != actor.UserID {
			return fault.Unauthorized("only the shop owner can update order %s", orderID)
		}

		latest, err := latestStatus(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if latest.Status.Final() {
			return fault.InvalidState("cannot update order with status: %s", latest.Status)
		}
		if !CanTransition(latest.Status, target) {
			return fault.InvalidState("cannot change order status from %s to %s", latest.Status, target)
		}

		entry := HistoryEntry{
			Status:      target,
			Description: describe(target),
			CreatedAt:   s.stamp(latest.CreatedAt),
		}
		if err := tx.Orders.AppendHistory(ctx, orderID, entry); err != nil {
			return errors.Wrap(err, "append history")
		}
		if err := tx.Events.Enqueue(ctx, statusEvent(EventStatusChanged, orderID, actor.UserID, entry)); err != nil {
			return errors.Wrap(err, "enqueue event")
		}

		update = &StatusUpdate{
			OrderID:     orderID,
			Status:      entry.Status,
			Description: entry.Description,
			UpdatedAt:   entry.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "update order status")
	}

	s.metrics.statusChanged.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(target))))
	zctx.From(ctx).Info("Order status changed",
		zap.Stringer("order_id", orderID),
		zap.String("status", string(target)),
	)
	return update, nil
}

// lockOrder returns the order under a row lock, treating soft-deleted orders
// as missing.
func lockOrder(ctx context.Context, tx Tx, orderID uuid.UUID) (*Order, error) {
	o, err := tx.Orders.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, wrap(err, "get order")
	}
	if o.Deleted {
		return nil, fault.NotFound("order %s not found", orderID)
	}
	return o, nil
}

func latestStatus(ctx context.Context, tx Tx, orderID uuid.UUID) (*HistoryEntry, error) {
	latest, err := tx.Orders.LatestStatus(ctx, orderID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil, fault.NotFound("order status not found")
		}
		return nil, errors.Wrap(err, "latest status")
	}
	return latest, nil
}

// participant reports whether actor is the buyer or the owner of the shop.
func participant(actor auth.Actor, o *Order, sh *shop.Shop) (buyer, seller bool) {
	return o.BuyerID == actor.UserID, sh.OwnerID == actor.UserID
}
