package order

import (
	"bytes"
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/fault"
)

// Cancel cancels the order on behalf of its buyer or the shop owner and
// returns every reserved unit to stock. Only Pending, Paid and Processing
// orders can be cancelled. The consumed voucher allocation stays used.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (rerr error) {
	ctx, span := s.startSpan(ctx, "order.Cancel",
		attribute.String("order.id", orderID.String()),
	)
	defer func() { endSpan(span, rerr) }()

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		sh, err := tx.Shops.Get(ctx, o.ShopID)
		if err != nil {
			return wrap(err, "get shop")
		}
		byBuyer, bySeller := participant(actor, o, sh)
		if !byBuyer && !bySeller {
			return fault.Unauthorized("no permission to cancel order %s", orderID)
		}

		latest, err := latestStatus(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Cancelled || !latest.Status.Cancellable() {
			return fault.InvalidState("cannot cancel order with status: %s", latest.Status)
		}

		if err := tx.Orders.MarkCancelled(ctx, orderID); err != nil {
			return errors.Wrap(err, "mark cancelled")
		}

		// Same ascending order as Create locks products in.
		items := slices.Clone(o.Items)
		slices.SortFunc(items, func(a, b Item) int { return bytes.Compare(a.ProductID[:], b.ProductID[:]) })
		for _, it := range items {
			if err := tx.Products.AdjustStock(ctx, it.ProductID, it.Quantity, -it.Quantity); err != nil {
				return wrap(err, "restore stock")
			}
		}

		entry := HistoryEntry{
			Status:      StatusCancelled,
			Description: describeCancel(!byBuyer),
			CreatedAt:   s.stamp(latest.CreatedAt),
		}
		if err := tx.Orders.AppendHistory(ctx, orderID, entry); err != nil {
			return errors.Wrap(err, "append history")
		}
		if err := tx.Events.Enqueue(ctx, statusEvent(EventCancelled, orderID, actor.UserID, entry)); err != nil {
			return errors.Wrap(err, "enqueue event")
		}
		return nil
	})
	if err != nil {
		return wrap(err, "cancel order")
	}

	s.metrics.cancelled.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled", zap.Stringer("order_id", orderID))
	return nil
}
