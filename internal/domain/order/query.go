package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/fault"
)

// Seller order list bounds.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Detail is an order together with its current status.
type Detail struct {
	Order  *Order
	Status Status
}

// History returns the order's status history, newest first. Only the buyer
// and the shop owner may read it.
func (s *Service) History(ctx context.Context, actor auth.Actor, orderID uuid.UUID) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := s.readable(ctx, tx, actor, orderID); err != nil {
			return err
		}
		var err error
		if out, err = tx.Orders.History(ctx, orderID); err != nil {
			return errors.Wrap(err, "list history")
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "order history")
	}
	return out, nil
}

// GetOrder returns the order with its items and current status. Orders
// without history report StatusUnknown.
func (s *Service) GetOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*Detail, error) {
	var d Detail
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.readable(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		d.Order = o
		d.Status = StatusUnknown

		latest, err := tx.Orders.LatestStatus(ctx, orderID)
		switch {
		case errors.Is(err, fault.ErrNotFound):
		case err != nil:
			return errors.Wrap(err, "latest status")
		default:
			d.Status = latest.Status
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "get order")
	}
	return &d, nil
}

// SellerOrders lists the shop's orders, newest first, for the shop owner.
func (s *Service) SellerOrders(ctx context.Context, actor auth.Actor, shopID uuid.UUID, page Page) ([]SellerOrder, error) {
	page = normalizePage(page)

	var out []SellerOrder
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sh, err := tx.Shops.Get(ctx, shopID)
		if err != nil {
			return wrap(err, "get shop")
		}
		if sh.Deleted {
			return fault.NotFound("shop %s not found", shopID)
		}
		if sh.OwnerID != actor.UserID {
			return fault.Unauthorized("only the shop owner can list its orders")
		}
		if out, err = tx.Orders.ListBySeller(ctx, shopID, page); err != nil {
			return errors.Wrap(err, "list seller orders")
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "seller orders")
	}
	return out, nil
}

func (s *Service) readable(ctx context.Context, tx Tx, actor auth.Actor, orderID uuid.UUID) (*Order, error) {
	o, err := tx.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, wrap(err, "get order")
	}
	if o.Deleted {
		return nil, fault.NotFound("order %s not found", orderID)
	}
	sh, err := tx.Shops.Get(ctx, o.ShopID)
	if err != nil {
		return nil, wrap(err, "get shop")
	}
	if buyer, seller := participant(actor, o, sh); !buyer && !seller {
		return nil, fault.Unauthorized("no permission to view order %s", orderID)
	}
	return o, nil
}

func normalizePage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
