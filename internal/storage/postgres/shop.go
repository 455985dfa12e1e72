package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/bazaar/internal/domain/address"
	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/shop"
)

const (
	getShopSQL    = `SELECT id, owner_id, name, approved, deleted FROM shops WHERE id = $1`
	getAddressSQL = `SELECT id, user_id, line, deleted FROM addresses WHERE id = $1`
)

var (
	_ shop.Directory = (*ShopDirectory)(nil)
	_ address.Book   = (*AddressBook)(nil)
)

// ShopDirectory implements shop.Directory backed by PostgreSQL.
type ShopDirectory struct {
	q querier
}

// Get returns the shop, including soft-deleted ones.
func (r *ShopDirectory) Get(ctx context.Context, id uuid.UUID) (*shop.Shop, error) {
	rows, err := r.q.Query(ctx, getShopSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get shop %s", id)
	}
	s, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (shop.Shop, error) {
		var s shop.Shop
		err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.Approved, &s.Deleted)
		return s, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("shop %s not found", id)
		}
		return nil, errors.Wrapf(err, "get shop %s", id)
	}
	return &s, nil
}

// AddressBook implements address.Book backed by PostgreSQL.
type AddressBook struct {
	q querier
}

// Get returns the address, including soft-deleted ones.
func (r *AddressBook) Get(ctx context.Context, id uuid.UUID) (*address.Address, error) {
	rows, err := r.q.Query(ctx, getAddressSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get address %s", id)
	}
	a, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (address.Address, error) {
		var a address.Address
		err := row.Scan(&a.ID, &a.UserID, &a.Line, &a.Deleted)
		return a, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("address %s not found", id)
		}
		return nil, errors.Wrapf(err, "get address %s", id)
	}
	return &a, nil
}
