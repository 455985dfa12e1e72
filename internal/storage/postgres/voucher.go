package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/voucher"
)

const (
	// Both the allocation and the voucher are locked: the allocation so it is
	// consumed once, the voucher so its remaining quantity is decremented
	// serially.
	findUnusedAllocationSQL = `SELECT uv.id, uv.user_id, uv.voucher_id,
		v.id, v.shop_id, v.code, v.discount_type, v.value, v.min_order_value, v.max_discount,
		v.start_date, v.end_date, v.quantity, v.deleted
		FROM user_vouchers uv
		JOIN vouchers v ON v.id = uv.voucher_id
		WHERE uv.user_id = $1 AND uv.voucher_id = $2 AND NOT uv.used
		ORDER BY uv.id
		LIMIT 1
		FOR UPDATE OF uv, v`

	decrementVoucherSQL = `UPDATE vouchers SET quantity = quantity - 1 WHERE id = $1 AND quantity > 0`

	consumeAllocationSQL = `UPDATE user_vouchers SET used = TRUE, order_id = $2, used_at = now()
		WHERE id = $1 AND NOT used`

	restoreAllocationSQL = `UPDATE user_vouchers SET used = FALSE, order_id = NULL, used_at = NULL
		WHERE id = $1`

	voucherExistsSQL = `SELECT EXISTS (SELECT 1 FROM vouchers WHERE id = $1 AND NOT deleted)`

	createGrantStagingSQL = `CREATE TEMP TABLE voucher_grant_staging (user_id UUID NOT NULL) ON COMMIT DROP`

	grantFromStagingSQL = `INSERT INTO user_vouchers (id, user_id, voucher_id)
		SELECT gen_random_uuid(), s.user_id, $1
		FROM (SELECT DISTINCT user_id FROM voucher_grant_staging) s
		JOIN users u ON u.id = s.user_id AND NOT u.deleted
		WHERE NOT EXISTS (
			SELECT 1 FROM user_vouchers uv
			WHERE uv.user_id = s.user_id AND uv.voucher_id = $1 AND NOT uv.used
		)`
)

var _ voucher.Ledger = (*VoucherLedger)(nil)

// VoucherLedger implements voucher.Ledger backed by PostgreSQL. The pool
// backed variant returned by NewVoucherLedger is used for bulk grants.
type VoucherLedger struct {
	q querier
}

// NewVoucherLedger returns a VoucherLedger that runs on the pool.
func NewVoucherLedger(pool *pgxpool.Pool) *VoucherLedger {
	return &VoucherLedger{q: pool}
}

// FindUnusedAllocation returns the buyer's oldest unused allocation of the
// voucher and locks it together with the voucher row.
func (r *VoucherLedger) FindUnusedAllocation(ctx context.Context, buyerID, voucherID uuid.UUID) (*voucher.Allocation, *voucher.Voucher, error) {
	rows, err := r.q.Query(ctx, findUnusedAllocationSQL, buyerID, voucherID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "find allocation of voucher %s", voucherID)
	}

	type pair struct {
		a voucher.Allocation
		v voucher.Voucher
	}
	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (pair, error) {
		var (
			p            pair
			discountType string
		)
		err := row.Scan(
			&p.a.ID, &p.a.UserID, &p.a.VoucherID,
			&p.v.ID, &p.v.ShopID, &p.v.Code, &discountType, &p.v.Value, &p.v.MinOrderValue, &p.v.MaxDiscount,
			&p.v.StartDate, &p.v.EndDate, &p.v.Quantity, &p.v.Deleted,
		)
		p.v.DiscountType = voucher.DiscountType(discountType)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fault.NotFound("voucher %s not found for buyer", voucherID)
		}
		return nil, nil, errors.Wrapf(err, "find allocation of voucher %s", voucherID)
	}
	return &p.a, &p.v, nil
}

// Consume takes one unit off the voucher and binds the allocation to the
// order.
func (r *VoucherLedger) Consume(ctx context.Context, allocationID, voucherID, orderID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, decrementVoucherSQL, voucherID)
	if err != nil {
		return errors.Wrapf(err, "decrement voucher %s", voucherID)
	}
	if tag.RowsAffected() == 0 {
		return fault.InvalidInput("voucher %s has been fully redeemed", voucherID)
	}

	tag, err = r.q.Exec(ctx, consumeAllocationSQL, allocationID, orderID)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fault.InvalidState("order %s already consumed a voucher", orderID)
		}
		return errors.Wrapf(err, "consume allocation %s", allocationID)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("voucher allocation %s not available", allocationID)
	}
	return nil
}

// Restore releases a consumed allocation. The voucher quantity is left
// untouched.
func (r *VoucherLedger) Restore(ctx context.Context, allocationID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, restoreAllocationSQL, allocationID)
	if err != nil {
		return errors.Wrapf(err, "restore allocation %s", allocationID)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("voucher allocation %s not found", allocationID)
	}
	return nil
}

// Grant allocates the voucher once to every listed user that exists, is not
// deleted and does not already hold an unused allocation of it. Ids are
// streamed with COPY into a transaction-scoped staging table. It returns the
// number of allocations created.
func (r *VoucherLedger) Grant(ctx context.Context, voucherID uuid.UUID, userIDs []uuid.UUID) (int64, error) {
	var granted int64
	err := pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, voucherExistsSQL, voucherID).Scan(&exists); err != nil {
			return errors.Wrapf(err, "check voucher %s", voucherID)
		}
		if !exists {
			return fault.NotFound("voucher %s not found", voucherID)
		}

		if _, err := tx.Exec(ctx, createGrantStagingSQL); err != nil {
			return errors.Wrap(err, "create staging table")
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"voucher_grant_staging"},
			[]string{"user_id"},
			pgx.CopyFromSlice(len(userIDs), func(i int) ([]any, error) {
				return []any{userIDs[i]}, nil
			}),
		); err != nil {
			return errors.Wrap(err, "copy user ids")
		}

		tag, err := tx.Exec(ctx, grantFromStagingSQL, voucherID)
		if err != nil {
			return errors.Wrapf(err, "grant voucher %s", voucherID)
		}
		granted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return granted, nil
}
