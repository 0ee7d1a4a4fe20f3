package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/store-backoffice/internal/domain/coupon"
)

const (
	lockCouponSQL = `SELECT id, code, discount_type, amount, is_global, min_purchase,
		max_usage, max_usage_per_user, starts_at, ends_at, active
		FROM coupons WHERE id = $1
		FOR UPDATE`

	couponProductsSQL = `SELECT product_id FROM coupon_products WHERE coupon_id = $1 ORDER BY product_id`

	couponIDByCodeSQL = `SELECT id FROM coupons WHERE code = $1`

	countCouponUsageSQL = `SELECT count(*) FROM orders WHERE coupon_id = $1`

	countCustomerCouponUsageSQL = `SELECT count(*) FROM orders WHERE coupon_id = $1 AND user_id = $2`
)

// LockCoupon locks the coupon row and loads its product scope in one round
// trip.
func (t *Tx) LockCoupon(ctx context.Context, id int64) (*coupon.Coupon, error) {
	var (
		c     coupon.Coupon
		found bool
	)

	b := &pgx.Batch{}
	b.Queue(lockCouponSQL, id).QueryRow(func(row pgx.Row) error {
		var typ string
		err := row.Scan(&c.ID, &c.Code, &typ, &c.Amount, &c.Global, &c.MinPurchase,
			&c.MaxUsage, &c.MaxUsagePerUser, &c.StartsAt, &c.EndsAt, &c.Active)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		c.Type = coupon.DiscountType(typ)
		found = true
		return nil
	})
	b.Queue(couponProductsSQL, id).Query(func(rows pgx.Rows) error {
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		c.ProductIDs = ids
		return err
	})

	if err := t.q.SendBatch(ctx, b).Close(); err != nil {
		return nil, errors.Wrapf(err, "lock coupon %d", id)
	}
	if !found {
		return nil, coupon.ErrNotFound
	}
	return &c, nil
}

// CouponIDByCode resolves a normalized coupon code.
func (t *Tx) CouponIDByCode(ctx context.Context, code string) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, couponIDByCodeSQL, code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, coupon.ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrapf(err, "find coupon %q", code)
	}
	return id, nil
}

// CountUsage returns how many orders reference the coupon.
func (t *Tx) CountUsage(ctx context.Context, couponID int64) (int, error) {
	var n int
	if err := t.q.QueryRow(ctx, countCouponUsageSQL, couponID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count usage of coupon %d", couponID)
	}
	return n, nil
}

// CountCustomerUsage returns how many of the customer's orders reference the
// coupon.
func (t *Tx) CountCustomerUsage(ctx context.Context, couponID, customerID int64) (int, error) {
	var n int
	if err := t.q.QueryRow(ctx, countCustomerCouponUsageSQL, couponID, customerID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count usage of coupon %d by customer %d", couponID, customerID)
	}
	return n, nil
}
