package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Evaluator checks a coupon's eligibility against a priced cart.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator creates an Evaluator that checks validity windows against
// now.
func NewEvaluator(now func() time.Time) *Evaluator {
	return &Evaluator{now: now}
}

// EvaluateCode resolves a coupon code and evaluates it like Evaluate.
func (e *Evaluator) EvaluateCode(ctx context.Context, store Store, code string, lines []Line, customerID *int64) (*Discount, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	id, err := store.CouponIDByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return e.Evaluate(ctx, store, id, lines, customerID)
}

// Evaluate loads and locks the coupon, runs the eligibility checks in order
// and prices the discount. customerID is nil for guest checkouts, in which
// case the per-customer cap is not checked.
//
// Evaluate never writes: usage is implied by the order that will reference
// the coupon.
func (e *Evaluator) Evaluate(ctx context.Context, store Store, couponID int64, lines []Line, customerID *int64) (*Discount, error) {
	c, err := store.LockCoupon(ctx, couponID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lock coupon")
	}

	if !c.Active {
		return nil, ErrInactive
	}

	now := e.now()
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return nil, ErrNotYetValid
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return nil, ErrExpired
	}

	if c.MaxUsage != nil {
		used, err := store.CountUsage(ctx, c.ID)
		if err != nil {
			return nil, errors.Wrap(err, "count coupon usage")
		}
		if used >= *c.MaxUsage {
			return nil, ErrUsageLimitReached
		}
	}

	if customerID != nil && c.MaxUsagePerUser != nil {
		used, err := store.CountCustomerUsage(ctx, c.ID, *customerID)
		if err != nil {
			return nil, errors.Wrap(err, "count customer coupon usage")
		}
		if used >= *c.MaxUsagePerUser {
			return nil, ErrPerUserLimitReached
		}
	}

	d, err := Apply(c, lines)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
