package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Apply computes the discount of c against lines. It checks the minimum
// purchase threshold but none of the time or usage constraints.
// The result is rounded to cents and bounded by [0, eligible].
func Apply(c *Coupon, lines []Line) (Discount, error) {
	eligible := EligibleAmount(c, lines)

	if c.MinPurchase.Valid && eligible.LessThan(c.MinPurchase.Decimal) {
		return Discount{}, &MinimumPurchaseError{Required: c.MinPurchase.Decimal, Eligible: eligible}
	}

	var raw decimal.Decimal
	switch c.Type {
	case DiscountFlat:
		raw = c.Amount
	case DiscountPercent:
		raw = eligible.Mul(c.Amount).Div(hundred)
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", c.Type)
	}

	amount := decimal.Min(floorAtZero(raw).Round(2), eligible)

	return Discount{
		CouponID: c.ID,
		Code:     c.Code,
		Eligible: eligible,
		Amount:   floorAtZero(amount),
	}, nil
}

// EligibleAmount sums the lines the coupon applies to.
func EligibleAmount(c *Coupon, lines []Line) decimal.Decimal {
	sum := zero
	for _, l := range lines {
		if c.Covers(l.ProductID) {
			sum = sum.Add(l.Amount())
		}
	}
	return sum
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
