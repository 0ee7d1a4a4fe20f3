package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-backoffice/internal/domain/coupon"
)

// CouponCheck asks what a coupon code would take off a cart.
type CouponCheck struct {
	Code           string
	CustomerID     *int64
	ShippingCharge decimal.Decimal
	Lines          []LineRequest
}

// Validate checks the request shape. It does not touch storage.
func (c *CouponCheck) Validate() error {
	if coupon.NormalizeCode(c.Code) == "" {
		return &ValidationError{Field: "code", Message: "is required"}
	}
	if c.CustomerID != nil && *c.CustomerID <= 0 {
		return &ValidationError{Field: "customer_id", Message: "must be a positive id"}
	}
	if c.ShippingCharge.IsNegative() {
		return &ValidationError{Field: "shipping_charge", Message: "must not be negative"}
	}
	return validateLines(c.Lines)
}

// CouponQuote is what a coupon would do to a cart at the time of the check.
type CouponQuote struct {
	CouponID     int64
	Code         string
	ItemSubtotal decimal.Decimal
	// Eligible is the part of ItemSubtotal the coupon applies to.
	Eligible decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// errQuoteDone aborts the unit of work of a coupon check after it succeeded.
var errQuoteDone = errors.New("coupon check done")

// CheckCoupon evaluates a coupon against a cart with the same rules as
// PlaceOrder. Every lock it takes is released by rolling back, so nothing
// is reserved or written.
func (s *Service) CheckCoupon(ctx context.Context, req *CouponCheck) (*CouponQuote, error) {
	const op = "check coupon"

	ctx, span := s.tracer.Start(ctx, "order.CheckCoupon")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	lines := mergedLines(req.Lines)

	var quote *CouponQuote
	err := s.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		snap, err := s.reader.Load(ctx, tx, catalogRequests(lines))
		if err != nil {
			return err
		}

		priced := couponLines(lines, snap)
		discount, err := s.evaluator.EvaluateCode(ctx, tx, req.Code, priced, req.CustomerID)
		if err != nil {
			return err
		}

		subtotal := decimal.Zero
		for _, l := range priced {
			subtotal = subtotal.Add(l.Amount())
		}
		quote = &CouponQuote{
			CouponID:     discount.CouponID,
			Code:         discount.Code,
			ItemSubtotal: subtotal,
			Eligible:     discount.Eligible,
			Discount:     discount.Amount,
			Total:        subtotal.Add(req.ShippingCharge).Sub(discount.Amount),
		}
		return errQuoteDone
	})
	if err != nil && !errors.Is(err, errQuoteDone) {
		e := classify(op, err)
		if e.Reason == "coupon_not_found" {
			e.Field = "code"
		}
		return nil, s.fail(ctx, op, e)
	}
	return quote, nil
}
