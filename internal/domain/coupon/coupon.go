package coupon

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountFlat subtracts a fixed amount, capped at the eligible amount.
	DiscountFlat DiscountType = "flat"
	// DiscountPercent subtracts a percentage of the eligible amount.
	DiscountPercent DiscountType = "percent"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountFlat || t == DiscountPercent
}

var (
	// ErrNotFound is returned when the referenced coupon does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when the coupon is switched off.
	ErrInactive = errors.New("coupon is not active")
	// ErrNotYetValid is returned before the coupon's validity window opens.
	ErrNotYetValid = errors.New("coupon is not yet valid")
	// ErrExpired is returned after the coupon's validity window closed.
	ErrExpired = errors.New("coupon has expired")
	// ErrUsageLimitReached is returned when the global usage cap is exhausted.
	ErrUsageLimitReached = errors.New("coupon has reached its maximum usage limit")
	// ErrPerUserLimitReached is returned when the customer used the coupon
	// as many times as allowed.
	ErrPerUserLimitReached = errors.New("customer has already used this coupon the maximum number of times")
	// ErrMinimumPurchaseNotMet is returned when the eligible amount is below
	// the coupon's minimum purchase threshold.
	ErrMinimumPurchaseNotMet = errors.New("minimum purchase not met")
)

// MinimumPurchaseError carries the threshold that was not reached.
type MinimumPurchaseError struct {
	Required decimal.Decimal
	Eligible decimal.Decimal
}

func (e *MinimumPurchaseError) Error() string {
	return fmt.Sprintf("a minimum purchase of %s on eligible items is required, got %s",
		e.Required.StringFixed(2), e.Eligible.StringFixed(2))
}

func (e *MinimumPurchaseError) Is(target error) bool {
	return target == ErrMinimumPurchaseNotMet
}

// Coupon is a discount definition. Usage is not stored on the coupon; it is
// derived by counting orders that reference it.
type Coupon struct {
	ID     int64
	Code   string
	Type   DiscountType
	Amount decimal.Decimal
	// Global coupons apply to the whole cart; otherwise only ProductIDs do.
	Global          bool
	ProductIDs      []int64
	MinPurchase     decimal.NullDecimal
	MaxUsage        *int
	MaxUsagePerUser *int
	StartsAt        *time.Time
	EndsAt          *time.Time
	Active          bool
}

// Covers reports whether lines of the given product count towards the
// eligible amount.
func (c *Coupon) Covers(productID int64) bool {
	return c.Global || slices.Contains(c.ProductIDs, productID)
}

// NormalizeCode returns the stored form of a coupon code. Codes are
// compared case-insensitively.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ErrInvalidDefinition is matched by every error returned from Validate.
var ErrInvalidDefinition = errors.New("invalid coupon definition")

// Validate checks a definition before it is stored.
func (c *Coupon) Validate() error {
	switch {
	case c.Code == "":
		return errors.Wrap(ErrInvalidDefinition, "code is required")
	case c.Code != NormalizeCode(c.Code):
		return errors.Wrapf(ErrInvalidDefinition, "code %q must be upper case without surrounding spaces", c.Code)
	case !c.Type.Valid():
		return errors.Wrapf(ErrInvalidDefinition, "unknown discount type %q", c.Type)
	case c.Amount.IsNegative():
		return errors.Wrap(ErrInvalidDefinition, "amount must not be negative")
	case c.Type == DiscountPercent && c.Amount.GreaterThan(hundred):
		return errors.Wrap(ErrInvalidDefinition, "percent amount must not exceed 100")
	case c.MinPurchase.Valid && c.MinPurchase.Decimal.IsNegative():
		return errors.Wrap(ErrInvalidDefinition, "minimum purchase must not be negative")
	case c.MaxUsage != nil && *c.MaxUsage < 0, c.MaxUsagePerUser != nil && *c.MaxUsagePerUser < 0:
		return errors.Wrap(ErrInvalidDefinition, "usage limits must not be negative")
	case c.StartsAt != nil && c.EndsAt != nil && c.EndsAt.Before(*c.StartsAt):
		return errors.Wrap(ErrInvalidDefinition, "validity window ends before it starts")
	case !c.Global && len(c.ProductIDs) == 0:
		return errors.Wrap(ErrInvalidDefinition, "scoped coupon needs at least one product")
	}
	return nil
}

// Line is a priced cart line as seen by the evaluator.
type Line struct {
	ProductID int64
	UnitPrice decimal.Decimal
	Quantity  int
}

// Amount returns UnitPrice * Quantity.
func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Discount is the outcome of a successful evaluation.
type Discount struct {
	CouponID int64
	Code     string
	Eligible decimal.Decimal
	Amount   decimal.Decimal
}

// Store provides coupon reads inside a unit of work.
//
// LockCoupon must take a row lock held until the unit of work ends and
// return ErrNotFound when the coupon does not exist.
type Store interface {
	LockCoupon(ctx context.Context, id int64) (*Coupon, error)
	// CouponIDByCode returns ErrNotFound for unknown codes.
	CouponIDByCode(ctx context.Context, code string) (int64, error)
	CountUsage(ctx context.Context, couponID int64) (int, error)
	CountCustomerUsage(ctx context.Context, couponID, customerID int64) (int, error)
}
