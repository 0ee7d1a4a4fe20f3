package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/store-backoffice/internal/domain/catalog"
	"github.com/xenking/store-backoffice/internal/domain/coupon"
	"github.com/xenking/store-backoffice/internal/domain/stock"
	"github.com/xenking/store-backoffice/internal/domain/txn"
)

var (
	// ErrNotFound is returned when the order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrAddressNotFound is returned for unknown saved shipping addresses.
	ErrAddressNotFound = errors.New("shipping address not found")
	// ErrLineNotFound is returned when the line does not belong to the order.
	ErrLineNotFound = errors.New("order line not found")
	// ErrInvalidTransition is matched by every TransitionError.
	ErrInvalidTransition = errors.New("status transition not allowed")
	// ErrLinesLocked is returned when lines change on an order that is no
	// longer processing or on hold.
	ErrLinesLocked = errors.New("order lines can only change while the order is processing or on hold")
	// ErrTotalBelowZero is returned when a mutation would push the total
	// below zero because of a previously granted discount.
	ErrTotalBelowZero = errors.New("order total cannot go below zero")
	// ErrAmountBelowPaid is returned when a mutation would leave the payment
	// amount below what was already paid.
	ErrAmountBelowPaid = errors.New("payment amount cannot go below the paid amount")
	// ErrPaidExceedsAmount is returned when recording more than the amount due.
	ErrPaidExceedsAmount = errors.New("paid amount cannot exceed the payment amount")
	// ErrLastLine is returned when removing the only line of an order.
	ErrLastLine = errors.New("an order must keep at least one line, cancel or delete it instead")
	// ErrNotGuestOrder is returned when editing inline customer details of
	// an order placed by a registered customer.
	ErrNotGuestOrder = errors.New("customer details can only be edited on guest orders")
	// ErrNotDeletable is returned when deleting an order that was completed,
	// refunded or already paid for.
	ErrNotDeletable = errors.New("only unpaid processing, on hold or cancelled orders can be deleted")
)

// ValidationError reports malformed input detected before any lock is taken.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Kind classifies failures for callers.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindRejected
	KindConflict
	KindContention
	KindIntegrity
)

var kindNames = map[Kind]string{
	KindInternal:   "internal",
	KindInvalid:    "invalid",
	KindNotFound:   "not_found",
	KindRejected:   "rejected",
	KindConflict:   "conflict",
	KindContention: "contention",
	KindIntegrity:  "integrity",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Error is the only error type returned by Service methods.
type Error struct {
	Kind Kind
	Op   string
	// Reason is a stable machine-readable code such as "coupon_expired".
	Reason  string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindContention
}

var couponReasons = []struct {
	err     error
	reason  string
	message string
}{
	{coupon.ErrInactive, "coupon_inactive", "This coupon is not active."},
	{coupon.ErrNotYetValid, "coupon_not_yet_valid", "This coupon is not yet valid."},
	{coupon.ErrExpired, "coupon_expired", "This coupon has expired."},
	{coupon.ErrUsageLimitReached, "coupon_usage_limit_reached", "Coupon has reached its maximum usage limit."},
	{coupon.ErrPerUserLimitReached, "coupon_per_user_limit_reached", "You have already used this coupon the maximum number of times."},
}

var businessRules = []struct {
	err    error
	kind   Kind
	reason string
}{
	{ErrNotFound, KindNotFound, "order_not_found"},
	{ErrLineNotFound, KindNotFound, "line_not_found"},
	{ErrInvalidTransition, KindRejected, "invalid_transition"},
	{ErrLinesLocked, KindRejected, "lines_locked"},
	{ErrTotalBelowZero, KindRejected, "total_below_zero"},
	{ErrNotGuestOrder, KindRejected, "not_guest_order"},
	{ErrLastLine, KindRejected, "last_line"},
	{ErrAmountBelowPaid, KindConflict, "amount_below_paid"},
	{ErrNotDeletable, KindConflict, "not_deletable"},
	{ErrPaidExceedsAmount, KindInvalid, "paid_exceeds_amount"},
}

// classify turns any failure raised inside an operation into an *Error.
func classify(op string, err error) *Error {
	var already *Error
	if errors.As(err, &already) {
		return already
	}

	e := &Error{Op: op, Err: err}

	var (
		validation   *ValidationError
		notFound     *catalog.VariantNotFoundError
		insufficient *stock.InsufficientStockError
		minPurchase  *coupon.MinimumPurchaseError
		duplicate    *txn.DuplicateError
		reference    *txn.ForeignKeyError
		transition   *TransitionError
	)

	switch {
	case errors.As(err, &validation):
		e.Kind, e.Reason, e.Field, e.Message = KindInvalid, "invalid_input", validation.Field, validation.Message
	case errors.As(err, &notFound):
		e.Kind, e.Reason, e.Field = KindInvalid, "variant_not_found", "variant_id"
		e.Message = fmt.Sprintf("Variant %d not found.", notFound.VariantID)
	case errors.Is(err, catalog.ErrVariantMismatch):
		e.Kind, e.Reason, e.Field = KindRejected, "variant_mismatch", "variant_id"
		e.Message = "Variant does not belong to this product."
	case errors.Is(err, coupon.ErrNotFound):
		e.Kind, e.Reason, e.Field, e.Message = KindInvalid, "coupon_not_found", "coupon_id", "Invalid coupon provided."
	case errors.As(err, &minPurchase):
		e.Kind, e.Reason = KindRejected, "coupon_minimum_purchase_not_met"
		e.Message = fmt.Sprintf("A minimum purchase of %s on eligible items is required to use this coupon.",
			minPurchase.Required.StringFixed(2))
	case errors.As(err, &insufficient):
		e.Kind, e.Reason = KindConflict, "insufficient_stock"
		e.Message = fmt.Sprintf("Insufficient quantity for SKU: %s", insufficient.Code)
	case errors.Is(err, txn.ErrContention), errors.Is(err, context.DeadlineExceeded):
		e.Kind, e.Reason, e.Message = KindContention, "contention", "The order is busy, please retry."
	case errors.As(err, &duplicate):
		e.Kind, e.Reason, e.Message = KindIntegrity, "duplicate", duplicate.Error()
	case errors.As(err, &reference):
		e.Kind, e.Reason, e.Field = KindInvalid, "invalid_reference", reference.Column()
		e.Message = "Referenced record does not exist."
	case errors.As(err, &transition):
		e.Kind, e.Reason, e.Message = KindRejected, "invalid_transition", transition.Error()
	default:
		for _, r := range couponReasons {
			if errors.Is(err, r.err) {
				e.Kind, e.Reason, e.Message = KindRejected, r.reason, r.message
				return e
			}
		}
		for _, r := range businessRules {
			if errors.Is(err, r.err) {
				e.Kind, e.Reason, e.Message = r.kind, r.reason, r.err.Error()
				return e
			}
		}
		e.Kind, e.Reason, e.Message = KindInternal, "internal", "Internal error."
	}
	return e
}
