package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/store-backoffice/internal/domain/catalog"
	"github.com/xenking/store-backoffice/internal/domain/stock"
)

const maxPhoneLen = 20

// LineRequest is one cart line.
type LineRequest struct {
	ProductID int64
	VariantID int64
	Quantity  int
}

// PlaceRequest is a checkout submitted for placement.
type PlaceRequest struct {
	CustomerID     *int64
	Shipping       Shipping
	Coupon         CouponChoice
	ShippingCharge decimal.Decimal
	// DeclaredSubtotal is what the client computed. It is only compared
	// against the server-side subtotal for diagnostics.
	DeclaredSubtotal decimal.NullDecimal
	Method           PaymentMethod
	TransactionRef   string
	PaymentPhone     string
	Lines            []LineRequest
}

// Validate checks the request shape. It does not touch storage.
func (r *PlaceRequest) Validate() error {
	if r.CustomerID != nil && *r.CustomerID <= 0 {
		return &ValidationError{Field: "customer_id", Message: "must be a positive id"}
	}

	switch s := r.Shipping.(type) {
	case GuestShipping:
		if err := validateGuest(s); err != nil {
			return err
		}
	case RegisteredShipping:
		if s.AddressID <= 0 {
			return &ValidationError{Field: "shipping_id", Message: "must be a positive id"}
		}
		if r.CustomerID == nil {
			return &ValidationError{Field: "customer_id", Message: "is required with a saved shipping address"}
		}
	default:
		return &ValidationError{Field: "shipping", Message: "either a shipping address or guest details are required"}
	}

	switch c := r.Coupon.(type) {
	case nil, NoCoupon:
	case AppliedCoupon:
		if c.ID <= 0 {
			return &ValidationError{Field: "coupon_id", Message: "must be a positive id"}
		}
	}

	if r.ShippingCharge.IsNegative() {
		return &ValidationError{Field: "shipping_charge", Message: "must not be negative"}
	}
	if r.DeclaredSubtotal.Valid && r.DeclaredSubtotal.Decimal.IsNegative() {
		return &ValidationError{Field: "product_subtotal", Message: "must not be negative"}
	}

	if !r.Method.Valid() {
		return &ValidationError{Field: "payment_method", Message: fmt.Sprintf("unknown payment method %d", int(r.Method))}
	}
	if r.Method.RequiresTransactionRef() && strings.TrimSpace(r.TransactionRef) == "" {
		return &ValidationError{Field: "transaction_ref", Message: fmt.Sprintf("is required for %s payments", r.Method)}
	}
	if len(r.PaymentPhone) > maxPhoneLen {
		return &ValidationError{Field: "payment_phone", Message: fmt.Sprintf("must be at most %d characters", maxPhoneLen)}
	}

	return validateLines(r.Lines)
}

func validateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return &ValidationError{Field: "lines", Message: "at least one line is required"}
	}
	for i, l := range lines {
		switch {
		case l.ProductID <= 0:
			return &ValidationError{Field: fmt.Sprintf("lines[%d].product_id", i), Message: "must be a positive id"}
		case l.VariantID <= 0:
			return &ValidationError{Field: fmt.Sprintf("lines[%d].variant_id", i), Message: "must be a positive id"}
		case l.Quantity < 1:
			return &ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Message: "must be at least 1"}
		}
	}
	return nil
}

func validateGuest(g GuestShipping) error {
	switch {
	case strings.TrimSpace(g.Name) == "":
		return &ValidationError{Field: "user_name", Message: "is required for guest checkout"}
	case strings.TrimSpace(g.Phone) == "":
		return &ValidationError{Field: "user_phone", Message: "is required for guest checkout"}
	case len(g.Phone) > maxPhoneLen:
		return &ValidationError{Field: "user_phone", Message: fmt.Sprintf("must be at most %d characters", maxPhoneLen)}
	case strings.TrimSpace(g.Address) == "":
		return &ValidationError{Field: "address", Message: "is required for guest checkout"}
	}
	return nil
}

// mergedLines folds repeated variants into one line, keeping the position
// of the first occurrence.
func mergedLines(lines []LineRequest) []LineRequest {
	out := make([]LineRequest, 0, len(lines))
	pos := make(map[int64]int, len(lines))
	for _, l := range lines {
		if i, ok := pos[l.VariantID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		pos[l.VariantID] = len(out)
		out = append(out, l)
	}
	return out
}

func catalogRequests(lines []LineRequest) []catalog.Request {
	out := make([]catalog.Request, len(lines))
	for i, l := range lines {
		out[i] = catalog.Request{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity}
	}
	return out
}

func movements(lines []LineRequest) []stock.Movement {
	out := make([]stock.Movement, len(lines))
	for i, l := range lines {
		out[i] = stock.Movement{VariantID: l.VariantID, Quantity: l.Quantity}
	}
	return out
}

// AddProductRequest adds a variant to an existing order.
type AddProductRequest struct {
	ProductID int64
	VariantID int64
	Quantity  int
	// UnitPrice overrides the catalog price when set.
	UnitPrice decimal.NullDecimal
}

// Validate checks the request shape.
func (r *AddProductRequest) Validate() error {
	switch {
	case r.ProductID <= 0:
		return &ValidationError{Field: "product_id", Message: "must be a positive id"}
	case r.VariantID <= 0:
		return &ValidationError{Field: "variant_id", Message: "must be a positive id"}
	case r.Quantity < 1:
		return &ValidationError{Field: "quantity", Message: "must be at least 1"}
	case r.UnitPrice.Valid && r.UnitPrice.Decimal.IsNegative():
		return &ValidationError{Field: "price", Message: "must not be negative"}
	}
	return nil
}

// UpdateLineRequest changes the quantity, and optionally the unit price, of
// an existing line.
type UpdateLineRequest struct {
	Quantity  int
	UnitPrice decimal.NullDecimal
}

// Validate checks the request shape.
func (r *UpdateLineRequest) Validate() error {
	switch {
	case r.Quantity < 1:
		return &ValidationError{Field: "quantity", Message: "must be at least 1"}
	case r.UnitPrice.Valid && r.UnitPrice.Decimal.IsNegative():
		return &ValidationError{Field: "price", Message: "must not be negative"}
	}
	return nil
}
