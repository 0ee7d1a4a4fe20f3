// Package catalog reads purchasable variants (SKUs) for pricing and stock
// decisions. Variants are always read under a row lock so that the price a
// customer is charged is the price that was observed.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrVariantMismatch is returned when a variant exists but belongs to a
// different product than the one stated in the request.
var ErrVariantMismatch = errors.New("variant does not belong to product")

// Variant is a single purchasable configuration of a product.
type Variant struct {
	ID            int64
	ProductID     int64
	Code          string
	Quantity      int
	Price         decimal.NullDecimal
	DiscountPrice decimal.NullDecimal
	// BasePrice is the owning product's list price, used when the variant
	// carries no price of its own.
	BasePrice decimal.Decimal
}

// UnitPrice returns the price charged for one unit: the discount price when
// set, otherwise the variant price, otherwise the product base price.
func (v Variant) UnitPrice() decimal.Decimal {
	switch {
	case v.DiscountPrice.Valid:
		return v.DiscountPrice.Decimal
	case v.Price.Valid:
		return v.Price.Decimal
	default:
		return v.BasePrice
	}
}

// Attribute is one attribute-value association of a variant, e.g. Size: XL.
type Attribute struct {
	Name  string
	Value string
}

// Detail carries the display data used to render order descriptions.
type Detail struct {
	VariantID      int64
	ProductName    string
	Code           string
	ParentCategory string
	Category       string
	Attributes     []Attribute
}

// Request references a variant of a product in a given quantity.
type Request struct {
	ProductID int64
	VariantID int64
	Quantity  int
}

// VariantNotFoundError is returned when a referenced variant does not exist.
type VariantNotFoundError struct {
	VariantID int64
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variant %d not found", e.VariantID)
}

// MismatchError reports a variant that belongs to another product.
type MismatchError struct {
	ProductID int64
	VariantID int64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("variant %d does not belong to product %d", e.VariantID, e.ProductID)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrVariantMismatch
}

// Store provides locked variant reads and display details.
//
// LockVariants must lock rows in ascending id order and return them in that
// order. Missing ids are simply absent from the result.
type Store interface {
	LockVariants(ctx context.Context, ids []int64) ([]Variant, error)
	VariantDetails(ctx context.Context, ids []int64) (map[int64]Detail, error)
}
