package order

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/store-backoffice/internal/domain/catalog"
	"github.com/xenking/store-backoffice/internal/domain/coupon"
	"github.com/xenking/store-backoffice/internal/domain/invoice"
	"github.com/xenking/store-backoffice/internal/domain/stock"
)

// Shipping is either GuestShipping or RegisteredShipping.
type Shipping interface {
	isShipping()
}

// GuestShipping carries contact details captured inline at checkout.
type GuestShipping struct {
	Name    string
	Phone   string
	Address string
}

// RegisteredShipping references a saved address of a registered customer.
type RegisteredShipping struct {
	AddressID int64
}

// Address is a saved shipping address owned by a registered customer.
type Address struct {
	ID         int64
	CustomerID int64
	Name       string
	Phone      string
	Address    string
}

func (GuestShipping) isShipping()      {}
func (RegisteredShipping) isShipping() {}

// CouponChoice is either NoCoupon or AppliedCoupon.
type CouponChoice interface {
	isCouponChoice()
}

// NoCoupon means the order was placed without a coupon.
type NoCoupon struct{}

// AppliedCoupon references the coupon applied to the order.
type AppliedCoupon struct {
	ID int64
}

func (NoCoupon) isCouponChoice()      {}
func (AppliedCoupon) isCouponChoice() {}

// CouponID returns the applied coupon id, or nil.
func CouponID(c CouponChoice) *int64 {
	if a, ok := c.(AppliedCoupon); ok {
		id := a.ID
		return &id
	}
	return nil
}

// Order is the aggregate created by placement.
type Order struct {
	ID          int64
	InvoiceCode string
	CustomerID  *int64
	Shipping    Shipping
	Status      Status

	ItemSubtotal   decimal.Decimal
	ShippingCharge decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	Coupon         CouponChoice

	// Description is display text regenerated whenever lines change.
	Description     string
	StatusNarrative string

	Lines   []Line
	Payment Payment

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line is one purchased variant. UnitPrice is frozen at creation.
type Line struct {
	ID        int64
	OrderID   int64
	ProductID int64
	VariantID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Amount returns UnitPrice * Quantity.
func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Payment is the payment intent recorded with an order.
type Payment struct {
	ID             int64
	OrderID        int64
	Status         PaymentStatus
	Method         PaymentMethod
	Amount         decimal.Decimal
	PaidAmount     decimal.Decimal
	TransactionRef string
	Phone          string
}

// Due returns the outstanding amount.
func (p Payment) Due() decimal.Decimal {
	return p.Amount.Sub(p.PaidAmount)
}

// lineIndex returns the index of the line with the given id.
func (o *Order) lineIndex(id int64) int {
	return slices.IndexFunc(o.Lines, func(l Line) bool { return l.ID == id })
}

// variantLineIndex returns the index of the line holding the variant.
func (o *Order) variantLineIndex(variantID int64) int {
	return slices.IndexFunc(o.Lines, func(l Line) bool { return l.VariantID == variantID })
}

// VariantIDs returns the distinct variants referenced by the order's lines.
func (o *Order) VariantIDs() []int64 {
	ids := make([]int64, 0, len(o.Lines))
	for _, l := range o.Lines {
		ids = append(ids, l.VariantID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// applyDelta shifts subtotal, total and payment amount by the same signed
// amount. The order is left untouched when the result would be invalid.
func (o *Order) applyDelta(delta decimal.Decimal) error {
	subtotal := o.ItemSubtotal.Add(delta)
	total := o.Total.Add(delta)
	amount := o.Payment.Amount.Add(delta)

	if total.IsNegative() {
		return ErrTotalBelowZero
	}
	if amount.LessThan(o.Payment.PaidAmount) {
		return ErrAmountBelowPaid
	}

	o.ItemSubtotal = subtotal
	o.Total = total
	o.Payment.Amount = amount
	return nil
}

// ListFilter narrows ListOrders and StatusSummary.
type ListFilter struct {
	Status     *Status
	CustomerID *int64
	// Invoice matches invoice codes containing it, case-insensitively.
	Invoice string
	Limit   int
	Offset  int
}

// Repository persists orders, lines and payments inside a unit of work.
type Repository interface {
	// CreateOrder inserts the order, its lines and its payment and fills in
	// generated ids and timestamps.
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	// GetOrderByInvoice returns ErrNotFound for unknown codes.
	GetOrderByInvoice(ctx context.Context, code string) (*Order, error)
	// LockOrder loads the order and holds its row lock until the unit of
	// work ends.
	LockOrder(ctx context.Context, id int64) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]Order, error)
	// StatusSummary counts orders per status. Only the CustomerID and
	// Invoice fields of f apply.
	StatusSummary(ctx context.Context, f ListFilter) (map[Status]int, error)
	InsertLine(ctx context.Context, l *Line) error
	UpdateLine(ctx context.Context, l Line) error
	DeleteLine(ctx context.Context, id int64) error
	UpdateOrder(ctx context.Context, o *Order) error
	UpdatePayment(ctx context.Context, p Payment) error
	DeleteOrder(ctx context.Context, id int64) error
	// ShippingAddress returns ErrAddressNotFound for unknown ids.
	ShippingAddress(ctx context.Context, id int64) (*Address, error)
}

// Tx is everything a placement or mutation may touch within one unit of work.
type Tx interface {
	catalog.Store
	coupon.Store
	stock.Store
	invoice.Store
	Repository
}

// UnitOfWork runs fn atomically: if fn returns an error every write made
// through tx is rolled back.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Notifier is told about committed orders. Implementations must not block.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order)
}
