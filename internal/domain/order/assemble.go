package order

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-backoffice/internal/domain/catalog"
	"github.com/xenking/store-backoffice/internal/domain/coupon"
	"github.com/xenking/store-backoffice/internal/domain/invoice"
)

// Draft is the priced, stock-checked input the order is built from.
type Draft struct {
	Request  *PlaceRequest
	Lines    []LineRequest
	Snapshot *catalog.Snapshot
	// Discount is nil when no coupon was applied.
	Discount *coupon.Discount
	Invoice  invoice.Code
	Details  map[int64]catalog.Detail
}

// Assemble builds the order aggregate. It performs no I/O.
func Assemble(d Draft) (*Order, error) {
	if len(d.Lines) == 0 {
		return nil, errors.New("assemble: no lines")
	}

	lines := make([]Line, 0, len(d.Lines))
	subtotal := decimal.Zero
	for _, l := range d.Lines {
		v, ok := d.Snapshot.Variant(l.VariantID)
		if !ok {
			return nil, errors.Errorf("assemble: variant %d missing from snapshot", l.VariantID)
		}
		line := Line{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: v.UnitPrice(),
		}
		subtotal = subtotal.Add(line.Amount())
		lines = append(lines, line)
	}

	discount := decimal.Zero
	var choice CouponChoice = NoCoupon{}
	if d.Discount != nil {
		discount = d.Discount.Amount
		choice = AppliedCoupon{ID: d.Discount.CouponID}
	}

	total := subtotal.Add(d.Request.ShippingCharge).Sub(discount)
	if total.IsNegative() {
		return nil, errors.Errorf("assemble: negative total %s", total)
	}

	return &Order{
		InvoiceCode:    d.Invoice.String(),
		CustomerID:     d.Request.CustomerID,
		Shipping:       d.Request.Shipping,
		Status:         StatusProcessing,
		ItemSubtotal:   subtotal,
		ShippingCharge: d.Request.ShippingCharge,
		Discount:       discount,
		Total:          total,
		Coupon:         choice,
		Description:    Describe(lines, d.Details),
		Lines:          lines,
		Payment: Payment{
			Status:         d.Request.Method.InitialStatus(),
			Method:         d.Request.Method,
			Amount:         total,
			PaidAmount:     decimal.Zero,
			TransactionRef: d.Request.TransactionRef,
			Phone:          d.Request.PaymentPhone,
		},
	}, nil
}

// couponLines converts priced order lines to evaluator lines.
func couponLines(lines []LineRequest, snap *catalog.Snapshot) []coupon.Line {
	out := make([]coupon.Line, len(lines))
	for i, l := range lines {
		out[i] = coupon.Line{ProductID: l.ProductID, UnitPrice: snap.UnitPrice(l.VariantID), Quantity: l.Quantity}
	}
	return out
}
