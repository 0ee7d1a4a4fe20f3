// Package notify publishes order events to downstream consumers.
package notify

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/store-backoffice/internal/domain/order"
)

// EventOrderPlaced is the type of events emitted after a placement commits.
const EventOrderPlaced = "order.placed"

// encodeOrderPlaced renders the event payload. Money is encoded as JSON
// numbers with two decimals.
func encodeOrderPlaced(id uuid.UUID, at time.Time, o *order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(id.String())
	e.FieldStart("type")
	e.Str(EventOrderPlaced)
	e.FieldStart("occurred_at")
	e.Str(at.UTC().Format(time.RFC3339Nano))

	e.FieldStart("order")
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("invoice_code")
	e.Str(o.InvoiceCode)
	e.FieldStart("status")
	e.Str(o.Status.String())
	if o.CustomerID != nil {
		e.FieldStart("customer_id")
		e.Int64(*o.CustomerID)
	}
	if id := order.CouponID(o.Coupon); id != nil {
		e.FieldStart("coupon_id")
		e.Int64(*id)
	}
	e.FieldStart("item_subtotal")
	e.Num(jx.Num(o.ItemSubtotal.StringFixed(2)))
	e.FieldStart("shipping_charge")
	e.Num(jx.Num(o.ShippingCharge.StringFixed(2)))
	e.FieldStart("discount")
	e.Num(jx.Num(o.Discount.StringFixed(2)))
	e.FieldStart("total")
	e.Num(jx.Num(o.Total.StringFixed(2)))

	e.FieldStart("payment")
	e.ObjStart()
	e.FieldStart("method")
	e.Str(o.Payment.Method.String())
	e.FieldStart("status")
	e.Str(o.Payment.Status.String())
	e.FieldStart("amount")
	e.Num(jx.Num(o.Payment.Amount.StringFixed(2)))
	e.ObjEnd()

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(l.ProductID)
		e.FieldStart("variant_id")
		e.Int64(l.VariantID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unit_price")
		e.Num(jx.Num(l.UnitPrice.StringFixed(2)))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	e.ObjEnd()
	return e.Bytes()
}
