package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-backoffice/internal/domain/order"
)

const maxBodyBytes = 1 << 20

// decodeBody reads the request body and hands each top-level field to fn.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &requestError{Message: "request body could not be read", Err: err}
	}
	if len(data) == 0 {
		return &requestError{Message: "request body is required"}
	}

	err = jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	})
	if err == nil {
		return nil
	}
	var invalid *requestError
	if errors.As(err, &invalid) {
		return invalid
	}
	return &requestError{Message: "malformed JSON body", Err: err}
}

func invalidField(field string, err error) error {
	var v *order.ValidationError
	if errors.As(err, &v) {
		return &requestError{Field: field, Message: v.Message, Err: err}
	}
	return &requestError{Field: field, Message: "has an invalid value", Err: err}
}

func readInt64(d *jx.Decoder, field string) (int64, error) {
	v, err := d.Int64()
	if err != nil {
		return 0, invalidField(field, err)
	}
	return v, nil
}

func readOptInt64(d *jx.Decoder, field string) (*int64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := readInt64(d, field)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func readStr(d *jx.Decoder, field string) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return "", invalidField(field, err)
	}
	return s, nil
}

// readDecimal accepts money as a JSON number or a numeric string.
func readDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, invalidField(field, err)
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, invalidField(field, err)
		}
		raw = n.String()
	default:
		return decimal.Decimal{}, &requestError{Field: field, Message: "must be a number"}
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, invalidField(field, err)
	}
	return v, nil
}

func readOptDecimal(d *jx.Decoder, field string) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := readDecimal(d, field)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// readCode reads an enum given either by name or by numeric code.
func readCode(d *jx.Decoder, field string) (string, error) {
	switch d.Next() {
	case jx.Number:
		v, err := d.Int()
		if err != nil {
			return "", invalidField(field, err)
		}
		return strconv.Itoa(v), nil
	case jx.String:
		return readStr(d, field)
	default:
		return "", &requestError{Field: field, Message: "must be a name or a numeric code"}
	}
}

// placeBody collects the checkout fields before they are turned into a
// tagged PlaceRequest. The legacy storefront field names are accepted too.
type placeBody struct {
	req        order.PlaceRequest
	shippingID *int64
	couponID   *int64
	guest      order.GuestShipping
	hasGuest   bool
	method     string
}

func decodePlaceRequest(w http.ResponseWriter, r *http.Request) (*order.PlaceRequest, error) {
	var b placeBody
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customer_id", "user_id":
			b.req.CustomerID, err = readOptInt64(d, "customer_id")
		case "shipping_id":
			b.shippingID, err = readOptInt64(d, "shipping_id")
		case "coupon_id":
			b.couponID, err = readOptInt64(d, "coupon_id")
		case "user_name":
			b.guest.Name, err = readStr(d, "user_name")
			b.hasGuest = true
		case "user_phone", "userphone":
			b.guest.Phone, err = readStr(d, "user_phone")
			b.hasGuest = true
		case "address":
			b.guest.Address, err = readStr(d, "address")
			b.hasGuest = true
		case "shipping_charge":
			var v decimal.NullDecimal
			v, err = readOptDecimal(d, "shipping_charge")
			b.req.ShippingCharge = v.Decimal
		case "product_subtotal":
			b.req.DeclaredSubtotal, err = readOptDecimal(d, "product_subtotal")
		case "payment_method", "payment_type":
			b.method, err = readCode(d, "payment_method")
		case "transaction_ref", "trxed":
			b.req.TransactionRef, err = readStr(d, "transaction_ref")
		case "payment_phone", "paymentphone":
			b.req.PaymentPhone, err = readStr(d, "payment_phone")
		case "lines", "products":
			b.req.Lines, err = readLines(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	req := b.req
	switch {
	case b.shippingID != nil:
		req.Shipping = order.RegisteredShipping{AddressID: *b.shippingID}
	case b.hasGuest:
		req.Shipping = b.guest
	}
	req.Coupon = order.NoCoupon{}
	if b.couponID != nil {
		req.Coupon = order.AppliedCoupon{ID: *b.couponID}
	}
	if b.method == "" {
		return nil, &requestError{Field: "payment_method", Message: "is required"}
	}
	if req.Method, err = order.ParsePaymentMethod(b.method); err != nil {
		return nil, invalidField("payment_method", err)
	}
	return &req, nil
}

func readLines(d *jx.Decoder) ([]order.LineRequest, error) {
	var lines []order.LineRequest
	err := d.Arr(func(d *jx.Decoder) error {
		field := "lines[" + strconv.Itoa(len(lines)) + "]."
		var l order.LineRequest
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "product_id":
				l.ProductID, err = readInt64(d, field+"product_id")
			case "variant_id", "product_sku_id":
				l.VariantID, err = readInt64(d, field+"variant_id")
			case "quantity":
				var q int64
				q, err = readInt64(d, field+"quantity")
				l.Quantity = int(q)
			default:
				return d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	})
	return lines, err
}

func decodeCouponCheck(w http.ResponseWriter, r *http.Request) (*order.CouponCheck, error) {
	var req order.CouponCheck
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code", "coupon_code":
			req.Code, err = readStr(d, "code")
		case "customer_id", "user_id":
			req.CustomerID, err = readOptInt64(d, "customer_id")
		case "shipping_charge":
			var v decimal.NullDecimal
			v, err = readOptDecimal(d, "shipping_charge")
			req.ShippingCharge = v.Decimal
		case "lines", "products":
			req.Lines, err = readLines(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeAddProduct(w http.ResponseWriter, r *http.Request) (*order.AddProductRequest, error) {
	var req order.AddProductRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			req.ProductID, err = readInt64(d, "product_id")
		case "variant_id", "product_sku_id":
			req.VariantID, err = readInt64(d, "variant_id")
		case "quantity":
			var q int64
			q, err = readInt64(d, "quantity")
			req.Quantity = int(q)
		case "price", "unit_price":
			req.UnitPrice, err = readOptDecimal(d, "price")
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeUpdateLine(w http.ResponseWriter, r *http.Request) (*order.UpdateLineRequest, error) {
	var req order.UpdateLineRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "quantity":
			var q int64
			q, err = readInt64(d, "quantity")
			req.Quantity = int(q)
		case "price", "unit_price":
			req.UnitPrice, err = readOptDecimal(d, "price")
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeStatus(w http.ResponseWriter, r *http.Request) (order.Status, error) {
	var (
		status int64
		seen   bool
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		seen = true
		var err error
		status, err = readInt64(d, "status")
		return err
	})
	if err != nil {
		return 0, err
	}
	if !seen {
		return 0, &requestError{Field: "status", Message: "is required"}
	}
	s, err := order.ParseStatus(int(status))
	if err != nil {
		return 0, invalidField("status", err)
	}
	return s, nil
}

func decodePaymentStatus(w http.ResponseWriter, r *http.Request) (order.PaymentStatus, error) {
	var raw string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		raw, err = readCode(d, "status")
		return err
	})
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, &requestError{Field: "status", Message: "is required"}
	}
	s, err := order.ParsePaymentStatus(raw)
	if err != nil {
		return 0, invalidField("status", err)
	}
	return s, nil
}

func decodePaidAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, error) {
	var paid decimal.NullDecimal
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "paid_amount" {
			return d.Skip()
		}
		var err error
		paid, err = readOptDecimal(d, "paid_amount")
		return err
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !paid.Valid {
		return decimal.Decimal{}, &requestError{Field: "paid_amount", Message: "is required"}
	}
	return paid.Decimal, nil
}

func decodeCustomer(w http.ResponseWriter, r *http.Request) (order.GuestShipping, error) {
	var g order.GuestShipping
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "user_name":
			g.Name, err = readStr(d, "user_name")
		case "user_phone", "phone":
			g.Phone, err = readStr(d, "user_phone")
		case "address":
			g.Address, err = readStr(d, "address")
		default:
			return d.Skip()
		}
		return err
	})
	return g, err
}

func encodeMoney(e *jx.Encoder, field string, v decimal.Decimal) {
	e.FieldStart(field)
	e.Num(jx.Num(v.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, field string, t time.Time) {
	if t.IsZero() {
		return
	}
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("invoice_code")
	e.Str(o.InvoiceCode)
	e.FieldStart("status")
	e.Int(int(o.Status))
	e.FieldStart("status_label")
	e.Str(o.Status.String())

	e.FieldStart("customer_id")
	if o.CustomerID != nil {
		e.Int64(*o.CustomerID)
	} else {
		e.Null()
	}
	switch s := o.Shipping.(type) {
	case order.RegisteredShipping:
		e.FieldStart("shipping_id")
		e.Int64(s.AddressID)
	case order.GuestShipping:
		e.FieldStart("guest")
		e.ObjStart()
		e.FieldStart("user_name")
		e.Str(s.Name)
		e.FieldStart("user_phone")
		e.Str(s.Phone)
		e.FieldStart("address")
		e.Str(s.Address)
		e.ObjEnd()
	}
	e.FieldStart("coupon_id")
	if id := order.CouponID(o.Coupon); id != nil {
		e.Int64(*id)
	} else {
		e.Null()
	}

	encodeMoney(e, "product_subtotal", o.ItemSubtotal)
	encodeMoney(e, "shipping_charge", o.ShippingCharge)
	encodeMoney(e, "discount", o.Discount)
	encodeMoney(e, "total", o.Total)

	e.FieldStart("description")
	e.Str(o.Description)
	if o.StatusNarrative != "" {
		e.FieldStart("status_change_desc")
		e.Str(o.StatusNarrative)
	}

	if o.Lines != nil {
		e.FieldStart("lines")
		e.ArrStart()
		for _, l := range o.Lines {
			e.ObjStart()
			e.FieldStart("id")
			e.Int64(l.ID)
			e.FieldStart("product_id")
			e.Int64(l.ProductID)
			e.FieldStart("variant_id")
			e.Int64(l.VariantID)
			e.FieldStart("quantity")
			e.Int(l.Quantity)
			encodeMoney(e, "unit_price", l.UnitPrice)
			encodeMoney(e, "amount", l.Amount())
			e.ObjEnd()
		}
		e.ArrEnd()
	}

	p := o.Payment
	e.FieldStart("payment")
	e.ObjStart()
	e.FieldStart("status")
	e.Str(p.Status.String())
	e.FieldStart("method")
	e.Str(p.Method.String())
	encodeMoney(e, "amount", p.Amount)
	encodeMoney(e, "paid_amount", p.PaidAmount)
	encodeMoney(e, "due", p.Due())
	if p.TransactionRef != "" {
		e.FieldStart("transaction_ref")
		e.Str(p.TransactionRef)
	}
	if p.Phone != "" {
		e.FieldStart("phone")
		e.Str(p.Phone)
	}
	e.ObjEnd()

	encodeTime(e, "created_at", o.CreatedAt)
	encodeTime(e, "updated_at", o.UpdatedAt)
	e.ObjEnd()
}

func encodeOrderList(e *jx.Encoder, list *order.OrderList) {
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range list.Orders {
		encodeOrder(e, &list.Orders[i])
	}
	e.ArrEnd()

	e.FieldStart("summary")
	e.ObjStart()
	total := 0
	for _, s := range order.Statuses {
		n := list.Summary[s]
		total += n
		e.FieldStart(s.String())
		e.Int(n)
	}
	e.FieldStart("All")
	e.Int(total)
	e.ObjEnd()
	e.ObjEnd()
}

func encodeCouponQuote(e *jx.Encoder, q *order.CouponQuote) {
	e.ObjStart()
	e.FieldStart("coupon_id")
	e.Int64(q.CouponID)
	e.FieldStart("code")
	e.Str(q.Code)
	encodeMoney(e, "product_subtotal", q.ItemSubtotal)
	encodeMoney(e, "eligible_subtotal", q.Eligible)
	encodeMoney(e, "discount", q.Discount)
	encodeMoney(e, "total", q.Total)
	e.ObjEnd()
}
