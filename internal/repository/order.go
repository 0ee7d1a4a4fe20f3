package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-backoffice/internal/domain/order"
)

const orderColumns = `o.id, o.invoice_code, o.user_id, o.shipping_id, o.guest_name, o.guest_phone, o.guest_address,
	o.status, o.product_subtotal, o.shipping_charge, o.discount, o.total, o.coupon_id,
	o.description, o.status_change_desc, o.created_at, o.updated_at`

const paymentColumns = `p.id, p.order_id, p.status, p.method, p.amount, p.paid_amount, p.transaction_ref, p.phone`

const (
	createOrderSQL = `INSERT INTO orders (invoice_code, user_id, shipping_id, guest_name, guest_phone, guest_address,
		status, product_subtotal, shipping_charge, discount, total, coupon_id, description, status_change_desc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	insertLineSQL = `INSERT INTO order_lines (order_id, product_id, product_sku_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	insertPaymentSQL = `INSERT INTO payments (order_id, status, method, amount, paid_amount, transaction_ref, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = $1`
	lockOrderSQL         = getOrderSQL + ` FOR UPDATE`
	getOrderByInvoiceSQL = `SELECT ` + orderColumns + ` FROM orders o WHERE o.invoice_code = $1`

	orderLinesSQL = `SELECT id, order_id, product_id, product_sku_id, quantity, unit_price
		FROM order_lines WHERE order_id = $1 ORDER BY id`

	orderPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments p WHERE p.order_id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + `, ` + paymentColumns + `
		FROM orders o
		JOIN payments p ON p.order_id = o.id
		WHERE ($1::smallint IS NULL OR o.status = $1)
		AND ($4::bigint IS NULL OR o.user_id = $4)
		AND ($5::text = '' OR o.invoice_code ILIKE '%' || $5 || '%')
		ORDER BY o.id DESC
		LIMIT $2 OFFSET $3`

	statusSummarySQL = `SELECT status, count(*) FROM orders o
		WHERE ($1::bigint IS NULL OR o.user_id = $1)
		AND ($2::text = '' OR o.invoice_code ILIKE '%' || $2 || '%')
		GROUP BY status`

	shippingAddressSQL = `SELECT id, user_id, name, phone, address FROM shipping_addresses WHERE id = $1`

	updateLineSQL = `UPDATE order_lines SET quantity = $2, unit_price = $3 WHERE id = $1`

	deleteLineSQL = `DELETE FROM order_lines WHERE id = $1`

	updateOrderSQL = `UPDATE orders SET
		guest_name = $2, guest_phone = $3, guest_address = $4, status = $5,
		product_subtotal = $6, total = $7, description = $8, status_change_desc = $9,
		updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	updatePaymentSQL = `UPDATE payments SET status = $2, amount = $3, paid_amount = $4 WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

// CreateOrder inserts the order row, then its lines and payment in a single
// batch.
func (t *Tx) CreateOrder(ctx context.Context, o *order.Order) error {
	guest := guestColumns(o.Shipping)
	err := t.q.QueryRow(ctx, createOrderSQL,
		o.InvoiceCode, o.CustomerID, shippingID(o.Shipping), guest.name, guest.phone, guest.address,
		int16(o.Status), o.ItemSubtotal, o.ShippingCharge, o.Discount, o.Total, order.CouponID(o.Coupon),
		o.Description, o.StatusNarrative,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.InvoiceCode)
	}

	b := &pgx.Batch{}
	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		b.Queue(insertLineSQL, l.OrderID, l.ProductID, l.VariantID, l.Quantity, l.UnitPrice).
			QueryRow(func(row pgx.Row) error { return row.Scan(&l.ID) })
	}
	p := &o.Payment
	p.OrderID = o.ID
	b.Queue(insertPaymentSQL, p.OrderID, int16(p.Status), int16(p.Method), p.Amount, p.PaidAmount, p.TransactionRef, p.Phone).
		QueryRow(func(row pgx.Row) error { return row.Scan(&p.ID) })

	if err := t.q.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrapf(err, "insert lines and payment of order %s", o.InvoiceCode)
	}
	return nil
}

// GetOrder loads the order with its lines and payment.
func (t *Tx) GetOrder(ctx context.Context, id int64) (*order.Order, error) {
	return t.loadOrder(ctx, getOrderSQL, id)
}

// GetOrderByInvoice loads the order carrying the invoice code.
func (t *Tx) GetOrderByInvoice(ctx context.Context, code string) (*order.Order, error) {
	return t.loadOrder(ctx, getOrderByInvoiceSQL, code)
}

// LockOrder loads the order and locks its row.
func (t *Tx) LockOrder(ctx context.Context, id int64) (*order.Order, error) {
	return t.loadOrder(ctx, lockOrderSQL, id)
}

// loadOrder reads the header selected by key, then its lines and payment.
func (t *Tx) loadOrder(ctx context.Context, headerSQL string, key any) (*order.Order, error) {
	rows, err := t.q.Query(ctx, headerSQL, key)
	if err != nil {
		return nil, errors.Wrapf(err, "query order %v", key)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "scan order %v", key)
	}
	id := o.ID

	b := &pgx.Batch{}
	b.Queue(orderLinesSQL, id).Query(func(rows pgx.Rows) error {
		lines, err := pgx.CollectRows(rows, scanLine)
		o.Lines = lines
		return err
	})
	b.Queue(orderPaymentSQL, id).QueryRow(func(row pgx.Row) error {
		p, err := scanPayment(row)
		o.Payment = p
		return err
	})
	if err := t.q.SendBatch(ctx, b).Close(); err != nil {
		return nil, errors.Wrapf(err, "load lines and payment of order %d", id)
	}
	return &o, nil
}

// ListOrders returns order headers joined with their payments, newest first.
// Lines are not loaded.
func (t *Tx) ListOrders(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	var status *int16
	if f.Status != nil {
		s := int16(*f.Status)
		status = &s
	}
	rows, err := t.q.Query(ctx, listOrdersSQL, status, f.Limit, f.Offset, f.CustomerID, f.Invoice)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Order, error) {
		var (
			h orderRow
			p paymentRow
		)
		if err := row.Scan(append(h.dest(), p.dest()...)...); err != nil {
			return order.Order{}, err
		}
		o := h.order()
		o.Payment = p.payment()
		return o, nil
	})
}

// StatusSummary counts orders per status within the customer and invoice
// filters.
func (t *Tx) StatusSummary(ctx context.Context, f order.ListFilter) (map[order.Status]int, error) {
	rows, err := t.q.Query(ctx, statusSummarySQL, f.CustomerID, f.Invoice)
	if err != nil {
		return nil, errors.Wrap(err, "summarize order statuses")
	}
	defer rows.Close()

	out := make(map[order.Status]int)
	for rows.Next() {
		var (
			status int16
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan status summary")
		}
		out[order.Status(status)] = n
	}
	return out, rows.Err()
}

// InsertLine adds a line and sets its id.
func (t *Tx) InsertLine(ctx context.Context, l *order.Line) error {
	err := t.q.QueryRow(ctx, insertLineSQL, l.OrderID, l.ProductID, l.VariantID, l.Quantity, l.UnitPrice).Scan(&l.ID)
	if err != nil {
		return errors.Wrapf(err, "insert line into order %d", l.OrderID)
	}
	return nil
}

// UpdateLine stores the line's quantity and unit price.
func (t *Tx) UpdateLine(ctx context.Context, l order.Line) error {
	tag, err := t.q.Exec(ctx, updateLineSQL, l.ID, l.Quantity, l.UnitPrice)
	if err != nil {
		return errors.Wrapf(err, "update line %d", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrLineNotFound
	}
	return nil
}

// DeleteLine removes a line.
func (t *Tx) DeleteLine(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, deleteLineSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete line %d", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrLineNotFound
	}
	return nil
}

// UpdateOrder stores the mutable header columns and refreshes UpdatedAt.
func (t *Tx) UpdateOrder(ctx context.Context, o *order.Order) error {
	guest := guestColumns(o.Shipping)
	err := t.q.QueryRow(ctx, updateOrderSQL,
		o.ID, guest.name, guest.phone, guest.address, int16(o.Status),
		o.ItemSubtotal, o.Total, o.Description, o.StatusNarrative,
	).Scan(&o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return errors.Wrapf(err, "update order %d", o.ID)
	}
	return nil
}

// UpdatePayment stores the payment status and amounts.
func (t *Tx) UpdatePayment(ctx context.Context, p order.Payment) error {
	tag, err := t.q.Exec(ctx, updatePaymentSQL, p.ID, int16(p.Status), p.Amount, p.PaidAmount)
	if err != nil {
		return errors.Wrapf(err, "update payment %d", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// DeleteOrder removes the order. Lines and payment cascade.
func (t *Tx) DeleteOrder(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete order %d", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

type guestRow struct {
	name, phone, address *string
}

func guestColumns(s order.Shipping) guestRow {
	g, ok := s.(order.GuestShipping)
	if !ok {
		return guestRow{}
	}
	return guestRow{name: &g.Name, phone: &g.Phone, address: &g.Address}
}

func shippingID(s order.Shipping) *int64 {
	if r, ok := s.(order.RegisteredShipping); ok {
		return &r.AddressID
	}
	return nil
}

// orderRow holds the nullable header columns before they become an Order.
type orderRow struct {
	o          order.Order
	status     int16
	shippingID *int64
	guest      guestRow
	couponID   *int64
}

func (r *orderRow) dest() []any {
	return []any{
		&r.o.ID, &r.o.InvoiceCode, &r.o.CustomerID, &r.shippingID,
		&r.guest.name, &r.guest.phone, &r.guest.address,
		&r.status, &r.o.ItemSubtotal, &r.o.ShippingCharge, &r.o.Discount, &r.o.Total, &r.couponID,
		&r.o.Description, &r.o.StatusNarrative, &r.o.CreatedAt, &r.o.UpdatedAt,
	}
}

func (r *orderRow) order() order.Order {
	o := r.o
	o.Status = order.Status(r.status)

	if r.shippingID != nil {
		o.Shipping = order.RegisteredShipping{AddressID: *r.shippingID}
	} else {
		o.Shipping = order.GuestShipping{
			Name:    deref(r.guest.name),
			Phone:   deref(r.guest.phone),
			Address: deref(r.guest.address),
		}
	}

	o.Coupon = order.NoCoupon{}
	if r.couponID != nil {
		o.Coupon = order.AppliedCoupon{ID: *r.couponID}
	}
	return o
}

type paymentRow struct {
	p      order.Payment
	status int16
	method int16
}

func (r *paymentRow) dest() []any {
	return []any{
		&r.p.ID, &r.p.OrderID, &r.status, &r.method, &r.p.Amount, &r.p.PaidAmount, &r.p.TransactionRef, &r.p.Phone,
	}
}

func (r *paymentRow) payment() order.Payment {
	p := r.p
	p.Status = order.PaymentStatus(r.status)
	p.Method = order.PaymentMethod(r.method)
	return p
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var r orderRow
	if err := row.Scan(r.dest()...); err != nil {
		return order.Order{}, err
	}
	return r.order(), nil
}

func scanLine(row pgx.CollectableRow) (order.Line, error) {
	var (
		l     order.Line
		price decimal.Decimal
	)
	err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.VariantID, &l.Quantity, &price)
	l.UnitPrice = price
	return l, err
}

func scanPayment(row pgx.Row) (order.Payment, error) {
	var r paymentRow
	if err := row.Scan(r.dest()...); err != nil {
		return order.Payment{}, errors.Wrap(err, "scan payment")
	}
	return r.payment(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ShippingAddress loads a saved shipping address.
func (t *Tx) ShippingAddress(ctx context.Context, id int64) (*order.Address, error) {
	var a order.Address
	err := t.q.QueryRow(ctx, shippingAddressSQL, id).Scan(&a.ID, &a.CustomerID, &a.Name, &a.Phone, &a.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrAddressNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load shipping address %d", id)
	}
	return &a, nil
}
