package order

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/store-backoffice/internal/domain/activity"
	"github.com/xenking/store-backoffice/internal/domain/catalog"
	"github.com/xenking/store-backoffice/internal/domain/coupon"
	"github.com/xenking/store-backoffice/internal/domain/invoice"
)

// --- Mock implementations ---

// memState is a copy-on-write database image. memUnitOfWork serializes units
// of work and only publishes the working copy when fn succeeds.
type memState struct {
	variants  map[int64]catalog.Variant
	details   map[int64]catalog.Detail
	coupons   map[int64]coupon.Coupon
	orders    map[int64]*Order
	addresses map[int64]Address

	invoiceNext int64
	nextOrder   int64
	nextLine    int64
	nextPayment int64
}

func newMemState() *memState {
	return &memState{
		variants:    map[int64]catalog.Variant{},
		details:     map[int64]catalog.Detail{},
		coupons:     map[int64]coupon.Coupon{},
		orders:      map[int64]*Order{},
		addresses:   map[int64]Address{},
		invoiceNext: invoice.FirstNumber - 1,
	}
}

func (s *memState) clone() *memState {
	c := *s
	c.variants = maps.Clone(s.variants)
	c.details = maps.Clone(s.details)
	c.coupons = maps.Clone(s.coupons)
	c.addresses = maps.Clone(s.addresses)
	c.orders = make(map[int64]*Order, len(s.orders))
	for id, o := range s.orders {
		c.orders[id] = cloneOrder(o)
	}
	return &c
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Lines = slices.Clone(o.Lines)
	return &c
}

type memUnitOfWork struct {
	mu    sync.Mutex
	state *memState

	// failInvoice makes NextInvoiceNumber fail after the counter moved.
	failInvoice bool
}

func newMemUnitOfWork() *memUnitOfWork {
	return &memUnitOfWork{state: newMemState()}
}

func (u *memUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	work := u.state.clone()
	if err := fn(ctx, &memTx{s: work, failInvoice: u.failInvoice}); err != nil {
		return err
	}
	u.state = work
	return nil
}

func (u *memUnitOfWork) variant(id int64) catalog.Variant {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state.variants[id]
}

func (u *memUnitOfWork) orderCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.state.orders)
}

type memTx struct {
	s           *memState
	failInvoice bool
}

func (t *memTx) LockVariants(_ context.Context, ids []int64) ([]catalog.Variant, error) {
	out := make([]catalog.Variant, 0, len(ids))
	for _, id := range ids {
		if v, ok := t.s.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *memTx) VariantDetails(_ context.Context, ids []int64) (map[int64]catalog.Detail, error) {
	out := make(map[int64]catalog.Detail, len(ids))
	for _, id := range ids {
		if d, ok := t.s.details[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func (t *memTx) AdjustQuantity(_ context.Context, id int64, delta int) error {
	v, ok := t.s.variants[id]
	if !ok {
		return errors.Errorf("variant %d missing", id)
	}
	v.Quantity += delta
	if v.Quantity < 0 {
		return errors.Errorf("variant %d quantity check violated", id)
	}
	t.s.variants[id] = v
	return nil
}

func (t *memTx) LockCoupon(_ context.Context, id int64) (*coupon.Coupon, error) {
	c, ok := t.s.coupons[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) CouponIDByCode(_ context.Context, code string) (int64, error) {
	for id, c := range t.s.coupons {
		if c.Code == code {
			return id, nil
		}
	}
	return 0, coupon.ErrNotFound
}

func (t *memTx) CountUsage(_ context.Context, couponID int64) (int, error) {
	n := 0
	for _, o := range t.s.orders {
		if id := CouponID(o.Coupon); id != nil && *id == couponID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CountCustomerUsage(_ context.Context, couponID, customerID int64) (int, error) {
	n := 0
	for _, o := range t.s.orders {
		id := CouponID(o.Coupon)
		if id != nil && *id == couponID && o.CustomerID != nil && *o.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) NextInvoiceNumber(_ context.Context, series string) (invoice.Code, error) {
	if series != invoice.DefaultSeries {
		return invoice.Code{}, invoice.ErrSeriesNotFound
	}
	t.s.invoiceNext++
	if t.failInvoice {
		return invoice.Code{}, errors.New("sequence unavailable")
	}
	return invoice.Code{Prefix: invoice.DefaultPrefix, Number: t.s.invoiceNext}, nil
}

func (t *memTx) CreateOrder(_ context.Context, o *Order) error {
	for _, existing := range t.s.orders {
		if existing.InvoiceCode == o.InvoiceCode {
			return errors.Errorf("duplicate invoice %s", o.InvoiceCode)
		}
	}
	t.s.nextOrder++
	o.ID = t.s.nextOrder
	for i := range o.Lines {
		t.s.nextLine++
		o.Lines[i].ID = t.s.nextLine
		o.Lines[i].OrderID = o.ID
	}
	t.s.nextPayment++
	o.Payment.ID = t.s.nextPayment
	o.Payment.OrderID = o.ID
	o.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o.UpdatedAt = o.CreatedAt
	t.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id int64) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) GetOrderByInvoice(_ context.Context, code string) (*Order, error) {
	for _, o := range t.s.orders {
		if o.InvoiceCode == code {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) LockOrder(ctx context.Context, id int64) (*Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memTx) ListOrders(_ context.Context, f ListFilter) ([]Order, error) {
	var out []Order
	for _, o := range t.s.orders {
		if !matches(o, f) || (f.Status != nil && o.Status != *f.Status) {
			continue
		}
		c := *o
		c.Lines = nil
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Order) int { return cmp.Compare(b.ID, a.ID) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) StatusSummary(_ context.Context, f ListFilter) (map[Status]int, error) {
	out := map[Status]int{}
	for _, o := range t.s.orders {
		if matches(o, f) {
			out[o.Status]++
		}
	}
	return out, nil
}

func matches(o *Order, f ListFilter) bool {
	if f.CustomerID != nil && (o.CustomerID == nil || *o.CustomerID != *f.CustomerID) {
		return false
	}
	return strings.Contains(strings.ToUpper(o.InvoiceCode), strings.ToUpper(f.Invoice))
}

func (t *memTx) InsertLine(_ context.Context, l *Line) error {
	o, ok := t.s.orders[l.OrderID]
	if !ok {
		return ErrNotFound
	}
	t.s.nextLine++
	l.ID = t.s.nextLine
	o.Lines = append(o.Lines, *l)
	return nil
}

func (t *memTx) UpdateLine(_ context.Context, l Line) error {
	o, ok := t.s.orders[l.OrderID]
	if !ok {
		return ErrNotFound
	}
	i := o.lineIndex(l.ID)
	if i < 0 {
		return ErrLineNotFound
	}
	o.Lines[i] = l
	return nil
}

func (t *memTx) DeleteLine(_ context.Context, id int64) error {
	for _, o := range t.s.orders {
		if i := o.lineIndex(id); i >= 0 {
			o.Lines = slices.Delete(o.Lines, i, i+1)
			return nil
		}
	}
	return ErrLineNotFound
}

func (t *memTx) UpdateOrder(_ context.Context, o *Order) error {
	stored, ok := t.s.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	c := cloneOrder(o)
	c.Lines = stored.Lines
	c.Payment = stored.Payment
	t.s.orders[o.ID] = c
	return nil
}

func (t *memTx) UpdatePayment(_ context.Context, p Payment) error {
	o, ok := t.s.orders[p.OrderID]
	if !ok {
		return ErrNotFound
	}
	o.Payment = p
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, id int64) error {
	if _, ok := t.s.orders[id]; !ok {
		return ErrNotFound
	}
	delete(t.s.orders, id)
	return nil
}

func (t *memTx) ShippingAddress(_ context.Context, id int64) (*Address, error) {
	a, ok := t.s.addresses[id]
	if !ok {
		return nil, ErrAddressNotFound
	}
	return &a, nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (r *memRecorder) Record(_ context.Context, e activity.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *memRecorder) last() activity.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return activity.Entry{}
	}
	return r.entries[len(r.entries)-1]
}

type memNotifier struct {
	mu     sync.Mutex
	placed []string
}

func (n *memNotifier) OrderPlaced(_ context.Context, o *Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.placed = append(n.placed, o.InvoiceCode)
}

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func nd(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(v))
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type fixture struct {
	uow      *memUnitOfWork
	recorder *memRecorder
	notifier *memNotifier
	svc      *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		uow:      newMemUnitOfWork(),
		recorder: &memRecorder{},
		notifier: &memNotifier{},
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc, err := NewService(f.uow, f.recorder, f.notifier, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) addVariant(v catalog.Variant, name string) {
	f.uow.state.variants[v.ID] = v
	f.uow.state.details[v.ID] = catalog.Detail{
		VariantID:   v.ID,
		ProductName: name,
		Code:        v.Code,
		Category:    "Shirts",
	}
}

func (f *fixture) addCoupon(c coupon.Coupon) {
	f.uow.state.coupons[c.ID] = c
}

func (f *fixture) addAddress(a Address) {
	f.uow.state.addresses[a.ID] = a
}

// seedCatalog adds two products: product 1 with variant 11 (100.00, 10 in
// stock) and product 2 with variant 21 (50.00, 5 in stock).
func (f *fixture) seedCatalog() {
	f.addVariant(catalog.Variant{ID: 11, ProductID: 1, Code: "SHIRT-XL", Quantity: 10, Price: nd("100.00")}, "Shirt")
	f.addVariant(catalog.Variant{ID: 21, ProductID: 2, Code: "CAP-RED", Quantity: 5, BasePrice: d("50.00")}, "Cap")
}

func guestRequest(lines ...LineRequest) *PlaceRequest {
	return &PlaceRequest{
		Shipping:       GuestShipping{Name: "Ana", Phone: "01700000000", Address: "12 Lake Rd"},
		Coupon:         NoCoupon{},
		ShippingCharge: d("10.00"),
		Method:         MethodCashOnDelivery,
		Lines:          lines,
	}
}

func requireKind(t *testing.T, err error, kind Kind, reason string) *Error {
	t.Helper()
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind, "kind of %v", err)
	require.Equal(t, reason, e.Reason, "reason of %v", err)
	return e
}
