package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/store-backoffice/internal/domain/activity"
	"github.com/xenking/store-backoffice/internal/domain/coupon"
)

// --- Tests ---

func TestPlaceOrder_NoCoupon(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()

	o, err := f.svc.PlaceOrder(context.Background(), guestRequest(
		LineRequest{ProductID: 1, VariantID: 11, Quantity: 2},
		LineRequest{ProductID: 2, VariantID: 21, Quantity: 1},
	))
	require.NoError(t, err)

	assert.Equal(t, "JG1000", o.InvoiceCode)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.True(t, d("250").Equal(o.ItemSubtotal), "subtotal %s", o.ItemSubtotal)
	assert.True(t, d("0").Equal(o.Discount))
	assert.True(t, d("260").Equal(o.Total), "total %s", o.Total)
	assert.Equal(t, NoCoupon{}, o.Coupon)

	require.Len(t, o.Lines, 2)
	assert.True(t, d("100.00").Equal(o.Lines[0].UnitPrice))
	assert.True(t, d("50.00").Equal(o.Lines[1].UnitPrice), "base price fallback")
	assert.Equal(t, o.ID, o.Lines[0].OrderID)

	assert.Equal(t, PaymentUnpaid, o.Payment.Status)
	assert.Equal(t, MethodCashOnDelivery, o.Payment.Method)
	assert.True(t, o.Total.Equal(o.Payment.Amount))
	assert.True(t, o.Payment.PaidAmount.IsZero())

	assert.Equal(t,
		"Shirts | Shirt [SKU: SHIRT-XL] x 2; Shirts | Cap [SKU: CAP-RED] x 1",
		o.Description,
	)

	assert.Equal(t, 8, f.uow.variant(11).Quantity)
	assert.Equal(t, 4, f.uow.variant(21).Quantity)

	assert.Equal(t, []string{"JG1000"}, f.notifier.placed)
	last := f.recorder.last()
	assert.Equal(t, activity.SubjectOrder, last.SubjectType)
	assert.Equal(t, o.ID, last.SubjectID)
	assert.Equal(t, fixedNow, last.CreatedAt)
}

func TestPlaceOrder_GlobalFlatCoupon(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()
	f.addCoupon(coupon.Coupon{ID: 7, Code: "FLAT15", Type: coupon.DiscountFlat, Amount: d("15"), Global: true, Active: true})

	req := guestRequest(LineRequest{ProductID: 1, VariantID: 11, Quantity: 2})
	req.Coupon = AppliedCoupon{ID: 7}

	o, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, d("200").Equal(o.ItemSubtotal))
	assert.True(t, d("15").Equal(o.Discount))
	assert.True(t, d("195").Equal(o.Total), "total %s", o.Total)
	assert.Equal(t, AppliedCoupon{ID: 7}, o.Coupon)
	assert.True(t, d("195").Equal(o.Payment.Amount))
}

func TestPlaceOrder_ScopedPercentCoupon(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()
	f.addCoupon(coupon.Coupon{ID: 8, Code: "CAPS10", Type: coupon.DiscountPercent, Amount: d("10"), ProductIDs: []int64{2}, Active: true})

	req := guestRequest(
		LineRequest{ProductID: 1, VariantID: 11, Quantity: 1},
		LineRequest{ProductID: 2, VariantID: 21, Quantity: 2},
	)
	req.Coupon = AppliedCoupon{ID: 8}
	req.ShippingCharge = d("0")

	o, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, d("200").Equal(o.ItemSubtotal))
	assert.True(t, d("10").Equal(o.Discount), "10%% of the 100.00 spent on caps, got %s", o.Discount)
	assert.True(t, d("190").Equal(o.Total))
}

func TestPlaceOrder_Rejections(t *testing.T) {
	past := fixedNow.Add(-time.Hour)

	tests := []struct {
		name      string
		coupon    *coupon.Coupon
		placed    int
		lines     []LineRequest
		customer  *int64
		wantKind  Kind
		wantRsn   string
		wantField string
	}{
		{
			name:     "expired coupon",
			coupon:   &coupon.Coupon{ID: 1, Type: coupon.DiscountFlat, Amount: d("5"), Global: true, Active: true, EndsAt: &past},
			lines:    []LineRequest{{ProductID: 1, VariantID: 11, Quantity: 1}},
			wantKind: KindRejected,
			wantRsn:  "coupon_expired",
		},
		{
			name:     "inactive coupon",
			coupon:   &coupon.Coupon{ID: 1, Type: coupon.DiscountFlat, Amount: d("5"), Global: true},
			lines:    []LineRequest{{ProductID: 1, VariantID: 11, Quantity: 1}},
			wantKind: KindRejected,
			wantRsn:  "coupon_inactive",
		},
		{
			name:     "usage cap reached",
			coupon:   &coupon.Coupon{ID: 1, Type: coupon.DiscountFlat, Amount: d("5"), Global: true, Active: true, MaxUsage: intPtr(1)},
			placed:   1,
			lines:    []LineRequest{{ProductID: 1, VariantID: 11, Quantity: 1}},
			wantKind: KindRejected,
			wantRsn:  "coupon_usage_limit_reached",
		},
		{
			name:     "per customer cap reached",
			coupon:   &coupon.Coupon{ID: 1, Type: coupon.DiscountFlat, Amount: d("5"), Global: true, Active: true, MaxUsagePerUser: intPtr(1)},
			placed:   1,
			customer: int64Ptr(42),
			lines:    []LineRequest{{ProductID: 1, VariantID: 11, Quantity: 1}},
			wantKind: KindRejected,
			wantRsn:  "coupon_per_user_limit_reached",
		},
		{
			name:     "minimum purchase not met",
			coupon:   &coupon.Coupon{ID: 1, Type: coupon.DiscountFlat, Amount: d("5"), Global: true, Active: true, MinPurchase: nd("500")},
			lines:    []LineRequest{{ProductID: 1, VariantID: 11, Quantity: 1}},
			wantKind: KindRejected,
			wantRsn:  "coupon_minimum_purchase_not_met",
		},
		{
			name:      "unknown coupon",
			lines:     []LineRequest{{ProductID: 1, VariantID: 11, Quantity: 1}},
			wantKind:  KindInvalid,
			wantRsn:   "coupon_not_found",
			wantField: "coupon_id",
		},
		{
			name:     "insufficient stock",
			lines:    []LineRequest{{ProductID: 2, VariantID: 21, Quantity: 6}},
			wantKind: KindConflict,
			wantRsn:  "insufficient_stock",
		},
		{
			name:      "unknown variant",
			lines:     []LineRequest{{ProductID: 1, VariantID: 99, Quantity: 1}},
			wantKind:  KindInvalid,
			wantRsn:   "variant_not_found",
			wantField: "variant_id",
		},
		{
			name:     "variant of another product",
			lines:    []LineRequest{{ProductID: 1, VariantID: 21, Quantity: 1}},
			wantKind: KindRejected,
			wantRsn:  "variant_mismatch",
		},
		{
			name:      "empty cart",
			wantKind:  KindInvalid,
			wantRsn:   "invalid_input",
			wantField: "lines",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedCatalog()
			if tt.coupon != nil {
				f.addCoupon(*tt.coupon)
			}

			for i := range tt.placed {
				f.uow.state.orders[int64(100+i)] = &Order{
					ID:         int64(100 + i),
					CustomerID: tt.customer,
					Coupon:     AppliedCoupon{ID: 1},
				}
			}
			before := f.uow.orderCount()

			req := guestRequest(tt.lines...)
			req.CustomerID = tt.customer
			req.Coupon = AppliedCoupon{ID: 1}
			if tt.coupon == nil && tt.wantRsn != "coupon_not_found" {
				req.Coupon = NoCoupon{}
			}

			_, err := f.svc.PlaceOrder(context.Background(), req)
			e := requireKind(t, err, tt.wantKind, tt.wantRsn)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, e.Field)
			}

			assert.Equal(t, before, f.uow.orderCount(), "no order written")
			assert.Equal(t, 10, f.uow.variant(11).Quantity, "stock untouched")
			assert.Equal(t, 5, f.uow.variant(21).Quantity, "stock untouched")
			assert.Empty(t, f.notifier.placed)
		})
	}
}

func TestPlaceOrder_InsufficientStockMessage(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()

	_, err := f.svc.PlaceOrder(context.Background(), guestRequest(LineRequest{ProductID: 2, VariantID: 21, Quantity: 6}))
	e := requireKind(t, err, KindConflict, "insufficient_stock")
	assert.Equal(t, "Insufficient quantity for SKU: CAP-RED", e.Message)
}

func TestPlaceOrder_SequenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()
	f.uow.failInvoice = true

	_, err := f.svc.PlaceOrder(context.Background(), guestRequest(LineRequest{ProductID: 1, VariantID: 11, Quantity: 3}))
	requireKind(t, err, KindInternal, "internal")

	assert.Equal(t, 10, f.uow.variant(11).Quantity)
	assert.Equal(t, 0, f.uow.orderCount())

	f.uow.failInvoice = false
	o, err := f.svc.PlaceOrder(context.Background(), guestRequest(LineRequest{ProductID: 1, VariantID: 11, Quantity: 3}))
	require.NoError(t, err)
	assert.Equal(t, "JG1000", o.InvoiceCode, "failed allocation must not consume a number")
}

func TestPlaceOrder_MergesRepeatedVariants(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()

	o, err := f.svc.PlaceOrder(context.Background(), guestRequest(
		LineRequest{ProductID: 2, VariantID: 21, Quantity: 2},
		LineRequest{ProductID: 2, VariantID: 21, Quantity: 3},
	))
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 5, o.Lines[0].Quantity)
	assert.Equal(t, 0, f.uow.variant(21).Quantity)
}

func TestPlaceOrder_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()

	const buyers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		invoices = map[string]bool{}
		rejected int
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := f.svc.PlaceOrder(context.Background(), guestRequest(LineRequest{ProductID: 2, VariantID: 21, Quantity: 1}))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
				return
			}
			assert.False(t, invoices[o.InvoiceCode], "duplicate invoice %s", o.InvoiceCode)
			invoices[o.InvoiceCode] = true
		}()
	}
	wg.Wait()

	assert.Len(t, invoices, 5)
	assert.Equal(t, buyers-5, rejected)
	assert.Equal(t, 0, f.uow.variant(21).Quantity)
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetOrder(context.Background(), 404)
	requireKind(t, err, KindNotFound, "order_not_found")
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()
	ctx := context.Background()

	for range 3 {
		_, err := f.svc.PlaceOrder(ctx, guestRequest(LineRequest{ProductID: 1, VariantID: 11, Quantity: 1}))
		require.NoError(t, err)
	}
	_, err := f.svc.ChangeStatus(ctx, 1, StatusOnHold)
	require.NoError(t, err)

	list, err := f.svc.ListOrders(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list.Orders, 2)
	assert.Equal(t, int64(3), list.Orders[0].ID, "newest first")
	assert.Equal(t, map[Status]int{StatusProcessing: 2, StatusOnHold: 1}, list.Summary)

	held := StatusOnHold
	list, err = f.svc.ListOrders(ctx, ListFilter{Status: &held})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, int64(1), list.Orders[0].ID)

	bad := Status(9)
	_, err = f.svc.ListOrders(ctx, ListFilter{Status: &bad})
	requireKind(t, err, KindInvalid, "invalid_input")
}

func TestPlaceOrder_SavedAddress(t *testing.T) {
	registered := func(addressID int64, customer *int64) *PlaceRequest {
		req := guestRequest(LineRequest{ProductID: 1, VariantID: 11, Quantity: 1})
		req.Shipping = RegisteredShipping{AddressID: addressID}
		req.CustomerID = customer
		return req
	}

	t.Run("own address", func(t *testing.T) {
		f := newFixture(t)
		f.seedCatalog()
		f.addAddress(Address{ID: 5, CustomerID: 42, Name: "Ana", Phone: "0170", Address: "12 Lake Rd"})

		o, err := f.svc.PlaceOrder(context.Background(), registered(5, int64Ptr(42)))
		require.NoError(t, err)
		assert.Equal(t, RegisteredShipping{AddressID: 5}, o.Shipping)
		assert.Equal(t, int64Ptr(42), o.CustomerID)
	})

	tests := []struct {
		name     string
		address  int64
		customer int64
	}{
		{name: "unknown address", address: 999, customer: 42},
		{name: "address of another customer", address: 5, customer: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedCatalog()
			f.addAddress(Address{ID: 5, CustomerID: 42, Name: "Ana", Phone: "0170", Address: "12 Lake Rd"})

			_, err := f.svc.PlaceOrder(context.Background(), registered(tt.address, int64Ptr(tt.customer)))
			e := requireKind(t, err, KindInvalid, "invalid_input")
			assert.Equal(t, "shipping_id", e.Field)

			assert.Equal(t, 10, f.uow.variant(11).Quantity, "stock untouched")
			assert.Zero(t, f.uow.orderCount())
			assert.Empty(t, f.notifier.placed)
		})
	}
}

func TestGetOrderByInvoice(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()
	ctx := context.Background()

	req := guestRequest(LineRequest{ProductID: 1, VariantID: 11, Quantity: 1})
	req.CustomerID = int64Ptr(42)
	placed, err := f.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	got, err := f.svc.GetOrderByInvoice(ctx, "jg1000", nil)
	require.NoError(t, err)
	assert.Equal(t, placed.ID, got.ID)
	require.Len(t, got.Lines, 1)

	got, err = f.svc.GetOrderByInvoice(ctx, " JG1000 ", int64Ptr(42))
	require.NoError(t, err)
	assert.Equal(t, placed.ID, got.ID)

	_, err = f.svc.GetOrderByInvoice(ctx, "JG1000", int64Ptr(7))
	requireKind(t, err, KindNotFound, "order_not_found")

	_, err = f.svc.GetOrderByInvoice(ctx, "JG4040", nil)
	requireKind(t, err, KindNotFound, "order_not_found")

	_, err = f.svc.GetOrderByInvoice(ctx, "1000", nil)
	e := requireKind(t, err, KindInvalid, "invalid_input")
	assert.Equal(t, "invoice", e.Field)
}

func TestListOrders_CustomerAndInvoiceFilters(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog()
	ctx := context.Background()

	for _, customer := range []*int64{int64Ptr(42), int64Ptr(42), nil} {
		req := guestRequest(LineRequest{ProductID: 1, VariantID: 11, Quantity: 1})
		req.CustomerID = customer
		_, err := f.svc.PlaceOrder(ctx, req)
		require.NoError(t, err)
	}
	_, err := f.svc.ChangeStatus(ctx, 1, StatusOnHold)
	require.NoError(t, err)

	list, err := f.svc.ListOrders(ctx, ListFilter{CustomerID: int64Ptr(42)})
	require.NoError(t, err)
	require.Len(t, list.Orders, 2)
	assert.Equal(t, map[Status]int{StatusProcessing: 1, StatusOnHold: 1}, list.Summary)

	held := StatusOnHold
	list, err = f.svc.ListOrders(ctx, ListFilter{CustomerID: int64Ptr(42), Status: &held})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, map[Status]int{StatusProcessing: 1, StatusOnHold: 1}, list.Summary, "status filter does not narrow counts")

	list, err = f.svc.ListOrders(ctx, ListFilter{Invoice: "jg1002"})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, "JG1002", list.Orders[0].InvoiceCode)
	assert.Equal(t, map[Status]int{StatusProcessing: 1}, list.Summary)

	_, err = f.svc.ListOrders(ctx, ListFilter{CustomerID: int64Ptr(0)})
	requireKind(t, err, KindInvalid, "invalid_input")
}

func TestCheckCoupon(t *testing.T) {
	cart := []LineRequest{
		{ProductID: 1, VariantID: 11, Quantity: 2},
		{ProductID: 2, VariantID: 21, Quantity: 1},
	}

	t.Run("quotes without reserving", func(t *testing.T) {
		f := newFixture(t)
		f.seedCatalog()
		f.addCoupon(coupon.Coupon{ID: 3, Code: "SHIRTS10", Type: coupon.DiscountPercent, Amount: d("10"), ProductIDs: []int64{1}, Active: true, MaxUsage: intPtr(1)})

		q, err := f.svc.CheckCoupon(context.Background(), &CouponCheck{
			Code:           " shirts10 ",
			ShippingCharge: d("10"),
			Lines:          cart,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), q.CouponID)
		assert.Equal(t, "SHIRTS10", q.Code)
		assert.True(t, d("250").Equal(q.ItemSubtotal), "subtotal %s", q.ItemSubtotal)
		assert.True(t, d("200").Equal(q.Eligible), "eligible %s", q.Eligible)
		assert.True(t, d("20").Equal(q.Discount), "discount %s", q.Discount)
		assert.True(t, d("240").Equal(q.Total), "total %s", q.Total)

		assert.Equal(t, 10, f.uow.variant(11).Quantity)
		assert.Zero(t, f.uow.orderCount())

		// The check did not consume the only use.
		req := guestRequest(cart...)
		req.Coupon = AppliedCoupon{ID: 3}
		o, err := f.svc.PlaceOrder(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, q.Discount.Equal(o.Discount))

		_, err = f.svc.CheckCoupon(context.Background(), &CouponCheck{Code: "SHIRTS10", Lines: cart})
		requireKind(t, err, KindRejected, "coupon_usage_limit_reached")
	})

	t.Run("unknown code", func(t *testing.T) {
		f := newFixture(t)
		f.seedCatalog()

		_, err := f.svc.CheckCoupon(context.Background(), &CouponCheck{Code: "NOPE", Lines: cart})
		e := requireKind(t, err, KindInvalid, "coupon_not_found")
		assert.Equal(t, "code", e.Field)
	})

	t.Run("empty code", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CheckCoupon(context.Background(), &CouponCheck{Code: "  ", Lines: cart})
		e := requireKind(t, err, KindInvalid, "invalid_input")
		assert.Equal(t, "code", e.Field)
	})

	t.Run("minimum purchase", func(t *testing.T) {
		f := newFixture(t)
		f.seedCatalog()
		f.addCoupon(coupon.Coupon{ID: 4, Code: "BIG", Type: coupon.DiscountFlat, Amount: d("5"), Global: true, Active: true, MinPurchase: nd("1000")})

		_, err := f.svc.CheckCoupon(context.Background(), &CouponCheck{Code: "BIG", Lines: cart})
		requireKind(t, err, KindRejected, "coupon_minimum_purchase_not_met")
	})
}
