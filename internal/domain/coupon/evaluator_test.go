package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	coupon        *Coupon
	err           error
	usage         int
	customerUsage map[int64]int
	countErr      error
	locked        []int64
}

func (m *mockStore) LockCoupon(_ context.Context, id int64) (*Coupon, error) {
	m.locked = append(m.locked, id)
	if m.err != nil {
		return nil, m.err
	}
	if m.coupon == nil {
		return nil, ErrNotFound
	}
	return m.coupon, nil
}

func (m *mockStore) CouponIDByCode(_ context.Context, code string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if m.coupon == nil || m.coupon.Code != code {
		return 0, ErrNotFound
	}
	return m.coupon.ID, nil
}

func (m *mockStore) CountUsage(context.Context, int64) (int, error) {
	return m.usage, m.countErr
}

func (m *mockStore) CountCustomerUsage(_ context.Context, _ int64, customerID int64) (int, error) {
	return m.customerUsage[customerID], m.countErr
}

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }

func TestEvaluator_Evaluate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	cart := []Line{
		{ProductID: 1, UnitPrice: d("100"), Quantity: 1},
	}

	tests := []struct {
		name       string
		store      *mockStore
		customerID *int64
		wantAmount decimal.Decimal
		wantErr    error
	}{
		{
			name: "global flat inside window",
			store: &mockStore{coupon: &Coupon{
				ID: 1, Code: "FLAT10", Type: DiscountFlat, Amount: d("10"), Global: true, Active: true,
				StartsAt: &past, EndsAt: &future,
			}},
			wantAmount: d("10"),
		},
		{
			name:    "missing coupon",
			store:   &mockStore{},
			wantErr: ErrNotFound,
		},
		{
			name: "inactive coupon",
			store: &mockStore{coupon: &Coupon{
				ID: 1, Type: DiscountFlat, Amount: d("10"), Global: true,
			}},
			wantErr: ErrInactive,
		},
		{
			name: "not yet valid",
			store: &mockStore{coupon: &Coupon{
				ID: 1, Type: DiscountFlat, Amount: d("10"), Global: true, Active: true, StartsAt: &future,
			}},
			wantErr: ErrNotYetValid,
		},
		{
			name: "expired",
			store: &mockStore{coupon: &Coupon{
				ID: 1, Type: DiscountFlat, Amount: d("10"), Global: true, Active: true, EndsAt: &past,
			}},
			wantErr: ErrExpired,
		},
		{
			name: "global cap reached",
			store: &mockStore{
				coupon: &Coupon{ID: 1, Type: DiscountFlat, Amount: d("10"), Global: true, Active: true, MaxUsage: intPtr(1)},
				usage:  1,
			},
			wantErr: ErrUsageLimitReached,
		},
		{
			name: "global cap not yet reached",
			store: &mockStore{
				coupon: &Coupon{ID: 1, Type: DiscountFlat, Amount: d("10"), Global: true, Active: true, MaxUsage: intPtr(2)},
				usage:  1,
			},
			wantAmount: d("10"),
		},
		{
			name: "per customer cap reached",
			store: &mockStore{
				coupon: &Coupon{
					ID: 1, Type: DiscountFlat, Amount: d("10"), Global: true, Active: true, MaxUsagePerUser: intPtr(1),
				},
				customerUsage: map[int64]int{42: 1},
			},
			customerID: int64Ptr(42),
			wantErr:    ErrPerUserLimitReached,
		},
		{
			name: "per customer cap ignored for guests",
			store: &mockStore{
				coupon: &Coupon{
					ID: 1, Type: DiscountFlat, Amount: d("10"), Global: true, Active: true, MaxUsagePerUser: intPtr(1),
				},
				customerUsage: map[int64]int{42: 1},
			},
			wantAmount: d("10"),
		},
		{
			name: "minimum purchase not met",
			store: &mockStore{coupon: &Coupon{
				ID: 1, Type: DiscountFlat, Amount: d("10"), Global: true, Active: true,
				MinPurchase: decimal.NewNullDecimal(d("150")),
			}},
			wantErr: ErrMinimumPurchaseNotMet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Evaluator{now: func() time.Time { return fixedNow }}

			got, err := e.Evaluate(context.Background(), tt.store, 1, cart, tt.customerID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantAmount.Equal(got.Amount), "expected amount %s, got %s", tt.wantAmount, got.Amount)
			assert.Equal(t, []int64{1}, tt.store.locked)
		})
	}
}

func TestEvaluator_Evaluate_StoreError(t *testing.T) {
	boom := errors.New("connection reset")
	e := &Evaluator{now: time.Now}

	_, err := e.Evaluate(context.Background(), &mockStore{err: boom}, 1, nil, nil)
	require.ErrorIs(t, err, boom)

	_, err = e.Evaluate(context.Background(), &mockStore{
		coupon:   &Coupon{ID: 1, Active: true, Type: DiscountFlat, MaxUsage: intPtr(3)},
		countErr: boom,
	}, 1, nil, nil)
	require.ErrorIs(t, err, boom)
}

func TestEvaluator_Evaluate_NoSideEffects(t *testing.T) {
	store := &mockStore{coupon: &Coupon{
		ID: 5, Type: DiscountPercent, Amount: d("10"), Global: true, Active: true, MaxUsage: intPtr(1),
	}}
	e := &Evaluator{now: time.Now}
	cart := []Line{{ProductID: 1, UnitPrice: d("20"), Quantity: 1}}

	for range 3 {
		got, err := e.Evaluate(context.Background(), store, 5, cart, nil)
		require.NoError(t, err)
		assert.True(t, d("2").Equal(got.Amount))
	}
	assert.Zero(t, store.usage)
}

func TestEvaluator_EvaluateCode(t *testing.T) {
	e := NewEvaluator(func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) })
	cart := []Line{{ProductID: 1, UnitPrice: d("80"), Quantity: 1}}
	ctx := context.Background()

	store := &mockStore{coupon: &Coupon{ID: 7, Code: "FLAT10", Type: DiscountFlat, Amount: d("10"), Global: true, Active: true}}
	got, err := e.EvaluateCode(ctx, store, "  flat10 ", cart, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.CouponID)
	assert.True(t, d("10").Equal(got.Amount))
	assert.Equal(t, []int64{7}, store.locked)

	store = &mockStore{coupon: &Coupon{ID: 7, Code: "FLAT10", Type: DiscountFlat, Amount: d("10"), Global: true}}
	_, err = e.EvaluateCode(ctx, store, "FLAT10", cart, nil)
	assert.ErrorIs(t, err, ErrInactive, "resolved coupons go through every check")

	for _, code := range []string{"", "   ", "OTHER"} {
		store = &mockStore{coupon: &Coupon{ID: 7, Code: "FLAT10"}}
		_, err = e.EvaluateCode(ctx, store, code, cart, nil)
		assert.ErrorIs(t, err, ErrNotFound, "code %q", code)
		assert.Empty(t, store.locked)
	}

	store = &mockStore{err: errors.New("connection reset")}
	_, err = e.EvaluateCode(ctx, store, "FLAT10", cart, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
