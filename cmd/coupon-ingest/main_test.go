package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/store-backoffice/internal/domain/coupon"
)

// --- Helpers ---

func writeGz(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

// --- Tests ---

func TestReadFile(t *testing.T) {
	path := writeGz(t, t.TempDir(), "a.csv.gz", strings.Join([]string{
		"code,discount_type,amount,min_purchase,max_usage,max_usage_per_user,starts_at,ends_at",
		"spring10,percent,10,,100,1,2026-03-01,2026-05-31T23:59:59Z",
		"FLAT5,flat,5.00,20,,,,",
	}, "\n"))

	coupons, err := readFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, coupons, 2)

	c := coupons[0]
	assert.Equal(t, "SPRING10", c.Code)
	assert.Equal(t, coupon.DiscountPercent, c.Type)
	assert.Equal(t, "10", c.Amount.String())
	assert.True(t, c.Global)
	assert.True(t, c.Active)
	require.NotNil(t, c.MaxUsage)
	assert.Equal(t, 100, *c.MaxUsage)
	require.NotNil(t, c.StartsAt)
	assert.Equal(t, "2026-03-01", c.StartsAt.Format("2006-01-02"))
	require.NotNil(t, c.EndsAt)
	assert.False(t, c.MinPurchase.Valid)

	c = coupons[1]
	assert.Equal(t, coupon.DiscountFlat, c.Type)
	require.True(t, c.MinPurchase.Valid)
	assert.Equal(t, "20", c.MinPurchase.Decimal.String())
	assert.Nil(t, c.MaxUsage)
	assert.Nil(t, c.StartsAt)
}

func TestReadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "missing column", content: "code,amount\nX,1", wantErr: `missing column "discount_type"`},
		{name: "bad amount", content: "code,discount_type,amount\nX,flat,ten", wantErr: "amount"},
		{name: "unknown type", content: "code,discount_type,amount\nX,bogo,1", wantErr: "invalid coupon definition"},
		{name: "bad date", content: "code,discount_type,amount,ends_at\nX,flat,1,next week", wantErr: "ends_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeGz(t, t.TempDir(), "bad.csv.gz", tt.content)
			_, err := readFile(context.Background(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFiles_Dedupe(t *testing.T) {
	dir := t.TempDir()
	a := writeGz(t, dir, "1.csv.gz", "code,discount_type,amount\nONE,flat,1\nTWO,flat,2")
	b := writeGz(t, dir, "2.csv.gz", "code,discount_type,amount\ntwo,percent,50\nTHREE,flat,3")

	parsed, err := parseFiles(context.Background(), []string{a, b})
	require.NoError(t, err)

	got := dedupe(parsed)
	require.Len(t, got, 3)
	assert.Equal(t, "ONE", got[0].Code)
	assert.Equal(t, "TWO", got[1].Code)
	assert.Equal(t, coupon.DiscountFlat, got[1].Type, "first definition wins")
	assert.Equal(t, "THREE", got[2].Code)
}
