package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-backoffice/internal/domain/auth"
	"github.com/xenking/store-backoffice/internal/domain/catalog"
	"github.com/xenking/store-backoffice/internal/domain/coupon"
	"github.com/xenking/store-backoffice/internal/handler"
	"github.com/xenking/store-backoffice/internal/repository"
)

type variantJSON struct {
	ParentCategory string              `json:"parent_category"`
	Category       string              `json:"category"`
	Product        string              `json:"product"`
	BasePrice      decimal.Decimal     `json:"base_price"`
	Code           string              `json:"code"`
	Quantity       int                 `json:"quantity"`
	Price          decimal.NullDecimal `json:"price"`
	DiscountPrice  decimal.NullDecimal `json:"discount_price"`
	Attributes     []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"attributes"`
}

type couponJSON struct {
	Code            string              `json:"code"`
	DiscountType    string              `json:"discount_type"`
	Amount          decimal.Decimal     `json:"amount"`
	Global          bool                `json:"global"`
	Variants        []string            `json:"variants"`
	MinPurchase     decimal.NullDecimal `json:"min_purchase"`
	MaxUsage        *int                `json:"max_usage"`
	MaxUsagePerUser *int                `json:"max_usage_per_user"`
	StartsAt        *time.Time          `json:"starts_at"`
	EndsAt          *time.Time          `json:"ends_at"`
	Active          *bool               `json:"active"`
}

type catalogJSON struct {
	Variants []variantJSON `json:"variants"`
	Coupons  []couponJSON  `json:"coupons"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
		apiKeyScopes string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.StringVar(&apiKeyScopes, "api-key-scopes", "orders:read,orders:write", "comma separated scopes of the seeded key")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STORE_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or STORE_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STORE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	key := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: handler.HashKey([]byte(apiKeyPepper), apiKey),
		Name:    "Default back-office key",
		Scopes:  splitScopes(apiKeyScopes),
	}
	if err := run(ctx, databaseURL, catalogFile, key); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func splitScopes(s string) []string {
	var out []string
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}

func run(ctx context.Context, databaseURL, catalogFile string, key auth.APIKeyInfo) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL, repository.PoolConfig{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var cat catalogJSON
	if err := json.Unmarshal(data, &cat); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	seeder := repository.NewSeeder(pool)

	products, err := seedVariants(ctx, seeder, cat.Variants)
	if err != nil {
		return errors.Wrap(err, "seed variants")
	}

	if err := seedCoupons(ctx, seeder, cat.Coupons, products); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := repository.NewAPIKeyRepository(pool).Save(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("upserted API key", slog.String("id", key.ID), slog.Any("scopes", key.Scopes))

	return nil
}

// seedVariants upserts every variant and returns product ids keyed by
// variant code.
func seedVariants(ctx context.Context, seeder *repository.Seeder, variants []variantJSON) (map[string]int64, error) {
	slog.Info("upserting variants", slog.Int("count", len(variants)))

	products := make(map[string]int64, len(variants))
	for _, v := range variants {
		attrs := make([]catalog.Attribute, len(v.Attributes))
		for i, a := range v.Attributes {
			attrs[i] = catalog.Attribute{Name: a.Name, Value: a.Value}
		}

		productID, variantID, err := seeder.SeedVariant(ctx, repository.VariantSeed{
			ParentCategory: v.ParentCategory,
			Category:       v.Category,
			Product:        v.Product,
			BasePrice:      v.BasePrice,
			Code:           v.Code,
			Quantity:       v.Quantity,
			Price:          v.Price,
			DiscountPrice:  v.DiscountPrice,
			Attributes:     attrs,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "seed variant %s", v.Code)
		}
		products[v.Code] = productID

		slog.Info("upserted variant",
			slog.String("code", v.Code),
			slog.Int64("variant_id", variantID),
			slog.Int64("product_id", productID),
		)
	}
	return products, nil
}

func seedCoupons(ctx context.Context, seeder *repository.Seeder, coupons []couponJSON, products map[string]int64) error {
	slog.Info("upserting coupons", slog.Int("count", len(coupons)))

	for _, cj := range coupons {
		c := coupon.Coupon{
			Code:            coupon.NormalizeCode(cj.Code),
			Type:            coupon.DiscountType(cj.DiscountType),
			Amount:          cj.Amount,
			Global:          cj.Global,
			MinPurchase:     cj.MinPurchase,
			MaxUsage:        cj.MaxUsage,
			MaxUsagePerUser: cj.MaxUsagePerUser,
			StartsAt:        cj.StartsAt,
			EndsAt:          cj.EndsAt,
			Active:          cj.Active == nil || *cj.Active,
		}
		for _, code := range cj.Variants {
			id, ok := products[code]
			if !ok {
				return errors.Errorf("coupon %s references unknown variant %s", cj.Code, code)
			}
			c.ProductIDs = append(c.ProductIDs, id)
		}
		if err := c.Validate(); err != nil {
			return errors.Wrapf(err, "coupon %s", cj.Code)
		}

		id, err := seeder.SeedCoupon(ctx, c)
		if err != nil {
			return errors.Wrapf(err, "seed coupon %s", cj.Code)
		}
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.Int64("id", id))
	}
	return nil
}
