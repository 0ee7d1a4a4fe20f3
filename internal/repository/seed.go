package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-backoffice/internal/domain/catalog"
	"github.com/xenking/store-backoffice/internal/domain/coupon"
)

const (
	upsertParentCategorySQL = `INSERT INTO parent_categories (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	findCategorySQL = `SELECT id FROM categories
		WHERE name = $1 AND parent_category_id IS NOT DISTINCT FROM $2`

	insertCategorySQL = `INSERT INTO categories (name, parent_category_id) VALUES ($1, $2) RETURNING id`

	findProductSQL = `SELECT id FROM products
		WHERE name = $1 AND category_id IS NOT DISTINCT FROM $2`

	insertProductSQL = `INSERT INTO products (name, category_id, base_price) VALUES ($1, $2, $3) RETURNING id`

	updateProductPriceSQL = `UPDATE products SET base_price = $2 WHERE id = $1`

	upsertVariantSQL = `INSERT INTO product_skus (product_id, code, quantity, price, discount_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			quantity = EXCLUDED.quantity,
			price = EXCLUDED.price,
			discount_price = EXCLUDED.discount_price
		RETURNING id`

	upsertAttributeSQL = `INSERT INTO attributes (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	upsertAttributeValueSQL = `INSERT INTO attribute_values (attribute_id, value) VALUES ($1, $2)
		ON CONFLICT (attribute_id, value) DO UPDATE SET value = EXCLUDED.value
		RETURNING id`

	clearVariantAttributesSQL = `DELETE FROM product_sku_attributes WHERE product_sku_id = $1`

	insertVariantAttributeSQL = `INSERT INTO product_sku_attributes (product_sku_id, attribute_value_id, position)
		VALUES ($1, $2, $3)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, amount, is_global, min_purchase,
			max_usage, max_usage_per_user, starts_at, ends_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			amount = EXCLUDED.amount,
			is_global = EXCLUDED.is_global,
			min_purchase = EXCLUDED.min_purchase,
			max_usage = EXCLUDED.max_usage,
			max_usage_per_user = EXCLUDED.max_usage_per_user,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			active = EXCLUDED.active
		RETURNING id`

	insertCouponSQL = `INSERT INTO coupons (code, discount_type, amount, is_global, min_purchase,
			max_usage, max_usage_per_user, starts_at, ends_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO NOTHING`

	clearCouponProductsSQL = `DELETE FROM coupon_products WHERE coupon_id = $1`

	insertCouponProductsSQL = `INSERT INTO coupon_products (coupon_id, product_id)
		SELECT $1, unnest($2::bigint[])`

	listCouponCodesSQL = `SELECT code FROM coupons`

	findCouponCodesSQL = `SELECT code FROM coupons WHERE code = ANY($1)`
)

// VariantSeed describes one sellable variant and where it sits in the
// catalog.
type VariantSeed struct {
	ParentCategory string
	Category       string
	Product        string
	BasePrice      decimal.Decimal
	Code           string
	Quantity       int
	Price          decimal.NullDecimal
	DiscountPrice  decimal.NullDecimal
	Attributes     []catalog.Attribute
}

// Seeder writes catalog and coupon definitions. It is used by the command
// line tools, never by the API.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder creates a Seeder.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// SeedVariant creates or updates the variant and everything above it. It
// returns the product and variant ids.
func (s *Seeder) SeedVariant(ctx context.Context, v VariantSeed) (productID, variantID int64, err error) {
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var parentID *int64
		if v.ParentCategory != "" {
			var id int64
			if err := tx.QueryRow(ctx, upsertParentCategorySQL, v.ParentCategory).Scan(&id); err != nil {
				return errors.Wrapf(err, "upsert parent category %q", v.ParentCategory)
			}
			parentID = &id
		}

		var categoryID *int64
		if v.Category != "" {
			id, err := findOrInsert(ctx, tx, findCategorySQL, insertCategorySQL, v.Category, parentID)
			if err != nil {
				return errors.Wrapf(err, "category %q", v.Category)
			}
			categoryID = &id
		}

		var err error
		productID, err = findOrInsert(ctx, tx, findProductSQL, insertProductSQL, v.Product, categoryID, v.BasePrice)
		if err != nil {
			return errors.Wrapf(err, "product %q", v.Product)
		}
		if _, err := tx.Exec(ctx, updateProductPriceSQL, productID, v.BasePrice); err != nil {
			return errors.Wrapf(err, "update product %q price", v.Product)
		}

		if err := tx.QueryRow(ctx, upsertVariantSQL, productID, v.Code, v.Quantity, v.Price, v.DiscountPrice).Scan(&variantID); err != nil {
			return errors.Wrapf(err, "upsert variant %q", v.Code)
		}

		if _, err := tx.Exec(ctx, clearVariantAttributesSQL, variantID); err != nil {
			return errors.Wrapf(err, "clear attributes of %q", v.Code)
		}
		for pos, a := range v.Attributes {
			var attrID, valueID int64
			if err := tx.QueryRow(ctx, upsertAttributeSQL, a.Name).Scan(&attrID); err != nil {
				return errors.Wrapf(err, "upsert attribute %q", a.Name)
			}
			if err := tx.QueryRow(ctx, upsertAttributeValueSQL, attrID, a.Value).Scan(&valueID); err != nil {
				return errors.Wrapf(err, "upsert attribute value %q", a.Value)
			}
			if _, err := tx.Exec(ctx, insertVariantAttributeSQL, variantID, valueID, pos); err != nil {
				return errors.Wrapf(err, "link attribute %q", a.Name)
			}
		}
		return nil
	})
	return productID, variantID, err
}

// findOrInsert looks a row up by name and parent and inserts it when
// missing. extra is appended to the insert arguments.
func findOrInsert(ctx context.Context, tx pgx.Tx, findSQL, insertSQL, name string, parent *int64, extra ...any) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, findSQL, name, parent).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Wrap(err, "find")
	}
	args := append([]any{name, parent}, extra...)
	if err := tx.QueryRow(ctx, insertSQL, args...).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "insert")
	}
	return id, nil
}

func couponArgs(c coupon.Coupon) []any {
	return []any{c.Code, string(c.Type), c.Amount, c.Global, c.MinPurchase,
		c.MaxUsage, c.MaxUsagePerUser, c.StartsAt, c.EndsAt, c.Active}
}

// SeedCoupon creates or replaces a coupon definition and its product scope.
func (s *Seeder) SeedCoupon(ctx context.Context, c coupon.Coupon) (int64, error) {
	var id int64
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, upsertCouponSQL, couponArgs(c)...).Scan(&id); err != nil {
			return errors.Wrapf(err, "upsert coupon %q", c.Code)
		}
		if _, err := tx.Exec(ctx, clearCouponProductsSQL, id); err != nil {
			return errors.Wrap(err, "clear coupon products")
		}
		if len(c.ProductIDs) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, insertCouponProductsSQL, id, c.ProductIDs); err != nil {
			return errors.Wrap(err, "insert coupon products")
		}
		return nil
	})
	return id, mapError(err)
}

// InsertCoupons inserts global coupons in one batch, leaving existing codes
// untouched. It returns how many rows were inserted.
func (s *Seeder) InsertCoupons(ctx context.Context, coupons []coupon.Coupon) (int, error) {
	b := &pgx.Batch{}
	inserted := 0
	for _, c := range coupons {
		b.Queue(insertCouponSQL, couponArgs(c)...).Exec(func(tag pgconn.CommandTag) error {
			inserted += int(tag.RowsAffected())
			return nil
		})
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return inserted, errors.Wrap(err, "insert coupons")
	}
	return inserted, nil
}

// CouponCodes streams every stored coupon code to fn.
func (s *Seeder) CouponCodes(ctx context.Context, fn func(code string)) error {
	rows, err := s.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return errors.Wrap(err, "list coupon codes")
	}
	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	return errors.Wrap(err, "scan coupon codes")
}

// ExistingCouponCodes returns which of codes are already stored.
func (s *Seeder) ExistingCouponCodes(ctx context.Context, codes []string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, findCouponCodesSQL, codes)
	if err != nil {
		return nil, errors.Wrap(err, "find coupon codes")
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan coupon codes")
	}
	out := make(map[string]struct{}, len(found))
	for _, c := range found {
		out[c] = struct{}{}
	}
	return out, nil
}
