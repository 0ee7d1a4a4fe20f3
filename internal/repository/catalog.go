package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/store-backoffice/internal/domain/catalog"
)

const (
	lockVariantsSQL = `SELECT s.id, s.product_id, s.code, s.quantity, s.price, s.discount_price, p.base_price
		FROM product_skus s
		JOIN products p ON p.id = s.product_id
		WHERE s.id = ANY($1)
		ORDER BY s.id
		FOR UPDATE OF s`

	variantDetailsSQL = `SELECT s.id, p.name, s.code, COALESCE(pc.name, ''), COALESCE(c.name, ''),
		COALESCE(array_agg(a.name ORDER BY sa.position, a.name) FILTER (WHERE a.id IS NOT NULL), '{}'),
		COALESCE(array_agg(av.value ORDER BY sa.position, a.name) FILTER (WHERE a.id IS NOT NULL), '{}')
		FROM product_skus s
		JOIN products p ON p.id = s.product_id
		LEFT JOIN categories c ON c.id = p.category_id
		LEFT JOIN parent_categories pc ON pc.id = c.parent_category_id
		LEFT JOIN product_sku_attributes sa ON sa.product_sku_id = s.id
		LEFT JOIN attribute_values av ON av.id = sa.attribute_value_id
		LEFT JOIN attributes a ON a.id = av.attribute_id
		WHERE s.id = ANY($1)
		GROUP BY s.id, p.name, s.code, pc.name, c.name`

	adjustQuantitySQL = `UPDATE product_skus SET quantity = quantity + $2 WHERE id = $1`
)

// LockVariants locks the variant rows in ascending id order. Missing ids are
// omitted from the result.
func (t *Tx) LockVariants(ctx context.Context, ids []int64) ([]catalog.Variant, error) {
	rows, err := t.q.Query(ctx, lockVariantsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock variants")
	}
	return pgx.CollectRows(rows, scanVariant)
}

// VariantDetails returns display data for the given variants.
func (t *Tx) VariantDetails(ctx context.Context, ids []int64) (map[int64]catalog.Detail, error) {
	rows, err := t.q.Query(ctx, variantDetailsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query variant details")
	}
	details, err := pgx.CollectRows(rows, scanDetail)
	if err != nil {
		return nil, errors.Wrap(err, "scan variant details")
	}

	out := make(map[int64]catalog.Detail, len(details))
	for _, d := range details {
		out[d.VariantID] = d
	}
	return out, nil
}

// AdjustQuantity adds delta to the variant's stock. The quantity check
// constraint rejects results below zero.
func (t *Tx) AdjustQuantity(ctx context.Context, variantID int64, delta int) error {
	tag, err := t.q.Exec(ctx, adjustQuantitySQL, variantID, delta)
	if err != nil {
		return errors.Wrapf(err, "adjust quantity of variant %d", variantID)
	}
	if tag.RowsAffected() == 0 {
		return &catalog.VariantNotFoundError{VariantID: variantID}
	}
	return nil
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var v catalog.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Code, &v.Quantity, &v.Price, &v.DiscountPrice, &v.BasePrice)
	return v, err
}

func scanDetail(row pgx.CollectableRow) (catalog.Detail, error) {
	var (
		d      catalog.Detail
		names  []string
		values []string
	)
	if err := row.Scan(&d.VariantID, &d.ProductName, &d.Code, &d.ParentCategory, &d.Category, &names, &values); err != nil {
		return d, err
	}
	for i := range min(len(names), len(values)) {
		d.Attributes = append(d.Attributes, catalog.Attribute{Name: names[i], Value: values[i]})
	}
	return d, nil
}
