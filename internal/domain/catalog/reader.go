package catalog

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Snapshot is the locked view of the variants referenced by one cart.
type Snapshot struct {
	variants map[int64]Variant
}

// NewSnapshot builds a snapshot from already locked variants.
func NewSnapshot(variants []Variant) *Snapshot {
	m := make(map[int64]Variant, len(variants))
	for _, v := range variants {
		m[v.ID] = v
	}
	return &Snapshot{variants: m}
}

// Variant returns the locked variant with the given id.
func (s *Snapshot) Variant(id int64) (Variant, bool) {
	v, ok := s.variants[id]
	return v, ok
}

// UnitPrice returns the effective unit price of a variant in the snapshot.
func (s *Snapshot) UnitPrice(id int64) decimal.Decimal {
	return s.variants[id].UnitPrice()
}

// Len returns the number of distinct variants in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.variants)
}

// Reader loads priced variants for a cart.
type Reader struct{}

// Load locks every distinct variant referenced by reqs and verifies that each
// exists and belongs to the stated product.
func (Reader) Load(ctx context.Context, store Store, reqs []Request) (*Snapshot, error) {
	ids := VariantIDs(reqs)
	if len(ids) == 0 {
		return NewSnapshot(nil), nil
	}

	variants, err := store.LockVariants(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock variants")
	}

	snap := NewSnapshot(variants)
	for _, r := range reqs {
		v, ok := snap.Variant(r.VariantID)
		if !ok {
			return nil, &VariantNotFoundError{VariantID: r.VariantID}
		}
		if v.ProductID != r.ProductID {
			return nil, &MismatchError{ProductID: r.ProductID, VariantID: r.VariantID}
		}
	}
	return snap, nil
}

// VariantIDs returns the distinct variant ids of reqs in ascending order.
func VariantIDs(reqs []Request) []int64 {
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.VariantID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
