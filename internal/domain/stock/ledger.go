// Package stock debits and credits variant quantities under row locks.
//
// All variants touched by one operation are locked as a batch in ascending id
// order, so two operations with overlapping variant sets queue on the first
// shared row instead of deadlocking.
package stock

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/store-backoffice/internal/domain/catalog"
)

// InsufficientStockError reports the first variant that cannot cover the
// requested quantity.
type InsufficientStockError struct {
	VariantID int64
	Code      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient quantity for SKU %s: requested %d, available %d", e.Code, e.Requested, e.Available)
}

// Movement is a quantity change for one variant.
type Movement struct {
	VariantID int64
	Quantity  int
}

// Store provides locked variant access and quantity updates.
type Store interface {
	LockVariants(ctx context.Context, ids []int64) ([]catalog.Variant, error)
	AdjustQuantity(ctx context.Context, variantID int64, delta int) error
}

// Ledger reserves and releases stock.
type Ledger struct{}

// Reserve locks all variants in moves and debits them. If any variant is
// missing or short, nothing is debited.
func (Ledger) Reserve(ctx context.Context, store Store, moves []Movement) error {
	need := aggregate(moves)
	if len(need) == 0 {
		return nil
	}

	locked, err := lockSorted(ctx, store, need)
	if err != nil {
		return err
	}

	for _, id := range sortedIDs(need) {
		v := locked[id]
		if v.Quantity < need[id] {
			return &InsufficientStockError{
				VariantID: id,
				Code:      v.Code,
				Available: v.Quantity,
				Requested: need[id],
			}
		}
	}

	for _, id := range sortedIDs(need) {
		if err := store.AdjustQuantity(ctx, id, -need[id]); err != nil {
			return errors.Wrapf(err, "debit variant %d", id)
		}
	}
	return nil
}

// Release locks all variants in moves and credits them back.
func (Ledger) Release(ctx context.Context, store Store, moves []Movement) error {
	give := aggregate(moves)
	if len(give) == 0 {
		return nil
	}

	if _, err := lockSorted(ctx, store, give); err != nil {
		return err
	}

	for _, id := range sortedIDs(give) {
		if err := store.AdjustQuantity(ctx, id, give[id]); err != nil {
			return errors.Wrapf(err, "credit variant %d", id)
		}
	}
	return nil
}

// Adjust applies a signed change for a single variant: positive deltas
// reserve, negative deltas release.
func (l Ledger) Adjust(ctx context.Context, store Store, variantID int64, delta int) error {
	switch {
	case delta > 0:
		return l.Reserve(ctx, store, []Movement{{VariantID: variantID, Quantity: delta}})
	case delta < 0:
		return l.Release(ctx, store, []Movement{{VariantID: variantID, Quantity: -delta}})
	default:
		return nil
	}
}

func lockSorted(ctx context.Context, store Store, qty map[int64]int) (map[int64]catalog.Variant, error) {
	ids := sortedIDs(qty)
	variants, err := store.LockVariants(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock variants")
	}

	locked := make(map[int64]catalog.Variant, len(variants))
	for _, v := range variants {
		locked[v.ID] = v
	}
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return nil, &catalog.VariantNotFoundError{VariantID: id}
		}
	}
	return locked, nil
}

// aggregate sums quantities per variant, dropping non-positive entries.
func aggregate(moves []Movement) map[int64]int {
	out := make(map[int64]int, len(moves))
	for _, m := range moves {
		if m.Quantity > 0 {
			out[m.VariantID] += m.Quantity
		}
	}
	return out
}

func sortedIDs(m map[int64]int) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
