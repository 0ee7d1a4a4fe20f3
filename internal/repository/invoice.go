package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/store-backoffice/internal/domain/invoice"
)

const nextInvoiceNumberSQL = `UPDATE invoice_sequences
	SET last_number = last_number + 1
	WHERE series = $1
	RETURNING prefix, last_number`

// NextInvoiceNumber increments the series counter. The row stays locked
// until the transaction ends, so concurrent placements queue behind it.
func (t *Tx) NextInvoiceNumber(ctx context.Context, series string) (invoice.Code, error) {
	var c invoice.Code
	err := t.q.QueryRow(ctx, nextInvoiceNumberSQL, series).Scan(&c.Prefix, &c.Number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return invoice.Code{}, invoice.ErrSeriesNotFound
		}
		return invoice.Code{}, errors.Wrap(err, "increment invoice sequence")
	}
	return c, nil
}
