// Package invoice allocates human-readable, collision-free invoice codes.
package invoice

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

const (
	// DefaultSeries is the counter row used for order invoices.
	DefaultSeries = "orders"
	// DefaultPrefix is prepended to every order invoice number.
	DefaultPrefix = "JG"
	// FirstNumber is the number of the first invoice in a fresh series.
	FirstNumber = 1000
)

// ErrSeriesNotFound is returned when the counter row for a series is missing.
var ErrSeriesNotFound = errors.New("invoice series not found")

// Code is an invoice identifier such as JG1042.
type Code struct {
	Prefix string
	Number int64
}

func (c Code) String() string {
	return c.Prefix + strconv.FormatInt(c.Number, 10)
}

// ParseCode splits an invoice code into its alphabetic prefix and number.
func ParseCode(s string) (Code, error) {
	i := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return Code{}, errors.Errorf("invoice code %q: missing prefix or number", s)
	}
	prefix := s[:i]
	for _, r := range prefix {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return Code{}, errors.Errorf("invoice code %q: prefix must be alphabetic", s)
		}
	}
	n, err := strconv.ParseInt(s[i:], 10, 64)
	if err != nil || n < 0 {
		return Code{}, errors.Errorf("invoice code %q: invalid number", s)
	}
	return Code{Prefix: prefix, Number: n}, nil
}

// Store increments a counter row and returns the new value. The increment
// must hold the row lock until the enclosing unit of work ends, so a rolled
// back placement also rolls back its number.
type Store interface {
	NextInvoiceNumber(ctx context.Context, series string) (Code, error)
}

// Sequencer hands out invoice codes from one series.
type Sequencer struct {
	series string
}

// NewSequencer creates a Sequencer for the given series. An empty series
// selects DefaultSeries.
func NewSequencer(series string) *Sequencer {
	if series == "" {
		series = DefaultSeries
	}
	return &Sequencer{series: series}
}

// Series returns the counter row name.
func (s *Sequencer) Series() string {
	return s.series
}

// Next allocates the next code within the caller's unit of work.
func (s *Sequencer) Next(ctx context.Context, store Store) (Code, error) {
	code, err := store.NextInvoiceNumber(ctx, s.series)
	if err != nil {
		return Code{}, errors.Wrapf(err, "next invoice number for %q", s.series)
	}
	return code, nil
}
