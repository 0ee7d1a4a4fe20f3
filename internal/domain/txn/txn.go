// Package txn defines storage-agnostic failures raised by units of work.
package txn

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// ErrContention is returned when a unit of work gave up waiting for a lock
// or lost a serialization race. The operation may be retried.
var ErrContention = errors.New("resource is busy, retry later")

// DuplicateError reports a unique constraint violation.
type DuplicateError struct {
	Constraint string
	Err        error
}

func (e *DuplicateError) Error() string {
	if e.Constraint == "" {
		return "duplicate value"
	}
	return fmt.Sprintf("duplicate value violates %s", e.Constraint)
}

func (e *DuplicateError) Unwrap() error {
	return e.Err
}

// ForeignKeyError reports a write that referenced a missing row.
type ForeignKeyError struct {
	Table      string
	Constraint string
	Err        error
}

func (e *ForeignKeyError) Error() string {
	if e.Constraint == "" {
		return "referenced row does not exist"
	}
	return fmt.Sprintf("referenced row does not exist (%s)", e.Constraint)
}

func (e *ForeignKeyError) Unwrap() error {
	return e.Err
}

// Column guesses the referencing column from a constraint named
// <table>_<column>_fkey, the PostgreSQL default. It returns "" otherwise.
func (e *ForeignKeyError) Column() string {
	name, ok := strings.CutSuffix(e.Constraint, "_fkey")
	if !ok || e.Table == "" {
		return ""
	}
	col, ok := strings.CutPrefix(name, e.Table+"_")
	if !ok {
		return ""
	}
	return col
}
