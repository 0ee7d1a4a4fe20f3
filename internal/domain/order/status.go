package order

import (
	"fmt"
	"time"
)

// Status is the order lifecycle state.
type Status int

const (
	StatusProcessing Status = 0
	StatusCompleted  Status = 1
	StatusOnHold     Status = 2
	StatusCancelled  Status = 3
	StatusRefunded   Status = 4
)

var statusLabels = map[Status]string{
	StatusProcessing: "Processing",
	StatusCompleted:  "Completed",
	StatusOnHold:     "On Hold",
	StatusCancelled:  "Cancelled",
	StatusRefunded:   "Refunded",
}

// Statuses lists every status in numeric order.
var Statuses = []Status{StatusProcessing, StatusCompleted, StatusOnHold, StatusCancelled, StatusRefunded}

func (s Status) String() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// LinesMutable reports whether lines may still be added, removed or changed.
func (s Status) LinesMutable() bool {
	return s == StatusProcessing || s == StatusOnHold
}

// ParseStatus converts a wire value to a Status.
func ParseStatus(v int) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return 0, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown order status %d", v)}
	}
	return s, nil
}

// TransitionPolicy decides which status changes are allowed.
//
// In strict mode Refunded is final and Cancelled may only move to Refunded.
// Permissive mode allows any change between distinct statuses.
type TransitionPolicy struct {
	Permissive bool
}

// Check returns nil when from may move to to.
func (p TransitionPolicy) Check(from, to Status) error {
	if !to.Valid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown order status %d", int(to))}
	}
	if from == to {
		return &TransitionError{From: from, To: to}
	}
	if p.Permissive {
		return nil
	}
	switch from {
	case StatusRefunded:
		return &TransitionError{From: from, To: to}
	case StatusCancelled:
		if to != StatusRefunded {
			return &TransitionError{From: from, To: to}
		}
	}
	return nil
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("order is already %s", e.From)
	}
	return fmt.Sprintf("cannot change status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

const narrativeTimeLayout = "2006-01-02 15:04:05"

// Narrative renders the status change line stored on the order and sent to
// the activity log.
func Narrative(invoiceCode string, from, to Status, at time.Time) string {
	return fmt.Sprintf("Order %s status changed from %s to %s at %s",
		invoiceCode, from, to, at.Format(narrativeTimeLayout))
}

func appendNarrative(history, line string) string {
	if history == "" {
		return line
	}
	return history + "\n" + line
}
