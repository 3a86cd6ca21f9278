package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a record that does not exist or is not owned by the
	// requesting user; the two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a retryable isolation failure, typically lock
	// contention on the database.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks a timeout or temporary unavailability; the caller
	// may retry with backoff.
	ErrTransient = errors.New("transient failure")
)

// ValidationError reports a rejected input field. It carries the field name
// so callers can surface it without parsing the message.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AggregationError wraps a budget recompute or alert dispatch failure. It is
// logged by the aggregation side and never surfaced as a failure of the
// transaction write that triggered it.
type AggregationError struct {
	BudgetID string
	Err      error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("budget %s aggregation: %v", e.BudgetID, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}
