package types

import (
	"errors"
	"fmt"
)

// ErrNoLiquidity means no reference price is available for the
// instrument. The order is marked REJECTED with no further state
// mutation.
var ErrNoLiquidity = errors.New("no reference price available")

// ErrNoMarginRule means no margin rule covers the instrument's scope.
// Evaluation fails closed rather than treating the instrument as
// margin-free.
var ErrNoMarginRule = errors.New("no margin rule covers scope")

// ErrInsufficientMargin rejects a trade whose post-trade equity falls
// below the account's initial margin requirement.
var ErrInsufficientMargin = errors.New("equity below initial margin requirement")

// InvalidOrderError reports the specific constraint an order request
// violated. It is expected, recovered at the request boundary, and the
// order never reaches execution.
type InvalidOrderError struct {
	Constraint string
	Message    string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order (%s): %s", e.Constraint, e.Message)
}

// NewInvalidOrderError creates an InvalidOrderError for the given
// constraint.
func NewInvalidOrderError(constraint, format string, args ...interface{}) *InvalidOrderError {
	return &InvalidOrderError{
		Constraint: constraint,
		Message:    fmt.Sprintf(format, args...),
	}
}

// InsufficientLotsError signals that a position's bookkeeping disagrees
// with its open lots. This is a fatal consistency violation: it aborts
// the order's pipeline and must never be silently clamped.
type InsufficientLotsError struct {
	PositionID string
	Requested  float64
	Available  float64
}

func (e *InsufficientLotsError) Error() string {
	return fmt.Sprintf("insufficient open lots on position %s: requested %f, available %f",
		e.PositionID, e.Requested, e.Available)
}
