package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidPolicy is returned when policy data violates a structural invariant
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrNoOperations is returned when a transaction proposal carries no operations
	ErrNoOperations = errors.New("proposal requires at least one operation")

	// ErrNoPolicies is returned when an account has no policies at all; no
	// proposal can ever execute for such an account
	ErrNoPolicies = errors.New("account has no policies")

	// ErrFeeExceedsMax is returned when the required fee token amount
	// exceeds the proposal's configured maximum
	ErrFeeExceedsMax = errors.New("required fee exceeds configured maximum")

	// ErrSimulationRequired is returned when execution is attempted
	// without a successful, fresh simulation
	ErrSimulationRequired = errors.New("successful simulation required")

	// ErrApprovalsExpired is returned when previously collected approvals
	// no longer verify at execution time
	ErrApprovalsExpired = errors.New("approvals expired")

	// ErrNotScheduled is returned when a scheduled execution finds its
	// schedule record cancelled or missing
	ErrNotScheduled = errors.New("not scheduled")

	// ErrAlreadyExecuted is returned when an execution job finds the
	// proposal already in a terminal status
	ErrAlreadyExecuted = errors.New("already executed")
)

// FatalError marks an error as non-retryable: the job that hit it must not
// be re-attempted, because the failure is a user/config error or internal
// state has diverged from on-chain state.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err (or any wrapped error) is non-retryable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
