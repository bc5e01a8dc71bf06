package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available
	// balance to cover the requested movement plus any fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountInactive occurs when an involved account is not in the
	// active status.
	ErrAccountInactive = errors.New("account not active")

	// ErrLimitExceeded is the sentinel wrapped by LimitError.
	ErrLimitExceeded = errors.New("transaction limit exceeded")

	// ErrTransactionFinal occurs when a recorded transaction has already
	// reached a terminal state and cannot be executed.
	ErrTransactionFinal = errors.New("transaction already finalized")

	// ErrMalformedRecord occurs when a recorded transaction fails the
	// shape checks for its type and must not be applied.
	ErrMalformedRecord = errors.New("recorded transaction malformed")
)

// Limit scopes reported by the limit checker.
const (
	LimitDaily   = "daily"
	LimitMonthly = "monthly"
	LimitGlobal  = "global"
	LimitMinimum = "minimum"
)

// LimitError reports which ceiling would be exceeded and its threshold in
// minor currency units. It unwraps to ErrLimitExceeded.
type LimitError struct {
	Scope     string
	Threshold int64
}

func (e *LimitError) Error() string {
	switch e.Scope {
	case LimitDaily:
		return fmt.Sprintf("daily transaction limit of %d would be exceeded", e.Threshold)
	case LimitMonthly:
		return fmt.Sprintf("monthly transaction limit of %d would be exceeded", e.Threshold)
	case LimitMinimum:
		return fmt.Sprintf("transaction amount below minimum of %d", e.Threshold)
	default:
		return fmt.Sprintf("transaction amount exceeds maximum limit of %d", e.Threshold)
	}
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// PersistenceError wraps a store failure. The unit of work was aborted, so
// no partial effect is observable and the operation is safe to retry.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persistence failure: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// rejection reports whether err is a user-visible rejection rather than an
// infrastructure failure.
func rejection(err error) bool {
	var limitErr *LimitError
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrTransactionFinal) ||
		errors.As(err, &limitErr)
}
