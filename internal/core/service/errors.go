package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrTransactionFailed  = errors.New("transaction failed")
	ErrInvalidState       = errors.New("invalid state")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("username already exists")
)

// InsufficientStockError carries the stock that was available when the
// request was rejected.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// TransactionFailedError means the atomic unit was rolled back because of a
// storage failure or an invariant violation.
type TransactionFailedError struct {
	Cause error
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction failed: %v", e.Cause)
}

func (e *TransactionFailedError) Is(target error) bool {
	return target == ErrTransactionFailed
}

func (e *TransactionFailedError) Unwrap() error {
	return e.Cause
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// classify passes caller-facing outcomes through unchanged and folds every
// other failure of an atomic unit into TransactionFailedError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrTransactionFailed):
		return err
	}
	return &TransactionFailedError{Cause: err}
}
