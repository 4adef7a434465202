package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the service wraps exactly one of these
// (or none, in which case it is treated as an internal failure).
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUpstream          = errors.New("upstream gateway error")
	ErrConflict          = errors.New("conflict")
)

var (
	ErrWalletNotFound          = fmt.Errorf("wallet %w", ErrNotFound)
	ErrPurchaseRequestNotFound = fmt.Errorf("purchase request %w", ErrNotFound)
	ErrInwardTransferNotFound  = fmt.Errorf("inward transfer %w", ErrNotFound)
	ErrWithdrawalNotFound      = fmt.Errorf("withdrawal %w", ErrNotFound)
	ErrTransferCodeNotFound    = fmt.Errorf("transfer code %w", ErrNotFound)
	ErrTransactionsNotFound    = fmt.Errorf("transactions %w", ErrNotFound)

	ErrDuplicatePosting  = fmt.Errorf("posting already applied: %w", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("status transition not allowed: %w", ErrConflict)
	ErrUnbalancedPosting = errors.New("posting legs do not balance")
	ErrNoOutstandingLoan = fmt.Errorf("%w: no outstanding loan balance to repay", ErrValidation)
	ErrNothingToRepay    = errors.New("nothing to repay")
)

// Invalidf builds a caller-fixable validation error.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// UpstreamError reports a failed call to the payment gateway. The upstream
// message is kept so it can be surfaced for diagnosis.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// Upstream wraps err as an UpstreamError for op. A nil err stays nil.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}
