package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource conflict")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// ErrBackendUnavailable means the shared store or database could not be reached.
	// Callers apply their fail-open/fail-closed policy; it is never process-fatal.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// Account state errors
	ErrAccountDisabled      = errors.New("account is disabled")
	ErrAccountLocked        = errors.New("account is temporarily locked")
	ErrSecondFactorRequired = errors.New("second factor required")
	ErrInvalidSecondFactor  = errors.New("invalid second factor code")

	// Billing errors
	ErrAlreadyReviewed      = fmt.Errorf("payment already reviewed: %w", ErrConflict)
	ErrPendingPaymentExists = fmt.Errorf("a pending payment already exists: %w", ErrConflict)

	// Access gate errors
	ErrSubscriptionRequired = errors.New("subscription required")
	ErrGraceExpired         = fmt.Errorf("grace period expired: %w", ErrSubscriptionRequired)
)

// LockedError carries the lock expiry alongside ErrAccountLocked.
type LockedError struct {
	LockedUntil *time.Time
}

func (e *LockedError) Error() string {
	if e.LockedUntil == nil {
		return ErrAccountLocked.Error()
	}
	return fmt.Sprintf("%s until %s", ErrAccountLocked.Error(), e.LockedUntil.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// InvalidCredentialsError carries how many attempts remain before lockout.
type InvalidCredentialsError struct {
	RemainingAttempts int
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials (%d attempts remaining)", e.RemainingAttempts)
}

func (e *InvalidCredentialsError) Unwrap() error { return ErrUnauthorized }
