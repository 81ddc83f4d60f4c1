package models

import "time"

// AccountLock is the cache-tier record created when failed attempts reach the threshold.
type AccountLock struct {
	Username    string    `json:"username"`
	LockedAt    time.Time `json:"locked_at"`
	LockedUntil time.Time `json:"locked_until"`
}

// LockStatus is the answer to "is this account locked right now".
type LockStatus struct {
	Locked      bool
	LockedUntil *time.Time
}

// FailedAttemptResult is returned after recording a failed login or second-factor check.
type FailedAttemptResult struct {
	Locked            bool
	LockedUntil       *time.Time
	RemainingAttempts int
}
