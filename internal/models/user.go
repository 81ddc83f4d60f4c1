package models

import (
	"time"
)

// Roles known to the platform. Only traders are gated by subscription.
const (
	RoleTrader   = "trader"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

type User struct {
	ID                string
	Username          string
	Email             string
	Phone             string
	PasswordHash      string
	FullName          string
	Role              string // "trader", "reviewer", "admin"
	IsActive          bool
	TOTPSecret        string // empty until enrollment starts
	TOTPEnabled       bool
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RequiresSubscription reports whether the user's role is subscription gated.
func (u *User) RequiresSubscription() bool {
	return u.Role == RoleTrader
}
