package models

import "time"

// Stored subscription statuses
const (
	SubscriptionStatusActive  = "active"
	SubscriptionStatusExpired = "expired"
)

// Live access states computed by CurrentAccess
const (
	AccessActive  = "active"
	AccessGrace   = "grace"
	AccessExpired = "expired"
	AccessNone    = "none"
)

// PlanAnnual is the only plan; every approved payment buys one fixed term.
const (
	PlanAnnual           = "annual"
	SubscriptionTermDays = 365
)

// Subscription is a durable, never-deleted access period for a user.
// RenewedFrom is a lookup-only reference to the previous row and is never
// followed for ownership or cleanup.
type Subscription struct {
	ID                 string    `json:"subscription_id"`
	UserID             string    `json:"user_id"`
	Plan               string    `json:"plan"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
	Status             string    `json:"status"`
	IsRenewal          bool      `json:"is_renewal"`
	RenewedFrom        *string   `json:"renewed_from,omitempty"`
	GracePeriodEnabled bool      `json:"grace_period_enabled"`
	Notified14d        bool      `json:"notified_14d"`
	Notified7d         bool      `json:"notified_7d"`
	Notified3d         bool      `json:"notified_3d"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Milestone is a renewal reminder day count.
type Milestone int

const (
	Milestone14d Milestone = 14
	Milestone7d  Milestone = 7
	Milestone3d  Milestone = 3
)

// Milestones in the order the sweep evaluates them.
var Milestones = []Milestone{Milestone14d, Milestone7d, Milestone3d}

// Notified reports whether the reminder for m was already sent.
func (s *Subscription) Notified(m Milestone) bool {
	switch m {
	case Milestone14d:
		return s.Notified14d
	case Milestone7d:
		return s.Notified7d
	case Milestone3d:
		return s.Notified3d
	}
	return true
}

// AccessState is the live evaluation of a user's subscription.
type AccessState struct {
	Status        string        `json:"status"`
	DaysRemaining int           `json:"days_remaining"`
	EndDate       *time.Time    `json:"end_date,omitempty"`
	GraceEndsAt   *time.Time    `json:"grace_ends_at,omitempty"`
	Limited       bool          `json:"is_limited"`
	HadGrace      bool          `json:"-"`
	Subscription  *Subscription `json:"subscription,omitempty"`
}

// HasAccess reports whether the state admits the caller.
func (a *AccessState) HasAccess() bool {
	return a.Status == AccessActive || a.Status == AccessGrace
}

// SweepResult summarises one run of the daily sweep.
type SweepResult struct {
	ExpiredCount  int `json:"expired_count"`
	RemindersSent int `json:"reminders_sent"`
}

// SubscriptionListing is a subscription row joined with its owner for the
// admin overview.
type SubscriptionListing struct {
	Subscription
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
}

// SubscriptionStats counts rows by stored status. ExpiringSoon counts active
// rows whose end date falls inside the reminder horizon.
type SubscriptionStats struct {
	Total        int64 `json:"total"`
	Active       int64 `json:"active"`
	Expired      int64 `json:"expired"`
	ExpiringSoon int64 `json:"expiring_soon"`
}
