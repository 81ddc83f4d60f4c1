package models

import "time"

// AuditEntry is one persisted audit event. ActorID is nil for events with no
// resolved account, such as failed logins for unknown usernames.
type AuditEntry struct {
	ID            string            `json:"id"`
	EventType     string            `json:"event_type"`
	AuditType     string            `json:"audit_type"`
	ActorID       *string           `json:"actor_id,omitempty"`
	Username      *string           `json:"username,omitempty"`
	Success       bool              `json:"success"`
	FailureReason *string           `json:"failure_reason,omitempty"`
	IPAddress     *string           `json:"ip_address,omitempty"`
	UserAgent     *string           `json:"user_agent,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// AuditFilter narrows an audit log query. Zero values match everything.
type AuditFilter struct {
	EventType string
	ActorID   string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// SecurityStats summarizes security events over a trailing window.
type SecurityStats struct {
	WindowDays       int     `json:"window_days"`
	SuccessfulLogins int64   `json:"total_logins"`
	FailedLogins     int64   `json:"failed_logins"`
	PasswordChanges  int64   `json:"password_changes"`
	AccountLocks     int64   `json:"account_locks"`
	StaffUsers       int     `json:"total_staff_users"`
	StaffWithTOTP    int     `json:"staff_with_2fa"`
	TOTPAdoptionRate float64 `json:"2fa_adoption_rate"`
}
