package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventLoginSuccess       = "login_success"
	EventLoginFailed        = "login_failed"
	EventSecondFactorFailed = "second_factor_failed"
	EventAccountLocked      = "account_locked"
	EventAccountUnlocked    = "account_unlocked"
	EventSessionRevoked     = "session_revoked"
	EventSessionsRevokedAll = "sessions_revoked_all"
	EventTokenRefreshed     = "token_refreshed"
	EventPaymentSubmitted   = "payment_submitted"
	EventPaymentApproved    = "payment_approved"
	EventPaymentRejected    = "payment_rejected"
	EventSubscriptionExpire = "subscription_expired"
	EventSettingsUpdated    = "settings_updated"
	EventPasswordChanged    = "password_changed"
	EventTOTPEnabled        = "2fa_enabled"
	EventTOTPDisabled       = "2fa_disabled"

	EventPaymentMethodCreated = "payment_method_created"
	EventPaymentMethodUpdated = "payment_method_updated"
	EventPaymentMethodDeleted = "payment_method_deleted"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Username      string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditRecord is the structured form of one emitted event. Usernames are
// already masked.
type AuditRecord struct {
	AuditType     string
	EventType     string
	UserID        string
	Username      string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
	Timestamp     time.Time
}

// AuditSink receives every record after it is logged. Persist must not
// panic; failures are the sink's to report.
type AuditSink interface {
	Persist(rec AuditRecord)
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
	sinks  []AuditSink
}

// NewAuditLogger creates a new audit logger. Records are written to logger
// and then handed to each sink in order.
func NewAuditLogger(logger *slog.Logger, sinks ...AuditSink) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		sinks:  sinks,
	}
}

func (al *AuditLogger) emit(level slog.Level, rec AuditRecord) {
	rec.Timestamp = time.Now().UTC()

	attrs := []slog.Attr{
		slog.String("audit_type", rec.AuditType),
		slog.String("event_type", rec.EventType),
		slog.Bool("success", rec.Success),
	}
	if rec.UserID != "" {
		attrs = append(attrs, slog.String("user_id", rec.UserID))
	}
	if rec.Username != "" {
		attrs = append(attrs, slog.String("username", rec.Username))
	}
	if rec.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", rec.IPAddress))
	}
	if rec.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", rec.UserAgent))
	}
	if rec.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", rec.FailureReason))
	}
	for key, val := range rec.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}
	attrs = append(attrs, slog.String("timestamp", rec.Timestamp.Format(time.RFC3339)))

	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)

	for _, sink := range al.sinks {
		sink.Persist(rec)
	}
}

func levelFor(success bool) slog.Level {
	if success {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

// LogAuthAttempt logs authentication attempts
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	al.emit(levelFor(event.Success), AuditRecord{
		AuditType:     "auth",
		EventType:     event.EventType,
		UserID:        event.UserID,
		Username:      MaskedUsername(event.Username),
		IPAddress:     event.IPAddress,
		UserAgent:     event.UserAgent,
		Success:       event.Success,
		FailureReason: event.FailureReason,
		Metadata:      event.Metadata,
	})
}

// LogLockout logs a lock being placed on or lifted from a username
func (al *AuditLogger) LogLockout(eventType, username, ipAddress string, lockedUntil *time.Time) {
	rec := AuditRecord{
		AuditType: "lockout",
		EventType: eventType,
		Username:  MaskedUsername(username),
		IPAddress: ipAddress,
		Success:   eventType == EventAccountUnlocked,
	}
	if lockedUntil != nil {
		rec.Metadata = map[string]string{"locked_until": lockedUntil.UTC().Format(time.RFC3339)}
	}

	al.emit(slog.LevelWarn, rec)
}

// LogPasswordChange logs password change events
func (al *AuditLogger) LogPasswordChange(userID, ipAddress string, success bool) {
	al.emit(levelFor(success), AuditRecord{
		AuditType: "password",
		EventType: EventPasswordChanged,
		UserID:    userID,
		IPAddress: ipAddress,
		Success:   success,
	})
}

// LogAccountAction logs general account and billing actions
func (al *AuditLogger) LogAccountAction(eventType, userID, ipAddress string, metadata map[string]string) {
	al.emit(slog.LevelInfo, AuditRecord{
		AuditType: "account",
		EventType: eventType,
		UserID:    userID,
		IPAddress: ipAddress,
		Success:   true,
		Metadata:  metadata,
	})
}
