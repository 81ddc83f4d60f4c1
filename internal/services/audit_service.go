package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/models"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
	"github.com/google/uuid"
)

// AuditRepository persists and queries audit entries
type AuditRepository interface {
	Create(ctx context.Context, e *models.AuditEntry) error
	List(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, int64, error)
	ListByEventTypes(ctx context.Context, types []string, since time.Time, limit int) ([]*models.AuditEntry, error)
	CountSuccessByEventType(ctx context.Context, types []string, since time.Time) (map[string]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SecurityEventTypes are the events listed by the security feed.
var SecurityEventTypes = []string{
	pkglogger.EventLoginSuccess,
	pkglogger.EventLoginFailed,
	pkglogger.EventSecondFactorFailed,
	pkglogger.EventPasswordChanged,
	pkglogger.EventTOTPEnabled,
	pkglogger.EventTOTPDisabled,
	pkglogger.EventAccountLocked,
	pkglogger.EventAccountUnlocked,
	pkglogger.EventSessionsRevokedAll,
}

const (
	securityEventsLimit = 100
	defaultAuditPage    = 50
	maxAuditPage        = 200
	defaultAuditWindow  = 30
	maxAuditWindow      = 365
)

// AuditService persists audit records emitted through the AuditLogger and
// serves the admin audit views. Persistence failures are logged and never
// fail the caller's operation.
type AuditService struct {
	repo         AuditRepository
	users        RecipientLookup
	clock        clock.Clock
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditRepository, users RecipientLookup, clk clock.Clock, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:         repo,
		users:        users,
		clock:        clk,
		logger:       logger,
		writeTimeout: 2 * time.Second,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Persist implements pkglogger.AuditSink. IDs that are not account UUIDs are
// kept in metadata instead of the actor column.
func (s *AuditService) Persist(rec pkglogger.AuditRecord) {
	entry := &models.AuditEntry{
		ID:            uuid.New().String(),
		EventType:     rec.EventType,
		AuditType:     rec.AuditType,
		Username:      optional(rec.Username),
		Success:       rec.Success,
		FailureReason: optional(rec.FailureReason),
		IPAddress:     optional(rec.IPAddress),
		UserAgent:     optional(rec.UserAgent),
		Metadata:      make(map[string]string, len(rec.Metadata)+1),
		CreatedAt:     rec.Timestamp,
	}
	for k, v := range rec.Metadata {
		entry.Metadata[k] = v
	}
	if rec.UserID != "" {
		if _, err := uuid.Parse(rec.UserID); err == nil {
			entry.ActorID = &rec.UserID
		} else {
			entry.Metadata["user_ref"] = rec.UserID
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("failed to persist audit log",
			slog.String("event_type", rec.EventType),
			slog.Any("error", err))
	}
}

// AuditLog returns one page of the audit trail, newest first.
func (s *AuditService) AuditLog(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, int64, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, fmt.Errorf("to is before from: %w", models.ErrBadRequest)
	}
	if f.ActorID != "" {
		if _, err := uuid.Parse(f.ActorID); err != nil {
			return nil, 0, fmt.Errorf("invalid user id: %w", models.ErrBadRequest)
		}
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultAuditPage
	case f.Limit > maxAuditPage:
		f.Limit = maxAuditPage
	}
	f.Offset = max(f.Offset, 0)
	return s.repo.List(ctx, f)
}

func clampWindow(days int) int {
	if days <= 0 {
		return defaultAuditWindow
	}
	return min(days, maxAuditWindow)
}

// SecurityEvents lists the latest security-relevant events in the window.
func (s *AuditService) SecurityEvents(ctx context.Context, days int) ([]*models.AuditEntry, error) {
	since := s.clock.Now().Add(-time.Duration(clampWindow(days)) * day)
	return s.repo.ListByEventTypes(ctx, SecurityEventTypes, since, securityEventsLimit)
}

// SecurityStats summarizes login outcomes, lockouts and staff 2FA adoption.
func (s *AuditService) SecurityStats(ctx context.Context, days int) (*models.SecurityStats, error) {
	days = clampWindow(days)
	since := s.clock.Now().Add(-time.Duration(days) * day)

	counts, err := s.repo.CountSuccessByEventType(ctx, []string{
		pkglogger.EventLoginSuccess,
		pkglogger.EventLoginFailed,
		pkglogger.EventPasswordChanged,
		pkglogger.EventAccountLocked,
	}, since)
	if err != nil {
		return nil, err
	}

	stats := &models.SecurityStats{
		WindowDays:       days,
		SuccessfulLogins: counts[pkglogger.EventLoginSuccess+":ok"],
		FailedLogins:     counts[pkglogger.EventLoginFailed+":fail"],
		PasswordChanges:  counts[pkglogger.EventPasswordChanged+":ok"],
		AccountLocks:     counts[pkglogger.EventAccountLocked+":fail"],
	}

	for _, role := range []string{models.RoleAdmin, models.RoleReviewer} {
		staff, err := s.users.ListByRole(ctx, role)
		if err != nil {
			return nil, err
		}
		for _, u := range staff {
			stats.StaffUsers++
			if u.TOTPEnabled {
				stats.StaffWithTOTP++
			}
		}
	}
	if stats.StaffUsers > 0 {
		rate := float64(stats.StaffWithTOTP) / float64(stats.StaffUsers) * 100
		stats.TOTPAdoptionRate = math.Round(rate*100) / 100
	}

	return stats, nil
}

// PurgeOlderThan drops entries older than the retention period.
func (s *AuditService) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteOlderThan(ctx, s.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged audit logs", slog.Int64("count", n))
	}
	return n, nil
}
