package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/google/uuid"
)

// NotificationRepository persists in-app notifications
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
}

// RecipientLookup resolves users for email delivery and reviewer fan-out
type RecipientLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ListByRole(ctx context.Context, role string) ([]*models.User, error)
}

var notificationSubjects = map[string]string{
	models.NotificationPaymentApproved:   "Payment approved",
	models.NotificationPaymentRejected:   "Payment rejected",
	models.NotificationPaymentSubmitted:  "New payment awaiting review",
	models.NotificationRenewalReminder:   "Subscription renewal reminder",
	models.NotificationAccountLocked:     "Account temporarily locked",
	models.NotificationSubscriptionEnded: "Subscription expired",
}

// NotificationService is a fire-and-forget sink. Delivery failures are
// logged and never returned, so they cannot undo the action that caused them.
type NotificationService struct {
	repo   NotificationRepository
	users  RecipientLookup
	email  EmailSender
	clock  clock.Clock
	logger *slog.Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(repo NotificationRepository, users RecipientLookup, email EmailSender, clk clock.Clock, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		repo:   repo,
		users:  users,
		email:  email,
		clock:  clk,
		logger: logger,
	}
}

// Notify delivers message to userID over channel (in_app, email or all).
func (s *NotificationService) Notify(ctx context.Context, userID, kind, message, channel string) {
	if channel == models.ChannelInApp || channel == models.ChannelAll {
		n := &models.Notification{
			ID:        uuid.New().String(),
			UserID:    userID,
			Kind:      kind,
			Message:   message,
			Channel:   models.ChannelInApp,
			CreatedAt: s.clock.Now(),
		}
		if err := s.repo.Create(ctx, n); err != nil {
			s.logger.Error("failed to store notification",
				slog.String("user_id", userID),
				slog.String("kind", kind),
				slog.Any("error", err))
		}
	}

	if channel == models.ChannelEmail || channel == models.ChannelAll {
		s.sendEmail(ctx, userID, kind, message)
	}
}

func (s *NotificationService) sendEmail(ctx context.Context, userID, kind, message string) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to resolve notification recipient",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return
	}
	if user.Email == "" {
		s.logger.Debug("recipient has no email address", slog.String("user_id", userID))
		return
	}

	subject, ok := notificationSubjects[kind]
	if !ok {
		subject = "Notification"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.email.Send(ctx, user.Email, subject, message); err != nil {
		s.logger.Error("failed to send notification email",
			slog.String("user_id", userID),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
}

// NotifyRole fans a message out to every active user holding role.
func (s *NotificationService) NotifyRole(ctx context.Context, role, kind, message, channel string) {
	users, err := s.users.ListByRole(ctx, role)
	if err != nil {
		s.logger.Error("failed to list notification recipients",
			slog.String("role", role),
			slog.Any("error", err))
		return
	}
	for _, u := range users {
		s.Notify(ctx, u.ID, kind, message, channel)
	}
}

// ListForUser returns the user's most recent in-app notifications.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, userID, limit)
}
