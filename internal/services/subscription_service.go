package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/repositories"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
	"github.com/google/uuid"
)

const day = 24 * time.Hour

// SettingsReader provides the live settings snapshot for one evaluation
type SettingsReader interface {
	SubscriptionSettings(ctx context.Context) (*models.SubscriptionSettings, error)
}

// Notifier is the fire-and-forget notification sink
type Notifier interface {
	Notify(ctx context.Context, userID, kind, message, channel string)
	NotifyRole(ctx context.Context, role, kind, message, channel string)
}

// SubscriptionService owns the subscription state machine:
// active --(now > endDate + grace)--> expired. Expired rows are terminal;
// renewal always inserts a new row.
type SubscriptionService struct {
	billing  repositories.BillingRepository
	settings SettingsReader
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
	metrics  *Metrics
}

// NewSubscriptionService creates a new SubscriptionService
func NewSubscriptionService(
	billing repositories.BillingRepository,
	settings SettingsReader,
	notifier Notifier,
	clk clock.Clock,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	metrics *Metrics,
) *SubscriptionService {
	return &SubscriptionService{
		billing:  billing,
		settings: settings,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
		audit:    audit,
		metrics:  metrics,
	}
}

// wholeDays floors d to whole days; d must not be negative.
func wholeDays(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / day)
}

// graceWindow is zero unless both the global switch and the row's snapshot allow grace.
func graceWindow(sub *models.Subscription, settings *models.SubscriptionSettings) time.Duration {
	if !settings.GraceEnabled || !sub.GracePeriodEnabled {
		return 0
	}
	return time.Duration(settings.GracePeriodDays) * day
}

// evaluate computes the live access state of sub at now, ignoring its stored status.
func evaluate(sub *models.Subscription, settings *models.SubscriptionSettings, now time.Time) *models.AccessState {
	end := sub.EndDate
	state := &models.AccessState{EndDate: &end, Subscription: sub}

	if !now.After(end) {
		state.Status = models.AccessActive
		state.DaysRemaining = wholeDays(end.Sub(now))
		return state
	}

	grace := graceWindow(sub, settings)
	graceEnd := end.Add(grace)
	state.HadGrace = grace > 0

	if grace > 0 && !now.After(graceEnd) {
		state.Status = models.AccessGrace
		state.DaysRemaining = wholeDays(graceEnd.Sub(now))
		state.GraceEndsAt = &graceEnd
		state.Limited = true
		return state
	}

	state.Status = models.AccessExpired
	return state
}

// CurrentAccess evaluates the user's latest subscription by end date. The
// stored status is not trusted so that sweep lag never changes the answer.
// It never writes.
func (s *SubscriptionService) CurrentAccess(ctx context.Context, userID string) (*models.AccessState, error) {
	settings, err := s.settings.SubscriptionSettings(ctx)
	if err != nil {
		return nil, err
	}

	latest, err := s.billing.Subscriptions().GetLatestByUser(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return &models.AccessState{Status: models.AccessNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest subscription: %w", err)
	}

	return evaluate(latest, settings, s.clock.Now()), nil
}

// ApprovePayment approves a pending payment and creates the subscription it
// funds in one transaction. A still-active subscription is extended from its
// end date; otherwise the new period starts now.
func (s *SubscriptionService) ApprovePayment(ctx context.Context, paymentID, reviewerID, notes string) (*models.Subscription, error) {
	settings, err := s.settings.SubscriptionSettings(ctx)
	if err != nil {
		return nil, err
	}

	var (
		sub     *models.Subscription
		payment *models.Payment
	)

	err = s.billing.WithTx(ctx, func(tx repositories.BillingRepository) error {
		p, err := tx.Payments().GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if !p.IsPending() {
			return models.ErrAlreadyReviewed
		}

		prev, err := tx.Subscriptions().GetLatestByUser(ctx, p.UserID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("load latest subscription: %w", err)
		}

		now := s.clock.Now()
		start := now
		newSub := &models.Subscription{
			ID:                 uuid.New().String(),
			UserID:             p.UserID,
			Plan:               models.PlanAnnual,
			Status:             models.SubscriptionStatusActive,
			GracePeriodEnabled: settings.GraceEnabled,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if prev != nil {
			newSub.IsRenewal = true
			newSub.RenewedFrom = &prev.ID
			if !now.After(prev.EndDate) {
				start = prev.EndDate
			}
		}
		newSub.StartDate = start
		newSub.EndDate = start.Add(models.SubscriptionTermDays * day)

		if err := tx.Subscriptions().Create(ctx, newSub); err != nil {
			return err
		}

		p.Status = models.PaymentStatusApproved
		p.ReviewedBy = &reviewerID
		p.ReviewedAt = &now
		p.SubscriptionID = &newSub.ID
		if notes = strings.TrimSpace(notes); notes != "" {
			p.ReviewNotes = &notes
		}
		if err := tx.Payments().UpdateReview(ctx, p); err != nil {
			return err
		}

		sub, payment = newSub, p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogAccountAction(pkglogger.EventPaymentApproved, payment.UserID, "", map[string]string{
		"payment_id":      payment.ID,
		"subscription_id": sub.ID,
		"reviewed_by":     reviewerID,
		"is_renewal":      fmt.Sprint(sub.IsRenewal),
	})
	s.notifier.Notify(ctx, payment.UserID, models.NotificationPaymentApproved,
		fmt.Sprintf("Your payment was approved. Your subscription is active until %s.", sub.EndDate.Format("2006-01-02")),
		models.ChannelAll)

	return sub, nil
}

// RejectPayment rejects a pending payment with a mandatory reason. It never
// touches subscriptions.
func (s *SubscriptionService) RejectPayment(ctx context.Context, paymentID, reviewerID, reason string) (*models.Payment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("rejection reason is required: %w", models.ErrBadRequest)
	}

	var payment *models.Payment
	err := s.billing.WithTx(ctx, func(tx repositories.BillingRepository) error {
		p, err := tx.Payments().GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if !p.IsPending() {
			return models.ErrAlreadyReviewed
		}

		now := s.clock.Now()
		p.Status = models.PaymentStatusRejected
		p.ReviewedBy = &reviewerID
		p.ReviewNotes = &reason
		p.ReviewedAt = &now
		if err := tx.Payments().UpdateReview(ctx, p); err != nil {
			return err
		}

		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogAccountAction(pkglogger.EventPaymentRejected, payment.UserID, "", map[string]string{
		"payment_id":  payment.ID,
		"reviewed_by": reviewerID,
	})
	s.notifier.Notify(ctx, payment.UserID, models.NotificationPaymentRejected,
		"Your payment was rejected: "+reason,
		models.ChannelAll)

	return payment, nil
}

// RunDailySweep makes two passes over active rows: expire the ones past
// their grace window, then send 14/7/3-day reminders. Both writes are
// conditional, so re-runs and concurrent runs are no-ops. A milestone only
// fires on its exact day; a sweep that misses that day skips it for good.
func (s *SubscriptionService) RunDailySweep(ctx context.Context) (*models.SweepResult, error) {
	settings, err := s.settings.SubscriptionSettings(ctx)
	if err != nil {
		return nil, err
	}

	subs, err := s.billing.Subscriptions().ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	result := &models.SweepResult{}
	var errs []error

	expired := make(map[string]bool)
	for _, sub := range subs {
		if evaluate(sub, settings, now).Status != models.AccessExpired {
			continue
		}
		ok, err := s.billing.Subscriptions().MarkExpired(ctx, sub.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire subscription %s: %w", sub.ID, err))
			continue
		}
		expired[sub.ID] = true
		if !ok {
			continue
		}
		result.ExpiredCount++
		s.audit.LogAccountAction(pkglogger.EventSubscriptionExpire, sub.UserID, "", map[string]string{
			"subscription_id": sub.ID,
		})
		s.notifier.Notify(ctx, sub.UserID, models.NotificationSubscriptionEnded,
			"Your subscription has expired. Submit a payment to restore access.",
			models.ChannelInApp)
	}

	// A row superseded by a renewal for the same user gets no reminders.
	latestEnd := make(map[string]time.Time)
	for _, sub := range subs {
		if sub.EndDate.After(latestEnd[sub.UserID]) {
			latestEnd[sub.UserID] = sub.EndDate
		}
	}

	for _, sub := range subs {
		if expired[sub.ID] || sub.EndDate.Before(latestEnd[sub.UserID]) || !now.Before(sub.EndDate) {
			continue
		}
		days := wholeDays(sub.EndDate.Sub(now))
		for _, m := range models.Milestones {
			if days != int(m) || sub.Notified(m) {
				continue
			}
			ok, err := s.billing.Subscriptions().MarkMilestone(ctx, sub.ID, m, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("flag milestone %d for %s: %w", m, sub.ID, err))
				continue
			}
			if !ok {
				continue
			}
			result.RemindersSent++
			s.notifier.Notify(ctx, sub.UserID, models.NotificationRenewalReminder,
				fmt.Sprintf("Your subscription ends in %d days on %s. Please renew.", days, sub.EndDate.Format("2006-01-02")),
				models.ChannelAll)
		}
	}

	s.metrics.addSweep(result)
	s.logger.Info("daily sweep finished",
		slog.Int("active_rows", len(subs)),
		slog.Int("expired", result.ExpiredCount),
		slog.Int("reminders", result.RemindersSent),
		slog.Int("errors", len(errs)))

	return result, errors.Join(errs...)
}

// SubmitPaymentInput is a trader's proof-of-payment submission
type SubmitPaymentInput struct {
	MethodID             string    `json:"method_id" validate:"required,uuid"`
	SenderName           string    `json:"sender_name" validate:"required,max=255"`
	SenderPhone          string    `json:"sender_phone" validate:"required,max=32"`
	TransactionReference string    `json:"transaction_reference" validate:"required,max=128"`
	Amount               float64   `json:"amount" validate:"required,gt=0"`
	Currency             string    `json:"currency" validate:"omitempty,len=3,alpha"`
	PaymentDate          time.Time `json:"payment_date" validate:"required"`
	ReceiptPath          string    `json:"receipt_image_path" validate:"omitempty,max=512"`
}

// SubmitPayment records a pending payment into an active payment method. A
// user may have at most one pending payment at a time.
func (s *SubscriptionService) SubmitPayment(ctx context.Context, userID string, in SubmitPaymentInput) (*models.Payment, error) {
	method, err := s.billing.Methods().GetByID(ctx, in.MethodID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("unknown payment method: %w", models.ErrBadRequest)
	case err != nil:
		return nil, err
	case !method.IsActive:
		return nil, fmt.Errorf("payment method is not active: %w", models.ErrBadRequest)
	}

	if _, err := s.billing.Payments().GetPendingByUser(ctx, userID); err == nil {
		return nil, models.ErrPendingPaymentExists
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		settings, err := s.settings.SubscriptionSettings(ctx)
		if err != nil {
			return nil, err
		}
		currency = settings.Currency
	}

	p := &models.Payment{
		ID:                   uuid.New().String(),
		UserID:               userID,
		MethodID:             in.MethodID,
		SenderName:           in.SenderName,
		SenderPhone:          in.SenderPhone,
		TransactionReference: in.TransactionReference,
		Amount:               in.Amount,
		Currency:             strings.ToUpper(currency),
		PaymentDate:          in.PaymentDate.UTC(),
		ReceiptPath:          in.ReceiptPath,
		Status:               models.PaymentStatusPending,
		CreatedAt:            s.clock.Now(),
	}
	if err := s.billing.Payments().Create(ctx, p); err != nil {
		return nil, err
	}

	s.audit.LogAccountAction(pkglogger.EventPaymentSubmitted, userID, "", map[string]string{
		"payment_id": p.ID,
	})
	s.notifier.NotifyRole(ctx, models.RoleAdmin, models.NotificationPaymentSubmitted,
		fmt.Sprintf("New payment %s from %s awaiting review.", p.TransactionReference, p.SenderName),
		models.ChannelInApp)

	return p, nil
}

// SubscriptionOverview is the trader-facing summary for /subscription/me
type SubscriptionOverview struct {
	Access         *models.AccessState    `json:"access"`
	PendingPayment *models.Payment        `json:"pending_payment,omitempty"`
	History        []*models.Subscription `json:"history"`
	AnnualPrice    float64                `json:"annual_price"`
	Currency       string                 `json:"currency"`
}

// MySubscription returns current access, any pending payment and history.
func (s *SubscriptionService) MySubscription(ctx context.Context, userID string) (*SubscriptionOverview, error) {
	access, err := s.CurrentAccess(ctx, userID)
	if err != nil {
		return nil, err
	}

	settings, err := s.settings.SubscriptionSettings(ctx)
	if err != nil {
		return nil, err
	}

	history, err := s.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &SubscriptionOverview{
		Access:      access,
		History:     history,
		AnnualPrice: settings.AnnualPrice,
		Currency:    settings.Currency,
	}

	pending, err := s.billing.Payments().GetPendingByUser(ctx, userID)
	switch {
	case err == nil:
		out.PendingPayment = pending
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	return out, nil
}

func (s *SubscriptionService) ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	return s.billing.Subscriptions().ListByUser(ctx, userID)
}

func (s *SubscriptionService) ListPayments(ctx context.Context, userID string) ([]*models.Payment, error) {
	return s.billing.Payments().ListByUser(ctx, userID)
}

func (s *SubscriptionService) ListPaymentsByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Payment, error) {
	switch status {
	case "", models.PaymentStatusPending, models.PaymentStatusApproved, models.PaymentStatusRejected:
	default:
		return nil, fmt.Errorf("unknown payment status %q: %w", status, models.ErrBadRequest)
	}
	return s.billing.Payments().ListByStatus(ctx, status, limit, offset)
}

// ListAllSubscriptions is the admin overview across users, latest end date first.
func (s *SubscriptionService) ListAllSubscriptions(ctx context.Context, status string, limit, offset int) ([]*models.SubscriptionListing, error) {
	switch status {
	case "", models.SubscriptionStatusActive, models.SubscriptionStatusExpired:
	default:
		return nil, fmt.Errorf("unknown subscription status %q: %w", status, models.ErrBadRequest)
	}
	return s.billing.Subscriptions().List(ctx, status, limit, offset)
}

// SubscriptionStats counts rows by status. Expiring soon uses the earliest
// reminder horizon.
func (s *SubscriptionService) SubscriptionStats(ctx context.Context) (*models.SubscriptionStats, error) {
	return s.billing.Subscriptions().Stats(ctx, s.clock.Now(), time.Duration(models.Milestones[0])*day)
}

func (s *SubscriptionService) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return s.billing.Payments().GetByID(ctx, id)
}
