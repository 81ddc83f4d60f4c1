package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/repositories"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
	"github.com/google/uuid"
)

// PaymentMethodInput creates a payment method
type PaymentMethodInput struct {
	Name          string `json:"name" validate:"required,max=255"`
	AccountNumber string `json:"account_number" validate:"required,max=255"`
	AccountHolder string `json:"account_holder" validate:"required,max=255"`
	QRImagePath   string `json:"qr_image_path" validate:"omitempty,max=500"`
	Notes         string `json:"notes" validate:"omitempty,max=2000"`
	IsActive      *bool  `json:"is_active"`
	DisplayOrder  int    `json:"display_order" validate:"gte=0,lte=1000"`
}

// PaymentMethodPatch updates only the fields that are set
type PaymentMethodPatch struct {
	Name          *string `json:"name" validate:"omitempty,min=1,max=255"`
	AccountNumber *string `json:"account_number" validate:"omitempty,min=1,max=255"`
	AccountHolder *string `json:"account_holder" validate:"omitempty,min=1,max=255"`
	QRImagePath   *string `json:"qr_image_path" validate:"omitempty,max=500"`
	Notes         *string `json:"notes" validate:"omitempty,max=2000"`
	IsActive      *bool   `json:"is_active"`
	DisplayOrder  *int    `json:"display_order" validate:"omitempty,gte=0,lte=1000"`
}

// PaymentMethodService manages the accounts traders pay into
type PaymentMethodService struct {
	billing repositories.BillingRepository
	clock   clock.Clock
	logger  *slog.Logger
	audit   *pkglogger.AuditLogger
}

// NewPaymentMethodService creates a new PaymentMethodService
func NewPaymentMethodService(billing repositories.BillingRepository, clk clock.Clock, logger *slog.Logger, audit *pkglogger.AuditLogger) *PaymentMethodService {
	return &PaymentMethodService{
		billing: billing,
		clock:   clk,
		logger:  logger,
		audit:   audit,
	}
}

// ListActive returns the methods offered to traders.
func (s *PaymentMethodService) ListActive(ctx context.Context) ([]*models.PaymentMethod, error) {
	return s.billing.Methods().List(ctx, true)
}

// ListAll returns every method, including disabled ones.
func (s *PaymentMethodService) ListAll(ctx context.Context) ([]*models.PaymentMethod, error) {
	return s.billing.Methods().List(ctx, false)
}

func (s *PaymentMethodService) Create(ctx context.Context, actorID string, in PaymentMethodInput) (*models.PaymentMethod, error) {
	now := s.clock.Now()
	m := &models.PaymentMethod{
		ID:            uuid.New().String(),
		Name:          strings.TrimSpace(in.Name),
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		AccountHolder: strings.TrimSpace(in.AccountHolder),
		QRImagePath:   in.QRImagePath,
		Notes:         in.Notes,
		IsActive:      in.IsActive == nil || *in.IsActive,
		DisplayOrder:  in.DisplayOrder,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if m.Name == "" || m.AccountNumber == "" || m.AccountHolder == "" {
		return nil, fmt.Errorf("name, account number and holder are required: %w", models.ErrBadRequest)
	}

	if err := s.billing.Methods().Create(ctx, m); err != nil {
		return nil, err
	}

	s.audit.LogAccountAction(pkglogger.EventPaymentMethodCreated, actorID, "", map[string]string{"method_id": m.ID})
	return m, nil
}

func (s *PaymentMethodService) Update(ctx context.Context, actorID, id string, patch PaymentMethodPatch) (*models.PaymentMethod, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	m, err := s.billing.Methods().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		m.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.AccountNumber != nil {
		m.AccountNumber = strings.TrimSpace(*patch.AccountNumber)
	}
	if patch.AccountHolder != nil {
		m.AccountHolder = strings.TrimSpace(*patch.AccountHolder)
	}
	if patch.QRImagePath != nil {
		m.QRImagePath = *patch.QRImagePath
	}
	if patch.Notes != nil {
		m.Notes = *patch.Notes
	}
	if patch.IsActive != nil {
		m.IsActive = *patch.IsActive
	}
	if patch.DisplayOrder != nil {
		m.DisplayOrder = *patch.DisplayOrder
	}
	if m.Name == "" || m.AccountNumber == "" || m.AccountHolder == "" {
		return nil, fmt.Errorf("name, account number and holder cannot be blank: %w", models.ErrBadRequest)
	}
	m.UpdatedAt = s.clock.Now()

	if err := s.billing.Methods().Update(ctx, m); err != nil {
		return nil, err
	}

	s.audit.LogAccountAction(pkglogger.EventPaymentMethodUpdated, actorID, "", map[string]string{
		"method_id": m.ID,
		"is_active": fmt.Sprint(m.IsActive),
	})
	return m, nil
}

// Delete removes a method that no payment references.
func (s *PaymentMethodService) Delete(ctx context.Context, actorID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return models.ErrNotFound
	}
	if err := s.billing.Methods().Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("refusing to delete referenced payment method", slog.String("method_id", id))
		}
		return err
	}

	s.audit.LogAccountAction(pkglogger.EventPaymentMethodDeleted, actorID, "", map[string]string{"method_id": id})
	return nil
}
