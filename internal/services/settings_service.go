package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BradenHooton/tradergate/internal/models"
)

// SettingsRepository reads and writes admin settings
type SettingsRepository interface {
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, values map[string]string) error
}

// SettingsService reads subscription settings on every call so admin edits
// take effect on the next evaluation. Missing or malformed values fall back
// to defaults.
type SettingsService struct {
	repo   SettingsRepository
	logger *slog.Logger
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(repo SettingsRepository, logger *slog.Logger) *SettingsService {
	return &SettingsService{repo: repo, logger: logger}
}

// SubscriptionSettings returns the current settings snapshot
func (s *SettingsService) SubscriptionSettings(ctx context.Context) (*models.SubscriptionSettings, error) {
	values, err := s.repo.GetMany(ctx,
		models.SettingGracePeriodDays,
		models.SettingEnableGracePeriod,
		models.SettingAnnualPrice,
		models.SettingCurrency,
	)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	out := &models.SubscriptionSettings{
		GracePeriodDays: models.DefaultGracePeriodDays,
		GraceEnabled:    models.DefaultGraceEnabled,
		AnnualPrice:     models.DefaultAnnualPrice,
		Currency:        models.DefaultCurrency,
	}

	if raw, ok := values[models.SettingGracePeriodDays]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			out.GracePeriodDays = n
		} else {
			s.invalid(models.SettingGracePeriodDays, raw)
		}
	}
	if raw, ok := values[models.SettingEnableGracePeriod]; ok {
		if b, err := strconv.ParseBool(raw); err == nil {
			out.GraceEnabled = b
		} else {
			s.invalid(models.SettingEnableGracePeriod, raw)
		}
	}
	if raw, ok := values[models.SettingAnnualPrice]; ok {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
			out.AnnualPrice = f
		} else {
			s.invalid(models.SettingAnnualPrice, raw)
		}
	}
	if raw, ok := values[models.SettingCurrency]; ok && raw != "" {
		out.Currency = raw
	}

	return out, nil
}

func (s *SettingsService) invalid(key, raw string) {
	s.logger.Warn("invalid setting value, using default",
		slog.String("key", key),
		slog.String("value", raw))
}

// UpdateSubscriptionSettingsInput carries optional changes; nil fields are left as-is.
type UpdateSubscriptionSettingsInput struct {
	GracePeriodDays *int     `json:"grace_period_days" validate:"omitempty,min=0,max=90"`
	GraceEnabled    *bool    `json:"enable_grace_period"`
	AnnualPrice     *float64 `json:"annual_subscription_price" validate:"omitempty,gt=0"`
	Currency        *string  `json:"currency" validate:"omitempty,len=3,alpha"`
}

// UpdateSubscriptionSettings writes the provided fields and returns the new snapshot
func (s *SettingsService) UpdateSubscriptionSettings(ctx context.Context, in UpdateSubscriptionSettingsInput) (*models.SubscriptionSettings, error) {
	values := make(map[string]string)
	if in.GracePeriodDays != nil {
		if *in.GracePeriodDays < 0 {
			return nil, fmt.Errorf("grace period days must not be negative: %w", models.ErrBadRequest)
		}
		values[models.SettingGracePeriodDays] = strconv.Itoa(*in.GracePeriodDays)
	}
	if in.GraceEnabled != nil {
		values[models.SettingEnableGracePeriod] = strconv.FormatBool(*in.GraceEnabled)
	}
	if in.AnnualPrice != nil {
		values[models.SettingAnnualPrice] = strconv.FormatFloat(*in.AnnualPrice, 'f', -1, 64)
	}
	if in.Currency != nil {
		values[models.SettingCurrency] = *in.Currency
	}

	if len(values) > 0 {
		if err := s.repo.Set(ctx, values); err != nil {
			return nil, fmt.Errorf("update settings: %w", err)
		}
	}

	return s.SubscriptionSettings(ctx)
}
