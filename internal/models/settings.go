package models

// Settings keys read live by the subscription lifecycle.
const (
	SettingGracePeriodDays   = "grace_period_days"
	SettingEnableGracePeriod = "enable_grace_period"
	SettingAnnualPrice       = "annual_subscription_price"
	SettingCurrency          = "currency"
)

// Defaults applied when a setting row is missing or malformed.
const (
	DefaultGracePeriodDays = 7
	DefaultGraceEnabled    = true
	DefaultAnnualPrice     = 50000
	DefaultCurrency        = "YER"
)

// SubscriptionSettings is a single evaluation's snapshot of the admin settings.
type SubscriptionSettings struct {
	GracePeriodDays int     `json:"grace_period_days"`
	GraceEnabled    bool    `json:"enable_grace_period"`
	AnnualPrice     float64 `json:"annual_subscription_price"`
	Currency        string  `json:"currency"`
}
