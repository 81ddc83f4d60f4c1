package models

import "time"

// Notification kinds
const (
	NotificationPaymentApproved   = "payment_approved"
	NotificationPaymentRejected   = "payment_rejected"
	NotificationPaymentSubmitted  = "payment_submission"
	NotificationRenewalReminder   = "renewal_reminder"
	NotificationAccountLocked     = "account_locked"
	NotificationSubscriptionEnded = "subscription_expired"
)

// Delivery channels
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelAll   = "all"
)

// Notification is an in-app message row.
type Notification struct {
	ID        string    `json:"notification_id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"type"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
