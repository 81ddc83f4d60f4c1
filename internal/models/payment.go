package models

import "time"

// Payment statuses. Transitions are one-way: pending -> approved | rejected.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusApproved = "approved"
	PaymentStatusRejected = "rejected"
)

// Payment is a single proof-of-payment submission awaiting review.
type Payment struct {
	ID                   string     `json:"payment_id"`
	UserID               string     `json:"user_id"`
	MethodID             string     `json:"method_id"`
	SenderName           string     `json:"sender_name"`
	SenderPhone          string     `json:"sender_phone"`
	TransactionReference string     `json:"transaction_reference,omitempty"`
	Amount               float64    `json:"amount"`
	Currency             string     `json:"currency"`
	PaymentDate          time.Time  `json:"payment_date"`
	ReceiptPath          string     `json:"receipt_image_path,omitempty"`
	Status               string     `json:"status"`
	ReviewedBy           *string    `json:"reviewed_by_id,omitempty"`
	ReviewNotes          *string    `json:"review_notes,omitempty"`
	ReviewedAt           *time.Time `json:"reviewed_at,omitempty"`
	SubscriptionID       *string    `json:"subscription_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// IsPending reports whether the payment can still be reviewed.
func (p *Payment) IsPending() bool {
	return p.Status == PaymentStatusPending
}
