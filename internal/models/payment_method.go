package models

import "time"

// PaymentMethod is an account traders can pay into. Only active methods are
// offered to traders or accepted on a submission.
type PaymentMethod struct {
	ID            string    `json:"method_id"`
	Name          string    `json:"name"`
	AccountNumber string    `json:"account_number"`
	AccountHolder string    `json:"account_holder"`
	QRImagePath   string    `json:"qr_image_path,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	IsActive      bool      `json:"is_active"`
	DisplayOrder  int       `json:"display_order"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
