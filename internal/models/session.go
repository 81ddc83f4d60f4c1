package models

import "time"

// Session is the cache-tier record behind an opaque refresh token.
// The token itself is the lookup key and is not serialized into the value.
type Session struct {
	RefreshToken  string    `json:"-"`
	UserID        string    `json:"user_id"`
	DeviceLabel   string    `json:"device"`
	SourceAddress string    `json:"ip_address"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsedAt    time.Time `json:"last_used"`
	TTLSeconds    int64     `json:"ttl_seconds"`
}

// Device labels derived from the User-Agent when the client sends none.
const (
	DeviceMobile  = "Mobile Device"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop/Laptop"
	DeviceUnknown = "Unknown"
)
