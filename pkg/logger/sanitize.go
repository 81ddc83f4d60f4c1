package logger

import (
	"log/slog"
	"strings"
)

// MaskedUsername keeps the first and last character (e.g., "a***e")
func MaskedUsername(username string) string {
	r := []rune(username)
	switch len(r) {
	case 0:
		return ""
	case 1, 2:
		return string(r[0]) + strings.Repeat("*", len(r)-1)
	}
	return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
}

// MaskedToken returns a short, non-reversible prefix of an opaque token so
// log lines can be correlated without leaking a usable credential.
func MaskedToken(token string) string {
	if len(token) <= 8 {
		return "[REDACTED]"
	}
	return token[:6] + "..."
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password", "token", "secret", "code", "auth", "phone", "username",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
