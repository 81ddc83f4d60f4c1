package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/tradergate/internal/models"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
)

// AccessChecker resolves the live subscription state of a user.
type AccessChecker interface {
	CurrentAccess(ctx context.Context, userID string) (*models.AccessState, error)
}

// DefaultExemptPrefixes are reachable by traders without an active subscription.
var DefaultExemptPrefixes = []string{
	"/api/subscription/status",
	"/api/subscription/me",
	"/api/payments",
	"/api/payment-methods",
	"/api/notifications",
	"/api/profile",
	"/api/auth",
	"/api/public",
}

// Response headers describing the caller's subscription on admitted requests.
const (
	HeaderSubscriptionStatus  = "X-Subscription-Status"
	HeaderSubscriptionLimited = "X-Subscription-Limited"
)

// GateConfig configures SubscriptionGate.
type GateConfig struct {
	ExemptPrefixes []string
	// OnReject is called with the rejection code, e.g. for metrics.
	OnReject func(code string)
}

// SubscriptionGate admits traders only while their subscription is active or in
// grace. Other roles and exempt paths pass through untouched. The gate only
// reads state; it never expires subscriptions on the request path.
// Must run after AuthMiddleware.
func SubscriptionGate(checker AccessChecker, cfg GateConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	exempt := cfg.ExemptPrefixes
	if exempt == nil {
		exempt = DefaultExemptPrefixes
	}
	reject := func(w http.ResponseWriter, code, message string) {
		if cfg.OnReject != nil {
			cfg.OnReject(code)
		}
		pkghttp.WriteError(w, http.StatusForbidden, code, message)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if claims.Role != models.RoleTrader || isExempt(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}

			state, err := checker.CurrentAccess(r.Context(), claims.UserID)
			if err != nil {
				logger.Error("subscription check failed",
					slog.String("user_id", claims.UserID),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()))
				pkghttp.WriteError(w, http.StatusServiceUnavailable, "service_unavailable",
					"subscription status temporarily unavailable")
				return
			}

			if !state.HasAccess() {
				if state.HadGrace {
					reject(w, pkghttp.ErrCodeGraceExpired, "grace period has ended; renew your subscription")
					return
				}
				reject(w, pkghttp.ErrCodeSubscriptionRequired, "an active subscription is required")
				return
			}

			w.Header().Set(HeaderSubscriptionStatus, state.Status)
			if state.Limited {
				w.Header().Set(HeaderSubscriptionLimited, "true")
			}

			ctx := context.WithValue(r.Context(), AccessContextKey, state)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isExempt matches whole path segments so "/api/payments" does not exempt
// "/api/paymentsx".
func isExempt(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
