package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/handlers"
	"github.com/BradenHooton/tradergate/internal/middleware"
	"github.com/BradenHooton/tradergate/internal/models"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies carries what RegisterRoutes wires together
type Dependencies struct {
	AuthHandler         *handlers.AuthHandler
	SubscriptionHandler *handlers.SubscriptionHandler
	AdminHandler        *handlers.AdminHandler
	NotificationHandler *handlers.NotificationHandler
	MethodHandler       *handlers.PaymentMethodHandler
	AuditHandler        *handlers.AuditHandler

	TokenManager *auth.TokenManager
	AccessGate   auth.AccessChecker
	GateConfig   auth.GateConfig

	AuthRateLimit middleware.RateLimitConfig
	APIRateLimit  middleware.RateLimitConfig

	Logger *slog.Logger
}

// RegisterRoutes registers all /api routes on router
func RegisterRoutes(router chi.Router, deps Dependencies) {
	authLimit := middleware.RateLimitByIP(deps.AuthRateLimit)

	// Public routes - credentials only, limited per client address
	router.With(authLimit).Post("/api/auth/login", deps.AuthHandler.Login)
	router.With(authLimit).Post("/api/auth/2fa/verify", deps.AuthHandler.VerifySecondFactor)
	router.With(authLimit).Post("/api/auth/refresh", deps.AuthHandler.RefreshToken)
	router.Post("/api/auth/logout", deps.AuthHandler.Logout)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager))
		r.Use(middleware.RateLimitByUser(deps.APIRateLimit))
		r.Use(auth.SubscriptionGate(deps.AccessGate, deps.GateConfig, deps.Logger))

		r.Post("/api/auth/logout-all", deps.AuthHandler.LogoutAll)
		r.Post("/api/auth/change-password", deps.AuthHandler.ChangePassword)
		r.Get("/api/auth/sessions", deps.AuthHandler.ListSessions)
		r.Delete("/api/auth/sessions", deps.AuthHandler.RevokeSession)
		r.Post("/api/auth/2fa/enroll", deps.AuthHandler.EnrollTOTP)
		r.Post("/api/auth/2fa/confirm", deps.AuthHandler.ConfirmTOTP)
		r.Post("/api/auth/2fa/disable", deps.AuthHandler.DisableTOTP)

		r.Get("/api/profile", deps.AuthHandler.Profile)

		// Trader routes; the gate exempts the status and payment paths
		r.Get("/api/subscription/status", deps.SubscriptionHandler.Status)
		r.Get("/api/subscription/me", deps.SubscriptionHandler.Me)
		r.Get("/api/payments", deps.SubscriptionHandler.ListPayments)
		r.Get("/api/payment-methods", deps.MethodHandler.ListActive)
		r.With(authLimit).Post("/api/payments", deps.SubscriptionHandler.SubmitPayment)
		r.Get("/api/notifications", deps.NotificationHandler.List)
		r.Get("/api/complaints", deps.SubscriptionHandler.Complaints)

		// Admin-only routes
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))

			r.Get("/payments", deps.AdminHandler.ListPayments)
			r.Get("/payments/{id}", deps.AdminHandler.GetPayment)
			r.Post("/payments/{id}/approve", deps.AdminHandler.ApprovePayment)
			r.Post("/payments/{id}/reject", deps.AdminHandler.RejectPayment)
			r.Get("/users/{username}/lockout", deps.AdminHandler.LockoutStatus)
			r.Post("/users/{username}/unlock", deps.AdminHandler.UnlockUser)
			r.Get("/subscriptions", deps.AdminHandler.ListSubscriptions)
			r.Get("/subscriptions/stats", deps.AdminHandler.SubscriptionStats)
			r.Post("/tasks/daily", deps.AdminHandler.RunDailyTasks)
			r.Get("/settings/subscription", deps.AdminHandler.GetSettings)
			r.Put("/settings/subscription", deps.AdminHandler.UpdateSettings)

			r.Get("/payment-methods", deps.MethodHandler.ListAll)
			r.Post("/payment-methods", deps.MethodHandler.Create)
			r.Put("/payment-methods/{id}", deps.MethodHandler.Update)
			r.Delete("/payment-methods/{id}", deps.MethodHandler.Delete)

			r.Get("/audit-log", deps.AuditHandler.AuditLog)
			r.Get("/security-events", deps.AuditHandler.SecurityEvents)
			r.Get("/security-stats", deps.AuditHandler.SecurityStats)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteNotFound(w, "Resource not found")
	})
}
