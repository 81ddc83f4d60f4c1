package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/services"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
	"github.com/go-chi/chi/v5"
)

// PaymentReviewService is the admin slice of the subscription lifecycle
type PaymentReviewService interface {
	ListPaymentsByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Payment, error)
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	ApprovePayment(ctx context.Context, paymentID, reviewerID, notes string) (*models.Subscription, error)
	RejectPayment(ctx context.Context, paymentID, reviewerID, reason string) (*models.Payment, error)
	RunDailySweep(ctx context.Context) (*models.SweepResult, error)
	ListAllSubscriptions(ctx context.Context, status string, limit, offset int) ([]*models.SubscriptionListing, error)
	SubscriptionStats(ctx context.Context) (*models.SubscriptionStats, error)
}

// LockoutAdmin inspects and clears account lockouts
type LockoutAdmin interface {
	IsLocked(ctx context.Context, username string) (*models.LockStatus, error)
	RemainingAttempts(ctx context.Context, username, addr string) (int, error)
	Unlock(ctx context.Context, username string) (bool, error)
}

// SettingsServiceInterface reads and updates subscription settings
type SettingsServiceInterface interface {
	SubscriptionSettings(ctx context.Context) (*models.SubscriptionSettings, error)
	UpdateSubscriptionSettings(ctx context.Context, in services.UpdateSubscriptionSettingsInput) (*models.SubscriptionSettings, error)
}

// AdminHandler handles payment review, unlocks, settings and manual tasks
type AdminHandler struct {
	payments PaymentReviewService
	lockout  LockoutAdmin
	settings SettingsServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(payments PaymentReviewService, lockout LockoutAdmin, settings SettingsServiceInterface) *AdminHandler {
	return &AdminHandler{payments: payments, lockout: lockout, settings: settings}
}

// ReviewRequest carries optional approval notes
type ReviewRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// RejectRequest carries the mandatory rejection reason
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// ListPayments handles GET /api/admin/payments?status=&limit=&offset=
func (h *AdminHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseIntParam(q.Get("limit"), 50, 1, 200)
	if err != nil {
		pkghttp.WriteBadRequest(w, "limit: "+err.Error())
		return
	}
	offset, err := parseIntParam(q.Get("offset"), 0, 0, 1_000_000)
	if err != nil {
		pkghttp.WriteBadRequest(w, "offset: "+err.Error())
		return
	}

	status := strings.ToLower(strings.TrimSpace(q.Get("status")))
	payments, err := h.payments.ListPaymentsByStatus(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetPayment handles GET /api/admin/payments/{id}
func (h *AdminHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.payments.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, payment)
}

// ApprovePayment handles POST /api/admin/payments/{id}/approve
func (h *AdminHandler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ReviewRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.ErrCodeValidation, err.Error())
		return
	}

	sub, err := h.payments.ApprovePayment(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"subscription": sub})
}

// RejectPayment handles POST /api/admin/payments/{id}/reject
func (h *AdminHandler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req RejectRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	payment, err := h.payments.RejectPayment(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"payment": payment})
}

// UnlockUser handles POST /api/admin/users/{username}/unlock
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		pkghttp.WriteBadRequest(w, "username is required")
		return
	}

	existed, err := h.lockout.Unlock(r.Context(), username)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"username": username,
		"unlocked": existed,
	})
}

// LockoutStatus handles GET /api/admin/users/{username}/lockout?addr=
// The remaining attempts are only reported when addr is given since
// counters are kept per client address.
func (h *AdminHandler) LockoutStatus(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		pkghttp.WriteBadRequest(w, "username is required")
		return
	}

	status, err := h.lockout.IsLocked(r.Context(), username)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	body := map[string]interface{}{
		"username":     username,
		"locked":       status.Locked,
		"locked_until": status.LockedUntil,
	}

	if addr := strings.TrimSpace(r.URL.Query().Get("addr")); addr != "" {
		remaining, err := h.lockout.RemainingAttempts(r.Context(), username, addr)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		body["addr"] = addr
		body["remaining_attempts"] = remaining
	}

	pkghttp.WriteJSON(w, http.StatusOK, body)
}

// ListSubscriptions handles GET /api/admin/subscriptions?status=&limit=&offset=
func (h *AdminHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseIntParam(q.Get("limit"), 50, 1, 200)
	if err != nil {
		pkghttp.WriteBadRequest(w, "limit: "+err.Error())
		return
	}
	offset, err := parseIntParam(q.Get("offset"), 0, 0, 1_000_000)
	if err != nil {
		pkghttp.WriteBadRequest(w, "offset: "+err.Error())
		return
	}

	status := strings.ToLower(strings.TrimSpace(q.Get("status")))
	subs, err := h.payments.ListAllSubscriptions(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if subs == nil {
		subs = []*models.SubscriptionListing{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"limit":         limit,
		"offset":        offset,
	})
}

// SubscriptionStats handles GET /api/admin/subscriptions/stats
func (h *AdminHandler) SubscriptionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.payments.SubscriptionStats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// RunDailyTasks handles POST /api/admin/tasks/daily. The sweep is
// idempotent so a manual run next to the scheduled one is harmless.
func (h *AdminHandler) RunDailyTasks(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.RunDailySweep(r.Context())
	if err != nil && res == nil {
		writeServiceError(w, err)
		return
	}

	body := map[string]interface{}{"result": res}
	if err != nil {
		body["partial_failure"] = true
	}
	pkghttp.WriteJSON(w, http.StatusOK, body)
}

// GetSettings handles GET /api/admin/settings/subscription
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.SubscriptionSettings(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/admin/settings/subscription
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req services.UpdateSubscriptionSettingsInput
	if !decodeAndValidate(w, r, &req) {
		return
	}

	settings, err := h.settings.UpdateSubscriptionSettings(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, settings)
}
