package handlers

import (
	"context"
	"net/http"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/services"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
)

// SubscriptionServiceInterface is the trader-facing slice of the subscription lifecycle
type SubscriptionServiceInterface interface {
	CurrentAccess(ctx context.Context, userID string) (*models.AccessState, error)
	MySubscription(ctx context.Context, userID string) (*services.SubscriptionOverview, error)
	ListPayments(ctx context.Context, userID string) ([]*models.Payment, error)
	SubmitPayment(ctx context.Context, userID string, in services.SubmitPaymentInput) (*models.Payment, error)
}

// SubscriptionHandler serves subscription status and payment submission
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler creates a new SubscriptionHandler
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// Status handles GET /api/subscription/status. The path is exempt from the
// gate so expired traders can still see why they are blocked.
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	state, err := h.service.CurrentAccess(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, state)
}

// Me handles GET /api/subscription/me
func (h *SubscriptionHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	overview, err := h.service.MySubscription(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, overview)
}

// ListPayments handles GET /api/payments
func (h *SubscriptionHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	payments, err := h.service.ListPayments(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"payments": payments})
}

// SubmitPayment handles POST /api/payments
func (h *SubscriptionHandler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req services.SubmitPaymentInput
	if !decodeAndValidate(w, r, &req) {
		return
	}

	payment, err := h.service.SubmitPayment(r.Context(), claims.UserID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, payment)
}

// Complaints handles GET /api/complaints. It stands in for the gated
// complaint routes and echoes the access state the gate attached.
func (h *SubscriptionHandler) Complaints(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"complaints": []struct{}{},
		"access":     auth.GetAccessFromContext(r),
	})
}
