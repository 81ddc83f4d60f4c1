package handlers

import (
	"context"
	"net/http"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/services"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
	"github.com/go-chi/chi/v5"
)

// PaymentMethodServiceInterface manages the accounts traders pay into
type PaymentMethodServiceInterface interface {
	ListActive(ctx context.Context) ([]*models.PaymentMethod, error)
	ListAll(ctx context.Context) ([]*models.PaymentMethod, error)
	Create(ctx context.Context, actorID string, in services.PaymentMethodInput) (*models.PaymentMethod, error)
	Update(ctx context.Context, actorID, id string, patch services.PaymentMethodPatch) (*models.PaymentMethod, error)
	Delete(ctx context.Context, actorID, id string) error
}

// PaymentMethodHandler serves payment methods to traders and admins
type PaymentMethodHandler struct {
	service PaymentMethodServiceInterface
}

// NewPaymentMethodHandler creates a new PaymentMethodHandler
func NewPaymentMethodHandler(service PaymentMethodServiceInterface) *PaymentMethodHandler {
	return &PaymentMethodHandler{service: service}
}

func writeMethods(w http.ResponseWriter, methods []*models.PaymentMethod) {
	if methods == nil {
		methods = []*models.PaymentMethod{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"payment_methods": methods})
}

// ListActive handles GET /api/payment-methods
func (h *PaymentMethodHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListActive(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeMethods(w, methods)
}

// ListAll handles GET /api/admin/payment-methods
func (h *PaymentMethodHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeMethods(w, methods)
}

// Create handles POST /api/admin/payment-methods
func (h *PaymentMethodHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req services.PaymentMethodInput
	if !decodeAndValidate(w, r, &req) {
		return
	}

	method, err := h.service.Create(r.Context(), claims.UserID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, method)
}

// Update handles PUT /api/admin/payment-methods/{id}
func (h *PaymentMethodHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req services.PaymentMethodPatch
	if !decodeAndValidate(w, r, &req) {
		return
	}

	method, err := h.service.Update(r.Context(), claims.UserID, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, method)
}

// Delete handles DELETE /api/admin/payment-methods/{id}
func (h *PaymentMethodHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Delete(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
