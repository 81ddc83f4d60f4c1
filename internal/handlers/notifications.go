package handlers

import (
	"context"
	"net/http"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/models"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
)

// NotificationLister reads a user's in-app notifications
type NotificationLister interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
}

// NotificationHandler serves the caller's in-app notifications
type NotificationHandler struct {
	service NotificationLister
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(service NotificationLister) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List handles GET /api/notifications?limit=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	limit, err := parseIntParam(r.URL.Query().Get("limit"), 50, 1, 100)
	if err != nil {
		pkghttp.WriteBadRequest(w, "limit: "+err.Error())
		return
	}

	list, err := h.service.ListForUser(r.Context(), claims.UserID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"notifications": list})
}
