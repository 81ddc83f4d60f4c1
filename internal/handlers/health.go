package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker func(ctx context.Context) error

// HealthHandler reports database and store reachability
type HealthHandler struct {
	database  HealthChecker
	store     HealthChecker
	storeKind string
}

// NewHealthHandler creates a new HealthHandler. storeKind names the active
// key/value backend.
func NewHealthHandler(database, store HealthChecker, storeKind string) *HealthHandler {
	return &HealthHandler{database: database, store: store, storeKind: storeKind}
}

// Health handles GET /health. Only the database is fatal; a degraded store
// is reported but still answers 200 because the process can fall back.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]string{
		"status":   "healthy",
		"database": "up",
		"store":    h.storeKind,
	}
	status := http.StatusOK

	if h.database != nil {
		if err := h.database(ctx); err != nil {
			body["status"] = "unhealthy"
			body["database"] = "down"
			status = http.StatusServiceUnavailable
		}
	}
	if h.store != nil {
		if err := h.store(ctx); err != nil {
			body["store_status"] = "down"
			if status == http.StatusOK {
				body["status"] = "degraded"
			}
		} else {
			body["store_status"] = "up"
		}
	}

	pkghttp.WriteJSON(w, status, body)
}
