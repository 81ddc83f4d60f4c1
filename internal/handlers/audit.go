package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/tradergate/internal/models"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
)

// AuditReader serves the persisted audit trail
type AuditReader interface {
	AuditLog(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, int64, error)
	SecurityEvents(ctx context.Context, days int) ([]*models.AuditEntry, error)
	SecurityStats(ctx context.Context, days int) (*models.SecurityStats, error)
}

// AuditHandler handles the admin audit views
type AuditHandler struct {
	service AuditReader
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(service AuditReader) *AuditHandler {
	return &AuditHandler{service: service}
}

func parseTimeParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AuditLog handles GET /api/admin/audit-log?event_type=&user_id=&from=&to=&limit=&offset=
func (h *AuditHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
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
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "from: expected RFC3339 timestamp")
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "to: expected RFC3339 timestamp")
		return
	}

	entries, total, err := h.service.AuditLog(r.Context(), models.AuditFilter{
		EventType: strings.TrimSpace(q.Get("event_type")),
		ActorID:   strings.TrimSpace(q.Get("user_id")),
		From:      from,
		To:        to,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":   entries,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// SecurityEvents handles GET /api/admin/security-events?days=
func (h *AuditHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	days, err := parseIntParam(r.URL.Query().Get("days"), 7, 1, 365)
	if err != nil {
		pkghttp.WriteBadRequest(w, "days: "+err.Error())
		return
	}

	events, err := h.service.SecurityEvents(r.Context(), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []*models.AuditEntry{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"days":   days,
	})
}

// SecurityStats handles GET /api/admin/security-stats?days=
func (h *AuditHandler) SecurityStats(w http.ResponseWriter, r *http.Request) {
	days, err := parseIntParam(r.URL.Query().Get("days"), 30, 1, 365)
	if err != nil {
		pkghttp.WriteBadRequest(w, "days: "+err.Error())
		return
	}

	stats, err := h.service.SecurityStats(r.Context(), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, stats)
}
