package audithandler

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/table"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/transport/http/shared"
)

const exportLimit = 5000

type Handler struct {
	Service *audit.Service
	now     func() time.Time
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{Service: service, now: time.Now}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/audit", func(r chi.Router) {
		r.Use(middleware.RequireProfiles(guard.TierAdmin, ""))
		r.Get("/events", h.handleListEvents)
		r.Get("/events/export", h.handleExportEvents)
	})
}

func (h *Handler) enabled(w http.ResponseWriter, r *http.Request) bool {
	if h.Service == nil || h.Service.DB == nil {
		api.Fail(w, http.StatusServiceUnavailable, "audit_disabled", "audit trail is not configured", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

func filterFrom(r *http.Request) audit.Filter {
	q := r.URL.Query()
	return audit.Filter{Action: q.Get("action"), EntityType: q.Get("entityType"), ActorID: q.Get("actorId")}
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	page := shared.ParsePagination(r, 100, 500)
	filter := filterFrom(r)
	total, err := h.Service.Count(r.Context(), filter)
	if err != nil {
		slog.Warn("audit count failed", "err", err)
	}

	events, err := h.Service.List(r.Context(), filter, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_list_failed", "failed to list audit events", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, events, middleware.GetRequestID(r.Context()))
}

var eventColumns = []table.Column{
	{Field: "id", HeaderName: "ID"},
	{Field: "createdAt", HeaderName: "Fecha"},
	{Field: "actorId", HeaderName: "Usuario"},
	{Field: "action", HeaderName: "Acción"},
	{Field: "entityType", HeaderName: "Entidad"},
	{Field: "entityId", HeaderName: "Registro"},
	{Field: "requestId", HeaderName: "Solicitud"},
	{Field: "ip", HeaderName: "IP"},
}

func (h *Handler) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	events, err := h.Service.List(r.Context(), filterFrom(r), exportLimit, 0)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_export_failed", "failed to export audit events", middleware.GetRequestID(r.Context()))
		return
	}

	rows := make([]table.Row, 0, len(events))
	for _, evt := range events {
		rows = append(rows, table.Row{
			"id":         evt.ID,
			"createdAt":  evt.CreatedAt.Format(time.RFC3339),
			"actorId":    evt.ActorID,
			"action":     evt.Action,
			"entityType": evt.EntityType,
			"entityId":   evt.EntityID,
			"requestId":  evt.RequestID,
			"ip":         evt.IP,
		})
	}
	t := table.New(eventColumns, rows)

	var buf bytes.Buffer
	if err := t.ExportXLSX(&buf); err != nil {
		api.Fail(w, http.StatusUnprocessableEntity, "audit_export_failed", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+table.ExportFilename("auditoria", table.FormatXLSX, h.now())+`"`)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("audit export write failed", "err", err)
	}
}
