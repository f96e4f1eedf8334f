package reportshandler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/reports"
	"evalportal/internal/domain/session"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/transport/http/shared"
)

type Handler struct {
	Service *reports.Service
	Audit   *audit.Logger
}

func NewHandler(service *reports.Service, auditLog *audit.Logger) *Handler {
	return &Handler{Service: service, Audit: auditLog}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.With(middleware.RequireProfiles(guard.TierGeneral, "")).Get("/me", h.handleOwnResults)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireProfiles(guard.TierEvaluator, ""))
			r.Get("/dashboard", h.handleDashboard)
			r.Get("/curve", h.handleCurve)
			r.Get("/summary", h.handleSummary)
			r.Post("/pdfs", h.handlePDFs)
		})
	})
}

// query reads the report scope. Evaluators only ever see their own answers;
// admins may narrow by evaluadorId.
func query(w http.ResponseWriter, r *http.Request, user session.Identity) (reports.Query, bool) {
	q := r.URL.Query()
	evaluationID, ok := shared.ParseID(q.Get("evaluationId"))
	if !ok {
		v := shared.NewValidator()
		v.Add("evaluationId", "is required")
		v.Reject(w, middleware.GetRequestID(r.Context()))
		return reports.Query{}, false
	}
	out := reports.Query{
		EvaluationID:  evaluationID,
		ColaboradorID: strings.TrimSpace(q.Get("colaboradorId")),
		EvaluatorID:   strings.TrimSpace(q.Get("evaluadorId")),
	}
	if !user.IsAdmin() {
		out.EvaluatorID = user.ID()
	}
	return out, true
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	q, ok := query(w, r, user)
	if !ok {
		return
	}
	dashboard, err := h.Service.Dashboard(r.Context(), user.Credential, q)
	if err != nil {
		shared.FailUpstream(w, err, "dashboard_failed", "failed to load dashboard", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, dashboard, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleOwnResults(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	evaluationID, ok := shared.ParseID(r.URL.Query().Get("evaluationId"))
	if !ok {
		v := shared.NewValidator()
		v.Add("evaluationId", "is required")
		v.Reject(w, middleware.GetRequestID(r.Context()))
		return
	}
	dashboard, err := h.Service.Dashboard(r.Context(), user.Credential, reports.Query{EvaluationID: evaluationID, ColaboradorID: user.ID()})
	if err != nil {
		shared.FailUpstream(w, err, "results_failed", "failed to load results", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, dashboard, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCurve(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	q, ok := query(w, r, user)
	if !ok {
		return
	}
	curve, err := h.Service.Curve(r.Context(), user.Credential, q)
	if err != nil {
		shared.FailUpstream(w, err, "curve_failed", "failed to load performance curve", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, curve, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	q, ok := query(w, r, user)
	if !ok {
		return
	}
	summary, err := h.Service.Summary(r.Context(), user.Credential, q.EvaluationID)
	if err != nil {
		shared.FailUpstream(w, err, "summary_failed", "failed to load summary", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

type pdfRequest struct {
	EvaluationID int64    `json:"evaluationId"`
	Documents    []string `json:"documentos"`
}

func (h *Handler) handlePDFs(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload pdfRequest
	if err := shared.DecodeJSON(r, &payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	v := shared.NewValidator()
	v.Positive("evaluationId", payload.EvaluationID, "is required")
	if len(payload.Documents) == 0 {
		v.Add("documentos", "select at least one colaborador")
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	download, err := h.Service.DownloadPDFs(r.Context(), user.Credential, payload.EvaluationID, payload.Documents)
	if err != nil {
		shared.FailUpstream(w, err, "pdf_failed", "failed to generate reports", middleware.GetRequestID(r.Context()))
		return
	}
	defer download.Body.Close()

	h.Audit.Log(r.Context(), audit.Event{
		ActorID:      user.ID(),
		ActorProfile: int(user.Profile()),
		Action:       audit.ActionReportDownload,
		EntityType:   "evaluation",
		EntityID:     strconv.FormatInt(payload.EvaluationID, 10),
	}, map[string]any{"documents": len(payload.Documents), "filename": download.Filename})

	w.Header().Set("Content-Type", download.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+download.Filename+`"`)
	if download.Length > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(download.Length, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, download.Body); err != nil {
		slog.Warn("pdf archive stream failed", "evaluationId", payload.EvaluationID, "err", err)
	}
}
