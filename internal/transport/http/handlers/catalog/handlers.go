// Package cataloghandler serves the reference lists every profile needs to
// fill selectors: companies, sites, evaluations, ratings and competencies.
package cataloghandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"evalportal/internal/domain/admin"
	"evalportal/internal/domain/guard"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/transport/http/shared"
)

type Handler struct {
	Service *admin.Service
}

func NewHandler(service *admin.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/catalog", func(r chi.Router) {
		r.Use(middleware.RequireProfiles(guard.TierGeneral, ""))
		r.Get("/companies", h.handleCompanies)
		r.Get("/sites", h.handleSites)
		r.Get("/evaluations", h.handleEvaluations)
		r.Get("/ratings", h.handleRatings)
		r.Get("/competencies", h.handleCompetencies)
	})
}

func (h *Handler) handleCompanies(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	out, err := h.Service.Companies(r.Context(), user.Credential)
	respond(w, r, out, err)
}

func (h *Handler) handleSites(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	out, err := h.Service.Sites(r.Context(), user.Credential)
	respond(w, r, out, err)
}

func (h *Handler) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	out, err := h.Service.Evaluations(r.Context(), user.Credential)
	respond(w, r, out, err)
}

func (h *Handler) handleRatings(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	out, err := h.Service.Ratings(r.Context(), user.Credential)
	respond(w, r, out, err)
}

func (h *Handler) handleCompetencies(w http.ResponseWriter, r *http.Request) {
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
	out, err := h.Service.Competencies(r.Context(), user.Credential, evaluationID)
	respond(w, r, out, err)
}

func respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		shared.FailUpstream(w, err, "catalog_failed", "failed to load list", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, data, middleware.GetRequestID(r.Context()))
}
