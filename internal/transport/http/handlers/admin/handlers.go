package adminhandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"evalportal/internal/domain/admin"
	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/batch"
	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/session"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/transport/http/shared"
	"evalportal/internal/upstream"
)

type BatchConfig struct {
	ChunkSize   int
	Concurrency int
}

type Handler struct {
	Service     *admin.Service
	Audit       *audit.Logger
	Idempotency *middleware.IdempotencyStore
	Batch       BatchConfig
}

func NewHandler(service *admin.Service, auditLog *audit.Logger, idempotency *middleware.IdempotencyStore, batch BatchConfig) *Handler {
	return &Handler{Service: service, Audit: auditLog, Idempotency: idempotency, Batch: batch}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireProfiles(guard.TierAdmin, ""))

		r.Get("/users", h.handleListUsers)
		r.Post("/users", h.handleCreateUser)
		r.Put("/users/{document}", h.handleUpdateUser)
		r.Delete("/users/{document}", h.handleDeactivateUser)

		r.Get("/companies", h.handleListCompanies)
		r.Post("/companies", h.handleSaveCompany)
		r.Put("/companies/{id}", h.handleSaveCompany)
		r.Delete("/companies/{id}", h.handleDeleteCompany)

		r.Get("/sites", h.handleListSites)
		r.Post("/sites", h.handleSaveSite)
		r.Put("/sites/{id}", h.handleSaveSite)
		r.Delete("/sites/{id}", h.handleDeleteSite)

		r.Get("/evaluations", h.handleListEvaluations)
		r.Post("/evaluations", h.handleSaveEvaluation)
		r.Put("/evaluations/{id}", h.handleSaveEvaluation)
		r.Delete("/evaluations/{id}", h.handleDeleteEvaluation)

		r.Route("/evaluations/{evaluationID}", func(r chi.Router) {
			r.Get("/competencies", h.handleListCompetencies)
			r.Post("/competencies", h.handleSaveCompetency)
			r.Put("/competencies/{id}", h.handleSaveCompetency)
			r.Delete("/competencies/{id}", h.handleDeleteCompetency)
			r.Post("/descriptors", h.handleSaveDescriptor)
			r.Put("/descriptors/{id}", h.handleSaveDescriptor)
			r.Delete("/descriptors/{id}", h.handleDeleteDescriptor)
			r.Get("/assignments", h.handleListAssignments)
			r.Post("/assignments", h.handleAssign)
			r.Delete("/assignments", h.handleUnassign)
		})
	})
	r.With(middleware.RequireProfiles(guard.TierAdmin, "")).Post("/assignments/bulk", h.handleBulkAssign)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (session.Identity, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
	}
	return user, ok
}

func (h *Handler) record(r *http.Request, user session.Identity, action, entityType, entityID string) {
	h.Audit.Log(r.Context(), audit.Event{
		ActorID:      user.ID(),
		ActorProfile: int(user.Profile()),
		Action:       action,
		EntityType:   entityType,
		EntityID:     entityID,
	}, nil)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := shared.DecodeJSON(r, dst); err != nil {
		if shared.IsBodyTooLarge(err) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", middleware.GetRequestID(r.Context()))
			return false
		}
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

// pathID reads an optional numeric id; ok is false only for a malformed one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, true
	}
	id, ok := shared.ParseID(raw)
	if !ok {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid "+name, middleware.GetRequestID(r.Context()))
	}
	return id, ok
}

func requiredID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, ok := pathID(w, r, name)
	if ok && id == 0 {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid "+name, middleware.GetRequestID(r.Context()))
		return 0, false
	}
	return id, ok
}

// Users

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := admin.UserQuery{Term: strings.TrimSpace(q.Get("q"))}
	if v, err := strconv.Atoi(q.Get("perfil")); err == nil {
		query.ProfileID = v
	}
	if v, ok := shared.ParseID(q.Get("empresa")); ok {
		query.CompanyID = v
	}
	users, err := h.Service.Users(r.Context(), user.Credential, query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, users, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var in admin.UserInput
	if !decode(w, r, &in) {
		return
	}
	users, err := h.Service.CreateUser(r.Context(), user.Credential, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminWrite, "user", in.Document)
	api.Created(w, users, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var in admin.UserInput
	if !decode(w, r, &in) {
		return
	}
	document := chi.URLParam(r, "document")
	users, err := h.Service.UpdateUser(r.Context(), user.Credential, document, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminWrite, "user", document)
	api.Success(w, users, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	document := chi.URLParam(r, "document")
	if document == user.ID() {
		api.Fail(w, http.StatusBadRequest, "self_deactivation", "you cannot deactivate your own user", middleware.GetRequestID(r.Context()))
		return
	}
	users, err := h.Service.DeactivateUser(r.Context(), user.Credential, document)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminDelete, "user", document)
	api.Success(w, users, middleware.GetRequestID(r.Context()))
}

// Companies and sites

func (h *Handler) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	companies, err := h.Service.Companies(r.Context(), user.Credential)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, companies, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveCompany(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in admin.CompanyInput
	if !decode(w, r, &in) {
		return
	}
	in.ID = id
	companies, err := h.Service.SaveCompany(r.Context(), user.Credential, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminWrite, "company", strconv.FormatInt(id, 10))
	api.Success(w, companies, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := requiredID(w, r, "id")
	if !ok {
		return
	}
	companies, err := h.Service.DeleteCompany(r.Context(), user.Credential, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminDelete, "company", strconv.FormatInt(id, 10))
	api.Success(w, companies, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListSites(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	sites, err := h.Service.Sites(r.Context(), user.Credential)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, sites, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveSite(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in admin.SiteInput
	if !decode(w, r, &in) {
		return
	}
	in.ID = id
	sites, err := h.Service.SaveSite(r.Context(), user.Credential, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminWrite, "site", strconv.FormatInt(id, 10))
	api.Success(w, sites, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := requiredID(w, r, "id")
	if !ok {
		return
	}
	sites, err := h.Service.DeleteSite(r.Context(), user.Credential, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminDelete, "site", strconv.FormatInt(id, 10))
	api.Success(w, sites, middleware.GetRequestID(r.Context()))
}

// Evaluations

func (h *Handler) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	evaluations, err := h.Service.Evaluations(r.Context(), user.Credential)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, evaluations, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveEvaluation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in admin.EvaluationInput
	if !decode(w, r, &in) {
		return
	}
	in.ID = id
	evaluations, err := h.Service.SaveEvaluation(r.Context(), user.Credential, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminWrite, "evaluation", strconv.FormatInt(id, 10))
	api.Success(w, evaluations, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteEvaluation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := requiredID(w, r, "id")
	if !ok {
		return
	}
	evaluations, err := h.Service.DeleteEvaluation(r.Context(), user.Credential, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminDelete, "evaluation", strconv.FormatInt(id, 10))
	api.Success(w, evaluations, middleware.GetRequestID(r.Context()))
}

// Competencies and descriptors

func (h *Handler) handleListCompetencies(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	evaluationID, ok := requiredID(w, r, "evaluationID")
	if !ok {
		return
	}
	overview, err := h.Service.Competencies(r.Context(), user.Credential, evaluationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, overview, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveCompetency(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	evaluationID, ok := requiredID(w, r, "evaluationID")
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in admin.CompetencyInput
	if !decode(w, r, &in) {
		return
	}
	in.ID = id
	overview, err := h.Service.SaveCompetency(r.Context(), user.Credential, evaluationID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminWrite, "competency", strconv.FormatInt(id, 10))
	api.Success(w, overview, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteCompetency(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	evaluationID, ok := requiredID(w, r, "evaluationID")
	if !ok {
		return
	}
	id, ok := requiredID(w, r, "id")
	if !ok {
		return
	}
	overview, err := h.Service.DeleteCompetency(r.Context(), user.Credential, evaluationID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminDelete, "competency", strconv.FormatInt(id, 10))
	api.Success(w, overview, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveDescriptor(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	evaluationID, ok := requiredID(w, r, "evaluationID")
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in admin.DescriptorInput
	if !decode(w, r, &in) {
		return
	}
	in.ID = id
	overview, err := h.Service.SaveDescriptor(r.Context(), user.Credential, evaluationID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminWrite, "descriptor", strconv.FormatInt(id, 10))
	api.Success(w, overview, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteDescriptor(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	evaluationID, ok := requiredID(w, r, "evaluationID")
	if !ok {
		return
	}
	id, ok := requiredID(w, r, "id")
	if !ok {
		return
	}
	overview, err := h.Service.DeleteDescriptor(r.Context(), user.Credential, evaluationID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, audit.ActionAdminDelete, "descriptor", strconv.FormatInt(id, 10))
	api.Success(w, overview, middleware.GetRequestID(r.Context()))
}

// Assignments

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	evaluationID, ok := requiredID(w, r, "evaluationID")
	if !ok {
		return
	}
	assignments, err := h.Service.Assignments(r.Context(), user.Credential, evaluationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, assignments, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	h.assignment(w, r, false)
}

func (h *Handler) handleUnassign(w http.ResponseWriter, r *http.Request) {
	h.assignment(w, r, true)
}

func (h *Handler) assignment(w http.ResponseWriter, r *http.Request, remove bool) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	evaluationID, ok := requiredID(w, r, "evaluationID")
	if !ok {
		return
	}
	var in admin.AssignmentInput
	if !decode(w, r, &in) {
		return
	}
	var err error
	var out any
	action := audit.ActionAdminWrite
	if remove {
		action = audit.ActionAdminDelete
		out, err = h.Service.Unassign(r.Context(), user.Credential, evaluationID, in)
	} else {
		out, err = h.Service.Assign(r.Context(), user.Credential, evaluationID, in)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, user, action, "assignment", strconv.FormatInt(evaluationID, 10)+":"+in.EvaluatorID+":"+in.ColaboradorID)
	api.Success(w, out, middleware.GetRequestID(r.Context()))
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	v := shared.NewValidator()
	switch {
	case errors.Is(err, admin.ErrInvalid):
		if !v.AddErrors(err) {
			v.Add("payload", err.Error())
		}
	case errors.Is(err, admin.ErrUnknownCompany):
		v.Add("idEmpresa", "company does not exist")
	case errors.Is(err, admin.ErrUnknownCompetency):
		v.Add("idCompetencia", "competency does not exist")
	case errors.Is(err, admin.ErrDateOrder):
		v.Add("fechaFin", "must not be before fechaInicio")
	case errors.Is(err, admin.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "record not found", requestID)
		return
	default:
		shared.FailUpstream(w, err, "admin_failed", "admin request failed", requestID)
		return
	}
	v.Reject(w, requestID)
}

const bulkEndpoint = "/assignments/bulk"

// bulkResponse is what a bulk assignment answers and what a replayed
// Idempotency-Key gets back.
type bulkResponse struct {
	batch.Result
	Messages []string `json:"messages,omitempty"`
}

func (b bulkResponse) status() int {
	switch {
	case b.OK():
		return http.StatusOK
	case b.Succeeded > 0:
		return http.StatusMultiStatus
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) handleBulkAssign(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	requestID := middleware.GetRequestID(r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if shared.IsBodyTooLarge(err) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", requestID)
			return
		}
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestID)
		return
	}
	var in admin.BulkInput
	if err := json.Unmarshal(body, &in); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestID)
		return
	}

	key := strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader))
	requestHash := middleware.RequestHash(body)
	reserved := false
	if key != "" && h.Idempotency.Enabled() {
		stored, found, err := h.Idempotency.Check(r.Context(), user.ID(), bulkEndpoint, key, requestHash)
		if err == nil && !found {
			err = h.Idempotency.Reserve(r.Context(), user.ID(), bulkEndpoint, key, requestHash)
			reserved = err == nil
		}
		switch {
		case errors.Is(err, middleware.ErrIdempotencyConflict):
			api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different payload", requestID)
			return
		case errors.Is(err, middleware.ErrIdempotencyInProgress):
			api.Fail(w, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is still running", requestID)
			return
		case err != nil:
			slog.Error("idempotency check failed", "err", err, "request_id", requestID)
			api.Fail(w, http.StatusInternalServerError, "internal_error", "internal error", requestID)
			return
		}
		if found {
			var replay bulkResponse
			if err := json.Unmarshal(stored, &replay); err == nil {
				h.writeBulk(w, replay, requestID)
				return
			}
			slog.Warn("stored bulk response unreadable", "request_id", requestID)
		}
	}
	release := func() {
		if !reserved {
			return
		}
		if err := h.Idempotency.Release(context.WithoutCancel(r.Context()), user.ID(), bulkEndpoint, key); err != nil {
			slog.Warn("idempotency release failed", "err", err, "request_id", requestID)
		}
	}

	res, err := h.Service.BulkAssign(r.Context(), user.Credential, in, h.Batch.ChunkSize, h.Batch.Concurrency)
	if err != nil && res.Total == 0 {
		release()
		writeError(w, r, err)
		return
	}
	out := bulkResponse{Result: res}
	for _, ce := range res.Errors {
		out.Messages = append(out.Messages, upstream.Message(ce.Err, ce.Error()))
	}
	h.Audit.Log(r.Context(), audit.Event{
		ActorID:      user.ID(),
		ActorProfile: int(user.Profile()),
		Action:       audit.ActionBulkAssign,
		EntityType:   "evaluation",
		EntityID:     strconv.FormatInt(in.EvaluationID, 10),
	}, map[string]any{"total": res.Total, "chunks": res.Chunks, "failed": res.Failed})

	if reserved && out.status() == http.StatusBadGateway {
		release()
	} else if reserved {
		payload, err := json.Marshal(out)
		if err == nil {
			err = h.Idempotency.Save(r.Context(), user.ID(), bulkEndpoint, key, requestHash, payload)
		}
		if err != nil {
			slog.Warn("idempotency save failed", "err", err, "request_id", requestID)
			release()
		}
	}
	h.writeBulk(w, out, requestID)
}

func (h *Handler) writeBulk(w http.ResponseWriter, out bulkResponse, requestID string) {
	status := out.status()
	if status == http.StatusOK {
		api.Success(w, out, requestID)
		return
	}
	code := "bulk_partial"
	if status == http.StatusBadGateway {
		code = "bulk_failed"
	}
	api.WriteJSON(w, status, api.Envelope{
		Success:   false,
		Data:      out,
		Error:     &api.Error{Code: code, Message: "some assignment chunks failed", Details: map[string]any{"errors": out.Errors, "messages": out.Messages}},
		RequestID: requestID,
	})
}
