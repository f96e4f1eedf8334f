package followuphandler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/followup"
	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/session"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/transport/http/shared"
	"evalportal/internal/upstream"
)

type Handler struct {
	Service   *followup.Service
	Directory *session.Directory
	Audit     *audit.Logger
}

func NewHandler(service *followup.Service, directory *session.Directory, auditLog *audit.Logger) *Handler {
	return &Handler{Service: service, Directory: directory, Audit: auditLog}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/followup", func(r chi.Router) {
		r.Use(middleware.RequireProfiles(guard.TierGeneral, ""))
		r.With(middleware.RequireProfiles(guard.TierEvaluator, "")).Delete("/actions/{actionID}", h.handleDeleteAction)
		r.Get("/{evaluationID}/{colaboradorID}", h.handleLoad)
		r.Get("/{evaluationID}/{colaboradorID}/eligible", h.handleEligible)
		r.Post("/{evaluationID}/{colaboradorID}", h.handleSave)
		r.Put("/{evaluationID}/{colaboradorID}", h.handleUpdate)
	})
}

type eligibleView struct {
	Competencies []followup.CompetencyScore `json:"competencies"`
	Limits       followup.Limits            `json:"limits"`
	Statuses     []followup.ActionStatus    `json:"statuses"`
}

// key builds the follow-up key from the route. Admins may read another
// evaluator's follow-up through ?evaluatorId=.
func (h *Handler) key(w http.ResponseWriter, r *http.Request) (session.Identity, followup.Key, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return session.Identity{}, followup.Key{}, false
	}
	evaluationID, ok := shared.ParseID(chi.URLParam(r, "evaluationID"))
	colaboradorID := strings.TrimSpace(chi.URLParam(r, "colaboradorID"))
	if !ok || colaboradorID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_key", "invalid evaluation or colaborador", middleware.GetRequestID(r.Context()))
		return session.Identity{}, followup.Key{}, false
	}
	if err := session.AuthorizeEvaluation(r.Context(), h.Directory, user, colaboradorID); err != nil {
		writeError(w, r, err)
		return session.Identity{}, followup.Key{}, false
	}
	evaluatorID := user.ID()
	if other := strings.TrimSpace(r.URL.Query().Get("evaluatorId")); other != "" && user.IsAdmin() && r.Method == http.MethodGet {
		evaluatorID = other
	}
	return user, followup.Key{EvaluationID: evaluationID, EvaluatorID: evaluatorID, ColaboradorID: colaboradorID}, true
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	user, key, ok := h.key(w, r)
	if !ok {
		return
	}
	rec, err := h.Service.Load(r.Context(), user.Credential, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, rec, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleEligible(w http.ResponseWriter, r *http.Request) {
	user, key, ok := h.key(w, r)
	if !ok {
		return
	}
	view := eligibleView{Competencies: []followup.CompetencyScore{}, Statuses: followup.Statuses}
	if !key.SelfAssessment() {
		scores, err := h.Service.Eligible(r.Context(), user.Credential, key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		view.Competencies = scores
		view.Limits = followup.LimitsFor(len(scores))
	}
	api.Success(w, view, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, audit.ActionFollowUpSave, h.Service.Save)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, audit.ActionFollowUpUpdate, h.Service.Update)
}

type writeFunc func(ctx context.Context, cred upstream.Credential, key followup.Key, form followup.Form) (followup.SaveResult, error)

func (h *Handler) write(w http.ResponseWriter, r *http.Request, action string, fn writeFunc) {
	user, key, ok := h.key(w, r)
	if !ok {
		return
	}
	var form followup.Form
	if err := shared.DecodeJSON(r, &form); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	res, err := fn(r.Context(), user.Credential, key, form)
	if err == nil || errors.Is(err, followup.ErrActionsFailed) {
		h.Audit.Log(r.Context(), audit.Event{
			ActorID:      user.ID(),
			ActorProfile: int(user.Profile()),
			Action:       action,
			EntityType:   "followup",
			EntityID:     key.String(),
		}, map[string]any{"commentId": res.CommentID, "actions": len(res.Actions), "failed": len(res.Failed())})
	}
	if errors.Is(err, followup.ErrActionsFailed) {
		api.WriteJSON(w, http.StatusMultiStatus, api.Envelope{
			Success:   false,
			Data:      res,
			Error:     &api.Error{Code: "actions_failed", Message: err.Error(), Details: map[string]any{"failed": res.Failed()}},
			RequestID: middleware.GetRequestID(r.Context()),
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.SuccessWithRedirect(w, res, res.Next, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	actionID, ok := shared.ParseID(chi.URLParam(r, "actionID"))
	if !ok {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid action id", middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.Service.DeleteAction(r.Context(), user.Credential, actionID); err != nil {
		writeError(w, r, err)
		return
	}
	h.Audit.Log(r.Context(), audit.Event{
		ActorID:      user.ID(),
		ActorProfile: int(user.Profile()),
		Action:       audit.ActionActionDelete,
		EntityType:   "commitment",
		EntityID:     strconv.FormatInt(actionID, 10),
	}, nil)
	api.Success(w, map[string]int64{"deleted": actionID}, middleware.GetRequestID(r.Context()))
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	if verr, ok := followup.IsValidation(err); ok {
		v := shared.NewValidator()
		for _, issue := range verr.Issues {
			v.Add(issue.Field, issue.Message)
		}
		if !v.Reject(w, requestID) {
			api.Fail(w, http.StatusBadRequest, "validation_error", verr.Error(), requestID)
		}
		return
	}
	switch {
	case errors.Is(err, session.ErrNotYourCollaborator):
		api.FailWithRedirect(w, http.StatusForbidden, "forbidden", "colaborador is not assigned to you", guard.DefaultPage, requestID)
	case errors.Is(err, followup.ErrNoComment):
		api.Fail(w, http.StatusNotFound, "followup_not_found", "no saved follow-up for this evaluation", requestID)
	default:
		shared.FailUpstream(w, err, "followup_failed", "follow-up request failed", requestID)
	}
}
