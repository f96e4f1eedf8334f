package wizardhandler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/session"
	"evalportal/internal/domain/wizard"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/transport/http/shared"
)

type Handler struct {
	Service   *wizard.Service
	Directory *session.Directory
	Audit     *audit.Logger
	validate  *validator.Validate
}

func NewHandler(service *wizard.Service, directory *session.Directory, auditLog *audit.Logger) *Handler {
	return &Handler{Service: service, Directory: directory, Audit: auditLog, validate: shared.NewStructValidator()}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/wizard/{evaluationID}/{colaboradorID}", func(r chi.Router) {
		r.Use(middleware.RequireProfiles(guard.TierGeneral, ""))
		r.Post("/", h.handleBegin)
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleDiscard)
		r.Post("/commands", h.handleCommand)
	})
}

// key resolves and authorizes the wizard addressed by the route. It writes the
// failure response itself.
func (h *Handler) key(w http.ResponseWriter, r *http.Request) (session.Identity, wizard.Key, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return session.Identity{}, wizard.Key{}, false
	}
	evaluationID, ok := shared.ParseID(chi.URLParam(r, "evaluationID"))
	colaboradorID := strings.TrimSpace(chi.URLParam(r, "colaboradorID"))
	if !ok || colaboradorID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_key", "invalid evaluation or colaborador", middleware.GetRequestID(r.Context()))
		return session.Identity{}, wizard.Key{}, false
	}
	if err := session.AuthorizeEvaluation(r.Context(), h.Directory, user, colaboradorID); err != nil {
		writeError(w, r, err)
		return session.Identity{}, wizard.Key{}, false
	}
	return user, wizard.Key{EvaluationID: evaluationID, EvaluatorID: user.ID(), ColaboradorID: colaboradorID}, true
}

func (h *Handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	user, key, ok := h.key(w, r)
	if !ok {
		return
	}
	state, err := h.Service.Begin(r.Context(), user.Credential, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, state.View(), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	_, key, ok := h.key(w, r)
	if !ok {
		return
	}
	state, err := h.Service.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, state.View(), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	_, key, ok := h.key(w, r)
	if !ok {
		return
	}
	if err := h.Service.Discard(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"status": "discarded"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	user, key, ok := h.key(w, r)
	if !ok {
		return
	}

	var cmd wizard.Command
	if err := shared.DecodeJSON(r, &cmd); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.validate.Struct(cmd); err != nil {
		v := shared.NewValidator()
		v.AddErrors(err)
		v.Reject(w, middleware.GetRequestID(r.Context()))
		return
	}

	outcome, err := h.Service.Apply(r.Context(), user.Credential, key, cmd)
	if cmd.Command == wizard.CommandSubmit && (err == nil || errors.Is(err, wizard.ErrAlreadyRegistered)) {
		h.Audit.Log(r.Context(), audit.Event{
			ActorID:      user.ID(),
			ActorProfile: int(user.Profile()),
			Action:       audit.ActionWizardSubmit,
			EntityType:   "evaluation",
			EntityID:     key.String(),
		}, map[string]any{"answers": len(outcome.State.Answers), "duplicate": err != nil})
	}
	if errors.Is(err, wizard.ErrAlreadyRegistered) {
		api.FailWithRedirect(w, http.StatusConflict, "already_registered", outcome.Message, outcome.Redirect, middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if outcome.Redirect != "" {
		api.SuccessWithRedirect(w, outcomeView(outcome), outcome.Redirect, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, outcomeView(outcome), middleware.GetRequestID(r.Context()))
}

type commandView struct {
	wizard.View
	Message string `json:"message,omitempty"`
}

func outcomeView(o wizard.Outcome) commandView {
	return commandView{View: o.State.View(), Message: o.Message}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	var incomplete *wizard.IncompleteError
	switch {
	case errors.As(err, &incomplete):
		api.FailWithDetails(w, http.StatusBadRequest, "page_incomplete", "every descriptor on the page needs a rating",
			map[string]any{"page": incomplete.Page, "missing": incomplete.Missing}, requestID)
	case errors.Is(err, session.ErrNotYourCollaborator):
		api.FailWithRedirect(w, http.StatusForbidden, "forbidden", "colaborador is not assigned to you", guard.DefaultPage, requestID)
	case errors.Is(err, wizard.ErrEvaluationFinished):
		api.Fail(w, http.StatusConflict, "evaluation_finished", "evaluation no longer accepts answers", requestID)
	case errors.Is(err, wizard.ErrNoCompetencies):
		api.Fail(w, http.StatusUnprocessableEntity, "no_competencies", "evaluation has no competencies", requestID)
	case errors.Is(err, wizard.ErrInvalidTransition):
		api.Fail(w, http.StatusConflict, "invalid_transition", err.Error(), requestID)
	case errors.Is(err, wizard.ErrUnknownDescriptor), errors.Is(err, wizard.ErrUnknownRating), errors.Is(err, wizard.ErrUnknownCommand):
		api.Fail(w, http.StatusBadRequest, "invalid_answer", err.Error(), requestID)
	case errors.Is(err, wizard.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "wizard_not_found", "no wizard in progress for this evaluation", requestID)
	default:
		shared.FailUpstream(w, err, "wizard_failed", "wizard request failed", requestID)
	}
}
