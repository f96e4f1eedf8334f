package sessionhandler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/session"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/transport/http/shared"
	"evalportal/internal/upstream"
)

type API interface {
	Login(ctx context.Context, req upstream.LoginRequest) (upstream.LoginResult, error)
	Logout(ctx context.Context, cred upstream.Credential) error
}

type Handler struct {
	API       API
	Auth      *middleware.Authenticator
	Directory *session.Directory
	Policy    guard.Policy
	Audit     *audit.Logger
}

func NewHandler(client API, auth *middleware.Authenticator, directory *session.Directory, policy guard.Policy, auditLog *audit.Logger) *Handler {
	return &Handler{API: client, Auth: auth, Directory: directory, Policy: policy, Audit: auditLog}
}

type loginRequest struct {
	Document string `json:"documento"`
	Password string `json:"password"`
}

type sessionView struct {
	User        upstream.User `json:"user"`
	Profile     string        `json:"profile"`
	DefaultPage string        `json:"defaultPage"`
	// MustChangePassword is set while the user still has the issued password.
	MustChangePassword bool `json:"mustChangePassword"`
}

func (h *Handler) view(identity session.Identity) sessionView {
	return sessionView{
		User:               identity.User,
		Profile:            identity.Profile().String(),
		DefaultPage:        h.Policy.DefaultPage,
		MustChangePassword: identity.User.DefaultPassword,
	}
}

// RegisterRoutes mounts the routes that need an authenticated caller. Login
// is mounted separately through HandleLogin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.handleCurrent)
		r.Post("/logout", h.handleLogout)
		r.Get("/access", h.handleAccess)
		r.With(middleware.RequireProfiles(guard.TierEvaluator, "")).Get("/collaborators", h.handleCollaborators)
	})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := shared.DecodeJSON(r, &payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	payload.Document = strings.TrimSpace(payload.Document)

	validator := shared.NewValidator()
	validator.Required("documento", payload.Document, "documento is required")
	validator.Required("password", payload.Password, "password is required")
	if validator.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	result, err := h.API.Login(r.Context(), upstream.LoginRequest{Document: payload.Document, Password: payload.Password})
	if err != nil {
		if upstream.IsUnauthorized(err) || upstream.IsHTTPError(err, http.StatusBadRequest) {
			api.Fail(w, http.StatusUnauthorized, "invalid_credentials", upstream.Message(err, "invalid credentials"), middleware.GetRequestID(r.Context()))
			return
		}
		shared.FailUpstream(w, err, "login_failed", "login failed", middleware.GetRequestID(r.Context()))
		return
	}

	identity := session.Identity{User: result.User, Credential: upstream.Credential{Bearer: result.Token}}
	if strings.TrimSpace(result.Token) == "" || identity.ID() == "" || !identity.Profile().Valid() {
		api.Fail(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials", middleware.GetRequestID(r.Context()))
		return
	}
	if !identity.User.Active {
		api.Fail(w, http.StatusForbidden, "user_inactive", "user is not active", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Auth.IssueCookie(w, identity); err != nil {
		api.Fail(w, http.StatusInternalServerError, "session_failed", "failed to create session", middleware.GetRequestID(r.Context()))
		return
	}
	h.Directory.Invalidate(identity.ID())

	ctx := middleware.WithUser(r.Context(), identity)
	h.Audit.Log(ctx, audit.Event{
		ActorID:      identity.ID(),
		ActorProfile: int(identity.Profile()),
		Action:       audit.ActionLogin,
		EntityType:   "session",
		EntityID:     identity.ID(),
	}, nil)

	api.SuccessWithRedirect(w, h.view(identity), h.Policy.DefaultPage, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.API.Logout(r.Context(), user.Credential); err != nil {
		slog.Warn("api logout failed", "err", err)
	}
	h.Auth.ClearCookie(w)
	h.Directory.Invalidate(user.ID())
	h.Audit.Log(r.Context(), audit.Event{
		ActorID:      user.ID(),
		ActorProfile: int(user.Profile()),
		Action:       audit.ActionLogout,
		EntityType:   "session",
		EntityID:     user.ID(),
	}, nil)

	api.SuccessWithRedirect(w, map[string]string{"status": "logged_out"}, guard.LoginPath, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, h.view(user), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" || !strings.HasPrefix(path, "/") {
		validator := shared.NewValidator()
		validator.Add("path", "path must start with /")
		validator.Reject(w, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, h.Policy.Decide(user.Profile(), path), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCollaborators(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	list, err := h.Directory.Load(r.Context(), user)
	if err != nil {
		shared.FailUpstream(w, err, "collaborators_failed", "failed to load collaborators", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, list, middleware.GetRequestID(r.Context()))
}
