package sessionhandler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/session"
	"evalportal/internal/platform/crypto"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/upstream"
)

type fakeAPI struct {
	login       upstream.LoginResult
	loginErr    error
	logoutCalls int
	collabs     []upstream.Collaborator
}

func (f *fakeAPI) Login(_ context.Context, req upstream.LoginRequest) (upstream.LoginResult, error) {
	if f.loginErr != nil {
		return upstream.LoginResult{}, f.loginErr
	}
	return f.login, nil
}

func (f *fakeAPI) Logout(context.Context, upstream.Credential) error {
	f.logoutCalls++
	return nil
}

func (f *fakeAPI) Collaborators(context.Context, upstream.Credential, string) ([]upstream.Collaborator, error) {
	return f.collabs, nil
}

type envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Redirect string          `json:"redirect"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newHandler(t *testing.T, fake *fakeAPI) *Handler {
	t.Helper()
	sealer, err := crypto.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	tokens := session.NewTokens("test-secret", sealer, time.Hour)
	auth := middleware.NewAuthenticator(tokens, session.NewVerifier(nil), middleware.SessionConfig{Cookie: "evalportal_session", APICookie: "token"})
	return NewHandler(fake, auth, session.NewDirectory(fake, time.Minute), guard.DefaultPolicy(), audit.NewLogger(nil, nil))
}

func routerAs(h *Handler, identity *session.Identity) http.Handler {
	r := chi.NewRouter()
	r.Post("/session/login", h.HandleLogin)
	r.Group(func(r chi.Router) {
		if identity != nil {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), *identity)))
				})
			})
		}
		h.RegisterRoutes(r)
	})
	return r
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestLoginIssuesSessionCookie(t *testing.T) {
	fake := &fakeAPI{login: upstream.LoginResult{
		Token: "api-token",
		User:  upstream.User{Document: "100", Name: "Eva", ProfileID: 2, Active: true},
	}}
	h := newHandler(t, fake)

	req := httptest.NewRequest(http.MethodPost, "/session/login", strings.NewReader(`{"documento":" 100 ","password":"secret"}`))
	rec := httptest.NewRecorder()
	routerAs(h, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, guard.DefaultPage, env.Redirect)

	var view sessionView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "evaluador", view.Profile)
	assert.Equal(t, "100", view.User.Document)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "evalportal_session", cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestLoginRequiresCredentials(t *testing.T) {
	h := newHandler(t, &fakeAPI{})

	req := httptest.NewRequest(http.MethodPost, "/session/login", strings.NewReader(`{"documento":""}`))
	rec := httptest.NewRecorder()
	routerAs(h, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode(t, rec).Error.Code)
}

func TestLoginRejectedByAPI(t *testing.T) {
	h := newHandler(t, &fakeAPI{loginErr: &upstream.HTTPError{Status: http.StatusUnauthorized, Message: "Credenciales inválidas"}})

	req := httptest.NewRequest(http.MethodPost, "/session/login", strings.NewReader(`{"documento":"1","password":"x"}`))
	rec := httptest.NewRecorder()
	routerAs(h, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "invalid_credentials", env.Error.Code)
	assert.Equal(t, "Credenciales inválidas", env.Error.Message)
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginRejectsUnknownProfile(t *testing.T) {
	h := newHandler(t, &fakeAPI{login: upstream.LoginResult{
		Token: "t",
		User:  upstream.User{Document: "1", ProfileID: 9, Active: true},
	}})

	req := httptest.NewRequest(http.MethodPost, "/session/login", strings.NewReader(`{"documento":"1","password":"x"}`))
	rec := httptest.NewRecorder()
	routerAs(h, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutClearsCookie(t *testing.T) {
	fake := &fakeAPI{}
	h := newHandler(t, fake)
	identity := session.Identity{User: upstream.User{Document: "100", ProfileID: 1}, Credential: upstream.Credential{Bearer: "t"}}

	rec := httptest.NewRecorder()
	routerAs(h, &identity).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/logout", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fake.logoutCalls)
	assert.Equal(t, guard.LoginPath, decode(t, rec).Redirect)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestAccessDecision(t *testing.T) {
	h := newHandler(t, &fakeAPI{})
	identity := session.Identity{User: upstream.User{Document: "100", ProfileID: 1}}

	rec := httptest.NewRecorder()
	routerAs(h, &identity).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/access?path=/usuarios/editar", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var decision guard.Decision
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &decision))
	assert.False(t, decision.Allowed)
	assert.Equal(t, guard.DefaultPage, decision.Redirect)

	rec = httptest.NewRecorder()
	routerAs(h, &identity).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/access?path=usuarios", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollaboratorsRequiresEvaluator(t *testing.T) {
	fake := &fakeAPI{collabs: []upstream.Collaborator{{Document: "200", Name: "Ana"}}}
	h := newHandler(t, fake)

	colaborador := session.Identity{User: upstream.User{Document: "100", ProfileID: 1}}
	rec := httptest.NewRecorder()
	routerAs(h, &colaborador).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/collaborators", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	evaluador := session.Identity{User: upstream.User{Document: "100", ProfileID: 2}}
	rec = httptest.NewRecorder()
	routerAs(h, &evaluador).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/collaborators", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []upstream.Collaborator
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, session.Loaded, h.Directory.State("100"))
}
