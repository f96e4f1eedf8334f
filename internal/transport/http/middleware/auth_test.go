package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/session"
	"evalportal/internal/platform/crypto"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/upstream"
)

type stubVerifyAPI struct {
	users map[upstream.Credential]upstream.User
	calls int
}

func (s *stubVerifyAPI) Verify(_ context.Context, cred upstream.Credential) (upstream.User, error) {
	s.calls++
	if user, ok := s.users[cred]; ok {
		return user, nil
	}
	return upstream.User{}, &upstream.HTTPError{Status: http.StatusUnauthorized}
}

func newTestAuthenticator(t *testing.T, stub *stubVerifyAPI) *Authenticator {
	t.Helper()
	sealer, err := crypto.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	tokens := session.NewTokens("test-secret", sealer, time.Hour)
	return NewAuthenticator(tokens, session.NewVerifier(stub), SessionConfig{Cookie: "evalportal_session", APICookie: "token"})
}

func TestAuthMiddlewareVerifiesBearerAndIssuesCookie(t *testing.T) {
	stub := &stubVerifyAPI{users: map[upstream.Credential]upstream.User{
		{Bearer: "b1"}: {Document: "100", ProfileID: 2, Name: "Eva"},
	}}
	auth := newTestAuthenticator(t, stub)

	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUser(r.Context())
		if !ok {
			t.Fatal("expected user in context")
		}
		if user.ID() != "100" || user.Profile() != session.ProfileEvaluador {
			t.Fatalf("unexpected user: %+v", user)
		}
		if user.Credential.Bearer != "b1" {
			t.Fatalf("expected bearer credential, got %+v", user.Credential)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer b1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "evalportal_session" || cookies[0].Value == "" || !cookies[0].HttpOnly {
		t.Fatalf("expected session cookie, got %+v", cookies)
	}

	// The issued cookie alone is enough for the next call.
	next := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	next.AddCookie(cookies[0])
	nextRec := httptest.NewRecorder()
	handler.ServeHTTP(nextRec, next)
	if nextRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with session cookie, got %d", nextRec.Code)
	}
	if stub.calls != 1 {
		t.Fatalf("expected a single upstream verification, got %d", stub.calls)
	}
	if len(nextRec.Result().Cookies()) != 0 {
		t.Fatal("did not expect a new cookie when the session cookie was valid")
	}
}

func TestAuthMiddlewareFallsBackFromCookieToBearer(t *testing.T) {
	stub := &stubVerifyAPI{users: map[upstream.Credential]upstream.User{
		{Bearer: "good"}: {Document: "7", ProfileID: 1},
	}}
	auth := newTestAuthenticator(t, stub)
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "expired"})
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected bearer fallback to pass, got %d", rec.Code)
	}
	if stub.calls != 2 {
		t.Fatalf("expected cookie then bearer verification, got %d calls", stub.calls)
	}
}

func TestAuthMiddlewareRejectsWithLoginRedirect(t *testing.T) {
	auth := newTestAuthenticator(t, &stubVerifyAPI{})
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "evalportal_session", Value: "garbage"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var env api.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error == nil || env.Error.Code != "session_invalid" || env.Redirect != guard.LoginPath {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

func TestRequireProfiles(t *testing.T) {
	handler := RequireProfiles(guard.TierAdmin, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		ctx    context.Context
		status int
	}{
		{"anonymous", context.Background(), http.StatusUnauthorized},
		{"evaluator", userContext("2", 2), http.StatusForbidden},
		{"admin", userContext("3", 3), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil).WithContext(tc.ctx)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.status == http.StatusForbidden {
				var env api.Envelope
				_ = json.Unmarshal(rec.Body.Bytes(), &env)
				if env.Redirect != guard.DefaultPage {
					t.Fatalf("expected redirect to default page, got %q", env.Redirect)
				}
			}
		})
	}
}

func TestBodyLimitRejectsDeclaredOversize(t *testing.T) {
	handler := BodyLimit(1024)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.ContentLength = 4096
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

type countingRecorder struct {
	statuses []int
}

func (c *countingRecorder) Record(_ string, status int, _ time.Duration) {
	c.statuses = append(c.statuses, status)
}

func TestLoggerRecordsStatus(t *testing.T) {
	metrics := &countingRecorder{}
	handler := Logger(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(metrics.statuses) != 1 || metrics.statuses[0] != http.StatusTeapot {
		t.Fatalf("unexpected statuses: %v", metrics.statuses)
	}
}
