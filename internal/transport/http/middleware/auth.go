package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/session"
	"evalportal/internal/transport/http/api"
)

type ctxKey string

const ctxKeyUser ctxKey = "user"

// SessionConfig names the cookies involved in resolving a caller.
type SessionConfig struct {
	// Cookie is the portal's own session cookie.
	Cookie string
	// APICookie is the evaluation API's session cookie, accepted as a fallback.
	APICookie string
	Secure    bool
}

// Authenticator resolves the caller from, in order, the portal session
// cookie, the API's cookie and the bearer token.
type Authenticator struct {
	tokens   *session.Tokens
	verifier *session.Verifier
	cfg      SessionConfig
}

func NewAuthenticator(tokens *session.Tokens, verifier *session.Verifier, cfg SessionConfig) *Authenticator {
	return &Authenticator{tokens: tokens, verifier: verifier, cfg: cfg}
}

// Resolve reports the identity and whether it came from the portal cookie.
func (a *Authenticator) Resolve(r *http.Request) (session.Identity, bool, error) {
	if c, err := r.Cookie(a.cfg.Cookie); err == nil && c.Value != "" {
		identity, err := a.tokens.Parse(c.Value)
		if err == nil {
			return identity, true, nil
		}
		slog.Debug("session cookie rejected", "err", err)
	}

	apiCookie := ""
	if c, err := r.Cookie(a.cfg.APICookie); err == nil {
		apiCookie = c.Value
	}
	bearer := session.BearerToken(r.Header.Get("Authorization"))
	if apiCookie == "" && bearer == "" {
		return session.Identity{}, false, session.ErrInvalidSession
	}
	identity, err := a.verifier.Verify(r.Context(), apiCookie, bearer)
	if err != nil {
		return session.Identity{}, false, err
	}
	return identity, false, nil
}

// Middleware rejects anonymous calls with a 401 pointing at the login page.
// A caller verified against the API gets a fresh portal cookie.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, fromCookie, err := a.Resolve(r)
		if err != nil {
			if !errors.Is(err, session.ErrInvalidSession) {
				slog.Warn("session resolve failed", "err", err)
			}
			a.ClearCookie(w)
			api.FailWithRedirect(w, http.StatusUnauthorized, "session_invalid", "session is not valid", guard.LoginPath, GetRequestID(r.Context()))
			return
		}
		if !fromCookie {
			if err := a.IssueCookie(w, identity); err != nil {
				slog.Warn("session cookie issue failed", "err", err)
			}
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), identity)))
	})
}

func (a *Authenticator) IssueCookie(w http.ResponseWriter, identity session.Identity) error {
	token, err := a.tokens.Generate(identity)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.Cookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.tokens.TTL() / time.Second),
		HttpOnly: true,
		Secure:   a.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (a *Authenticator) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.Cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func WithUser(ctx context.Context, identity session.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyUser, identity)
}

func GetUser(ctx context.Context) (session.Identity, bool) {
	user, ok := ctx.Value(ctxKeyUser).(session.Identity)
	return user, ok
}
