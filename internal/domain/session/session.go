// Package session resolves who is calling: it verifies credentials against the
// evaluation API, mints the portal's own session token, and keeps the typed
// directory of each evaluator's collaborators.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"evalportal/internal/upstream"
)

var ErrInvalidSession = errors.New("invalid session")

type Profile int

const (
	ProfileColaborador Profile = 1
	ProfileEvaluador   Profile = 2
	ProfileAdmin       Profile = 3
)

func (p Profile) String() string {
	switch p {
	case ProfileColaborador:
		return "colaborador"
	case ProfileEvaluador:
		return "evaluador"
	case ProfileAdmin:
		return "admin"
	default:
		return "perfil_" + strconv.Itoa(int(p))
	}
}

func (p Profile) Valid() bool {
	return p >= ProfileColaborador && p <= ProfileAdmin
}

// Identity is an authenticated user plus the credential used to call the API
// on their behalf.
type Identity struct {
	User       upstream.User
	Credential upstream.Credential
}

func (i Identity) ID() string {
	return i.User.Document
}

func (i Identity) Profile() Profile {
	return Profile(i.User.ProfileID)
}

func (i Identity) IsAdmin() bool {
	return i.Profile() == ProfileAdmin
}

type VerifyAPI interface {
	Verify(ctx context.Context, cred upstream.Credential) (upstream.User, error)
}

type Verifier struct {
	api VerifyAPI
}

func NewVerifier(api VerifyAPI) *Verifier {
	return &Verifier{api: api}
}

// Verify checks the cookie credential first and falls back to the bearer
// token. Any failure, including network errors, yields ErrInvalidSession.
func (v *Verifier) Verify(ctx context.Context, cookieToken, bearerToken string) (Identity, error) {
	candidates := []upstream.Credential{
		{Cookie: strings.TrimSpace(cookieToken)},
		{Bearer: strings.TrimSpace(bearerToken)},
	}
	for _, cred := range candidates {
		if cred.Empty() {
			continue
		}
		user, err := v.api.Verify(ctx, cred)
		if err != nil {
			if !upstream.IsUnauthorized(err) {
				slog.Warn("session verify failed", "err", err)
			}
			continue
		}
		if strings.TrimSpace(user.Document) == "" || !Profile(user.ProfileID).Valid() {
			continue
		}
		return Identity{User: user, Credential: cred}, nil
	}
	return Identity{}, ErrInvalidSession
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
