package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"evalportal/internal/platform/crypto"
	"evalportal/internal/upstream"
)

type Claims struct {
	UserID    string `json:"uid"`
	ProfileID int    `json:"pid"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	JobLevel  string `json:"lvl,omitempty"`
	// Credential is the sealed upstream credential.
	Credential string `json:"cred"`
	Bearer     bool   `json:"brr,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and reads the portal session cookie.
type Tokens struct {
	secret []byte
	sealer *crypto.Sealer
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, sealer *crypto.Sealer, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), sealer: sealer, ttl: ttl, now: time.Now}
}

func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

func (t *Tokens) Generate(identity Identity) (string, error) {
	raw, bearer := identity.Credential.Cookie, false
	if raw == "" {
		raw, bearer = identity.Credential.Bearer, true
	}
	sealed, err := t.sealer.SealString(raw)
	if err != nil {
		return "", err
	}
	now := t.now()
	claims := Claims{
		UserID:     identity.User.Document,
		ProfileID:  identity.User.ProfileID,
		Name:       identity.User.Name,
		Email:      identity.User.Email,
		JobLevel:   identity.User.JobLevel,
		Credential: sealed,
		Bearer:     bearer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.User.Document,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

func (t *Tokens) Parse(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return Identity{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Identity{}, errors.New("invalid token")
	}
	raw, err := t.sealer.OpenString(claims.Credential)
	if err != nil {
		return Identity{}, err
	}
	identity := Identity{
		User: upstream.User{
			Document:  claims.UserID,
			Name:      claims.Name,
			Email:     claims.Email,
			ProfileID: claims.ProfileID,
			JobLevel:  claims.JobLevel,
			Active:    true,
		},
	}
	if claims.Bearer {
		identity.Credential.Bearer = raw
	} else {
		identity.Credential.Cookie = raw
	}
	return identity, nil
}
