package middleware

import (
	"net/http"

	"evalportal/internal/domain/guard"
	"evalportal/internal/transport/http/api"
)

// RequireProfiles lets through only the profiles of tier. Others get a 403
// that sends them back to redirect.
func RequireProfiles(tier guard.Tier, redirect string) func(http.Handler) http.Handler {
	if redirect == "" {
		redirect = guard.DefaultPage
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r.Context())
			if !ok {
				api.FailWithRedirect(w, http.StatusUnauthorized, "session_invalid", "authentication required", guard.LoginPath, GetRequestID(r.Context()))
				return
			}
			if !tier.Allows(user.Profile()) {
				api.FailWithRedirect(w, http.StatusForbidden, "forbidden", "insufficient permissions", redirect, GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
