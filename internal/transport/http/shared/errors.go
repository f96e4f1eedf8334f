package shared

import (
	"errors"
	"log/slog"
	"net/http"

	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/session"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/upstream"
)

// FailUpstream maps an error from the evaluation API onto the envelope:
// rejected credentials become a 401 to the login page, client errors keep
// their status and the API's message, everything else is a 502.
func FailUpstream(w http.ResponseWriter, err error, code, message, requestID string) {
	if errors.Is(err, session.ErrInvalidSession) || upstream.IsHTTPError(err, http.StatusUnauthorized) {
		api.FailWithRedirect(w, http.StatusUnauthorized, "session_invalid", "session is not valid", guard.LoginPath, requestID)
		return
	}
	var he *upstream.HTTPError
	if errors.As(err, &he) && he.Status >= 400 && he.Status < 500 {
		api.Fail(w, he.Status, code, upstream.Message(err, message), requestID)
		return
	}
	slog.Warn(code, "err", err, "requestId", requestID)
	api.Fail(w, http.StatusBadGateway, code, message, requestID)
}
