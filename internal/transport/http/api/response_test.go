package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFailWithRedirect(t *testing.T) {
	rr := httptest.NewRecorder()
	FailWithRedirect(rr, http.StatusUnauthorized, "session_invalid", "session expired", "/login", "req-1")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success || env.Error == nil || env.Error.Code != "session_invalid" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Redirect != "/login" || env.Error.Redirect != "/login" {
		t.Fatalf("expected redirect /login, got %q / %q", env.Redirect, env.Error.Redirect)
	}
	if env.RequestID != "req-1" {
		t.Fatalf("expected request id, got %q", env.RequestID)
	}
}

func TestSuccessOmitsError(t *testing.T) {
	rr := httptest.NewRecorder()
	Success(rr, map[string]int{"n": 1}, "")

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var raw map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := raw["error"]; ok {
		t.Fatalf("error should be omitted: %v", raw)
	}
	if raw["success"] != true {
		t.Fatalf("expected success true: %v", raw)
	}
}
