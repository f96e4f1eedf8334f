// Package upstream is the HTTP client for the evaluation API. The API owns all
// business rules and persistence; this package only moves JSON in and out of it.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"evalportal/internal/requestctx"
)

// Observer receives one sample per API call.
type Observer interface {
	ObserveUpstream(method, endpoint string, status int, duration time.Duration)
}

// Credential identifies the end user to the API: the session cookie issued by
// the API, or the bearer token the SPA kept in local storage.
type Credential struct {
	Cookie string
	Bearer string
}

func (c Credential) Empty() bool {
	return strings.TrimSpace(c.Cookie) == "" && strings.TrimSpace(c.Bearer) == ""
}

type Client struct {
	baseURL    string
	cookieName string
	http       *http.Client
	observer   Observer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

func New(baseURL, cookieName string, timeout time.Duration, opts ...Option) *Client {
	if cookieName == "" {
		cookieName = "token"
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cookieName: cookieName,
		http:       &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPError wraps non-2xx responses so callers can branch on status.
type HTTPError struct {
	Status  int
	Message string
	Body    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Body)
}

func IsHTTPError(err error, status int) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == status
	}
	return false
}

func IsUnauthorized(err error) bool {
	return IsHTTPError(err, http.StatusUnauthorized) || IsHTTPError(err, http.StatusForbidden)
}

// IsDuplicate reports the API's "already registered" answer for a resubmission.
func IsDuplicate(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	if he.Status == http.StatusConflict {
		return true
	}
	if he.Status != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(he.Message + " " + he.Body)
	for _, marker := range duplicateMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var duplicateMarkers = []string{
	"ya registrad",
	"ya fue registrad",
	"ya fueron registrad",
	"ya existe",
	"duplicad",
	"already registered",
	"already exists",
	"duplicate",
}

// Message returns the API supplied message for err, or fallback.
func Message(err error, fallback string) string {
	var he *HTTPError
	if errors.As(err, &he) && strings.TrimSpace(he.Message) != "" {
		return he.Message
	}
	return fallback
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// DoJSON sends in as JSON and decodes the response into out. Responses shaped
// as {data, message} are unwrapped; anything else is decoded as-is.
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, cred Credential, in, out any) error {
	resp, err := c.do(ctx, method, path, query, cred, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read api response %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return decodeBody(body, out)
}

// Stream returns the raw response for binary downloads. The caller closes the body.
func (c *Client) Stream(ctx context.Context, method, path string, query url.Values, cred Credential, in any) (*http.Response, error) {
	resp, err := c.do(ctx, method, path, query, cred, in)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, newHTTPError(resp.StatusCode, body)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, cred Credential, in any) (*http.Response, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode api request %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred.Cookie != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: cred.Cookie})
	}
	if cred.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Bearer)
	}
	if id := requestctx.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if ip := requestctx.GetClientIP(ctx); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observer != nil {
		c.observer.ObserveUpstream(method, metricPath(path), status, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("api request %s %s: %w", method, path, err)
	}
	return resp, nil
}

func newHTTPError(status int, body []byte) *HTTPError {
	he := &HTTPError{Status: status, Body: strings.TrimSpace(string(body))}
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		he.Message = strings.TrimSpace(env.Message)
		if he.Message == "" {
			he.Message = strings.TrimSpace(env.Error)
		}
	}
	return he
}

func decodeBody(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err == nil {
			if data, ok := probe["data"]; ok {
				if len(data) == 0 || string(data) == "null" {
					return nil
				}
				return json.Unmarshal(data, out)
			}
		}
	}
	return json.Unmarshal(trimmed, out)
}

// metricPath keeps the first path segment so ids do not explode label cardinality.
func metricPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) >= 2 && !looksLikeID(parts[1]) {
		return "/" + parts[0] + "/" + parts[1]
	}
	return "/" + parts[0]
}

func looksLikeID(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}
