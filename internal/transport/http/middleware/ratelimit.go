package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"evalportal/internal/transport/http/api"
)

const loginPeekBytes = 16 << 10

// KeyFunc names the bucket a request is counted against. An empty key skips
// the limiter.
type KeyFunc func(r *http.Request) string

// Limiter is a fixed-window request limiter. Counts live in Counter so that
// several portal replicas can share them through Redis. Match restricts the
// limiter to some requests; nil matches all.
type Limiter struct {
	Name    string
	Limit   int
	Window  time.Duration
	Key     KeyFunc
	Counter Counter
	Match   func(r *http.Request) bool
}

func (l Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.allow(w, r) {
			next.ServeHTTP(w, r)
		}
	})
}

func (l Limiter) allow(w http.ResponseWriter, r *http.Request) bool {
	if l.Limit <= 0 || l.Counter == nil {
		return true
	}
	if l.Match != nil && !l.Match(r) {
		return true
	}
	key := l.Key(r)
	if key == "" {
		return true
	}

	hits, ttl, err := l.Counter.Hit(r.Context(), l.Name+":"+key, l.Window)
	if err != nil {
		slog.Warn("rate limit counter unavailable", "limiter", l.Name, "err", err)
		return true
	}

	reset := ceilSeconds(ttl)
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(l.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(l.Limit-hits, 0)))
	h.Set("X-RateLimit-Reset", strconv.Itoa(reset))
	if hits <= l.Limit {
		return true
	}

	h.Set("Retry-After", strconv.Itoa(max(reset, 1)))
	slog.Warn("rate limited",
		"limiter", l.Name,
		"key", key,
		"method", r.Method,
		"path", r.URL.Path,
		"limit", l.Limit,
	)
	api.Fail(w, http.StatusTooManyRequests, "rate_limited", "demasiadas solicitudes, intente más tarde", GetRequestID(r.Context()))
	return false
}

// RateLimit is the general per-actor limit for the API.
func RateLimit(limit int, window time.Duration, counter Counter) func(http.Handler) http.Handler {
	return Limiter{Name: "api", Limit: limit, Window: window, Key: ActorOrIP, Counter: counter}.Handler
}

// LoginRateLimit throttles login attempts per address and per document
// number at a quarter of the general limit.
func LoginRateLimit(limit int, window time.Duration, counter Counter) func(http.Handler) http.Handler {
	perAttempt := max(limit/4, 1)
	byIP := Limiter{Name: "login-ip", Limit: perAttempt, Window: window, Key: ClientIP, Counter: counter}
	byDocument := Limiter{Name: "login-doc", Limit: perAttempt, Window: window, Key: BodyField("documento"), Counter: counter}
	return func(next http.Handler) http.Handler {
		return byIP.Handler(byDocument.Handler(next))
	}
}

// MutationRateLimit throttles the writes that fan out to many upstream calls
// (bulk assignment, PDF export, follow-up saves) at half the general limit.
// It must run after authentication so the actor is known.
func MutationRateLimit(limit int, window time.Duration, counter Counter) func(http.Handler) http.Handler {
	return Limiter{
		Name:    "mutation",
		Limit:   max(limit/2, 1),
		Window:  window,
		Key:     ActorOrIP,
		Counter: counter,
		Match:   expensiveMutation,
	}.Handler
}

var expensiveRoutes = []struct {
	prefix string
	exact  bool
}{
	{prefix: "/assignments/bulk", exact: true},
	{prefix: "/reports/pdfs", exact: true},
	{prefix: "/followup/"},
}

func expensiveMutation(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	for _, route := range expensiveRoutes {
		if route.exact && path == route.prefix {
			return true
		}
		if !route.exact && strings.HasPrefix(path, route.prefix) {
			return true
		}
	}
	return false
}

func ActorOrIP(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.ID() != "" {
		return "user:" + user.ID()
	}
	return ClientIP(r)
}

// ClientIP is the first X-Forwarded-For hop, or the peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}

// BodyField keys by a string field of a JSON body, falling back to the client
// address. The body is restored for the next handler.
func BodyField(field string) KeyFunc {
	return func(r *http.Request) string {
		if value := peekJSONString(r, field); value != "" {
			return field + ":" + strings.ToLower(value)
		}
		return ClientIP(r)
	}
}

func peekJSONString(r *http.Request, field string) string {
	if r.Body == nil || !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "json") {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, loginPeekBytes))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))

	var payload map[string]json.RawMessage
	if json.Unmarshal(raw, &payload) != nil {
		return ""
	}
	var value string
	if json.Unmarshal(payload[field], &value) != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
