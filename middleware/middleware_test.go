package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthassist/session"
)

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestChainOrder(t *testing.T) {
	var calls []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(ok), tag("first"), tag("second"), tag("third"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestCORS(t *testing.T) {
	h := CORS(map[string]struct{}{"http://localhost:3001": {}})(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodOptions, "/api/track", nil)
	req.Header.Set("Origin", "http://localhost:3001")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3001", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-User-Id")

	req = httptest.NewRequest(http.MethodGet, "/api/track", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2, nil)(http.HandlerFunc(ok))

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{name: "direct", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "header from untrusted peer is ignored", remote: "192.0.2.1:1234", forwarded: "203.0.113.9", want: "192.0.2.1"},
		{name: "trusted proxy", remote: "10.0.0.5:80", forwarded: "203.0.113.9", want: "203.0.113.9"},
		{name: "spoofed leftmost hop", remote: "10.0.0.5:80", forwarded: "1.2.3.4, 203.0.113.9", want: "203.0.113.9"},
		{name: "chained proxies", remote: "10.0.0.5:80", forwarded: "203.0.113.9, 10.0.0.7", want: "203.0.113.9"},
		{name: "trusted proxy without header", remote: "10.0.0.5:80", want: "10.0.0.5"},
		{name: "garbage hop", remote: "10.0.0.5:80", forwarded: "not-an-ip", want: "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, clientIP(req, proxies))
		})
	}
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	h := RateLimit(1, 1, nil)(http.HandlerFunc(ok))

	codes := make([]int, 0, 3)
	for i := range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestRecover(t *testing.T) {
	h := Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error","kind":"internal"}`, rec.Body.String())
}

func TestSession(t *testing.T) {
	sm := session.NewManager(30, 15, false)

	login := httptest.NewRecorder()
	_, err := sm.Login(login, httptest.NewRequest(http.MethodPost, "/api/login", nil), session.User{ID: "ann@example.com", Email: "ann@example.com"})
	require.NoError(t, err)
	cookies := login.Result().Cookies()
	require.NotEmpty(t, cookies)

	var seen *session.User
	h := Session(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = session.UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, "ann@example.com", seen.ID)

	seen = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/user", nil))
	assert.Nil(t, seen)
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	var pattern string
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	capture := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			pattern = r.Pattern
		})
	}

	h := Chain(mux, Metrics(), capture)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET /items/{id}", pattern)
}
