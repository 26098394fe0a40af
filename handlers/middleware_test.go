package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"chorewheel/logging"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	dummyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	middleware := SecurityHeadersMiddleware(dummyHandler)

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	middleware.ServeHTTP(rr, req)

	expectedHeaders := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "SAMEORIGIN",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for key, expectedValue := range expectedHeaders {
		if value := rr.Header().Get(key); value != expectedValue {
			t.Errorf("Header %s: expected %s, got %s", key, expectedValue, value)
		}
	}

	csp := rr.Header().Get("Content-Security-Policy")
	expectedDirectives := []string{
		"default-src 'self'",
		"script-src 'self' 'unsafe-inline' https://unpkg.com",
		"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com",
		"font-src 'self' https://fonts.gstatic.com",
	}
	for _, directive := range expectedDirectives {
		if !strings.Contains(csp, directive) {
			t.Errorf("CSP missing directive: %s. Got: %s", directive, csp)
		}
	}

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status OK, got %v", rr.Code)
	}
}

func TestCacheControlHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	middleware := SecurityHeadersMiddleware(handler)

	req := httptest.NewRequest("GET", "/wheel", nil)
	w := httptest.NewRecorder()
	middleware.ServeHTTP(w, req)
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Expected Cache-Control: no-store for /wheel, got %q", cc)
	}

	req = httptest.NewRequest("GET", "/static/style.css", nil)
	w = httptest.NewRecorder()
	middleware.ServeHTTP(w, req)
	if cc := w.Header().Get("Cache-Control"); strings.Contains(cc, "no-store") {
		t.Errorf("Expected NO Cache-Control: no-store for /static/style.css, got %q", cc)
	}
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	dummyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	middleware := CORSMiddleware(dummyHandler)

	req := httptest.NewRequest("OPTIONS", "/api/v1/spin", nil)
	req.Header.Set("Origin", "http://example.com")
	rr := httptest.NewRecorder()
	middleware.ServeHTTP(rr, req)

	if val := rr.Header().Get("Access-Control-Allow-Origin"); val != "http://example.com" {
		t.Errorf("Expected Access-Control-Allow-Origin to be http://example.com, got %s", val)
	}
	if val := rr.Header().Get("Access-Control-Allow-Methods"); val != "POST, GET, OPTIONS, PUT, DELETE" {
		t.Errorf("Unexpected Access-Control-Allow-Methods: %s", val)
	}
	if called {
		t.Error("Preflight request must not reach the handler")
	}
}

func TestCSRFMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := CSRFMiddleware([]byte("0123456789abcdef0123456789abcdef"), false)(handler)

	t.Run("safe methods pass", func(t *testing.T) {
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, httptest.NewRequest("GET", "/setup", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
	t.Run("form post without token is rejected", func(t *testing.T) {
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, httptest.NewRequest("POST", "/spin", nil))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
	t.Run("api post is not checked", func(t *testing.T) {
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/spin", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logging.Set(zap.New(core))
	t.Cleanup(func() { logging.Set(zap.NewNop()) })

	handler := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestLogger(r).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/wheel", nil))

	id := rr.Header().Get("X-Request-ID")
	require.NotEmpty(t, id)
	require.Equal(t, 2, logs.Len())

	inside := logs.All()[0]
	assert.Equal(t, "inside", inside.Message)
	assert.Equal(t, id, inside.ContextMap()["request_id"])

	summary := logs.All()[1].ContextMap()
	assert.Equal(t, "/wheel", summary["path"])
	assert.Equal(t, int64(http.StatusTeapot), summary["status"])

	// An incoming id is kept
	rr = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc", rr.Header().Get("X-Request-ID"))
}
