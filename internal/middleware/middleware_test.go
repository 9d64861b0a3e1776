package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func managerWithKey(t *testing.T, apiKey string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"backends": [], "router": {}}`
	if apiKey != "" {
		body = `{"api_key": "` + apiKey + `", "backends": [], "router": {}}`
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	m := config.NewManagerWithPath(path)
	_, err := m.Load()
	require.NoError(t, err)
	return m
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestAuthMiddleware_OpenAccessWithoutConfiguredKey(t *testing.T) {
	mw := NewAuthMiddleware(managerWithKey(t, ""), testLogger())

	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_AcceptedCredentials(t *testing.T) {
	mw := NewAuthMiddleware(managerWithKey(t, "sekret"), testLogger())

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"bearer token", "Authorization", "Bearer sekret", http.StatusOK},
		{"vendor header", "x-api-key", "sekret", http.StatusOK},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"wrong vendor key", "x-api-key", "nope", http.StatusUnauthorized},
		{"missing credentials", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			mw(okHandler()).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestLoggingMiddleware_SetsRequestID(t *testing.T) {
	mw := NewLoggingMiddleware(testLogger())

	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("X-Request-Id")
	assert.True(t, strings.HasPrefix(id, "req_"), "got %q", id)
}

func TestChain_AppliesInOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	chain := New(tag("outer")).Then(tag("inner"))
	rec := httptest.NewRecorder()
	chain.Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestSet_DefaultChainEnforcesAuth(t *testing.T) {
	set := NewSet(managerWithKey(t, "sekret"), testLogger())

	rec := httptest.NewRecorder()
	set.DefaultChain().Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// the public chain carries logging only
	rec = httptest.NewRecorder()
	set.PublicChain().Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
