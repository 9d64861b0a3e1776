package server

import (
	"encoding/json"
	"fmt"
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

// fakeAnthropic serves a fixed Anthropic Messages response, capturing the
// model name sent in the request body.
func fakeAnthropic(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_abc",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-vendor",
			"content": [{"type": "text", "text": "Hello from upstream"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 5, "output_tokens": 4}
		}`)
	}))
}

func writeConfig(t *testing.T, cfg *config.Config) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	mgr := config.NewManagerWithPath(path)
	_, err = mgr.Load()
	require.NoError(t, err)
	return mgr
}

func gatewayHandler(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	mgr := writeConfig(t, cfg)
	srv := New(mgr, testLogger())
	handler, err := srv.Handler(mgr.Get())
	require.NoError(t, err)
	return handler
}

func baseConfig(upstreamURL string) *config.Config {
	var cfg config.Config
	data := fmt.Sprintf(`{
		"backends": [{
			"name": "claude",
			"vendor": "anthropic",
			"api_key": "sk-upstream",
			"base_url": %q
		}],
		"router": {"default": "claude"}
	}`, upstreamURL)
	_ = json.Unmarshal([]byte(data), &cfg)
	return &cfg
}

func TestHandler_MessagesEndToEnd(t *testing.T) {
	upstream := fakeAnthropic(t)
	defer upstream.Close()

	handler := gatewayHandler(t, baseConfig(upstream.URL))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{
		"model": "claude-3-opus",
		"max_tokens": 64,
		"messages": [{"role": "user", "content": "hi"}]
	}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "msg_abc", out["id"])
	assert.Equal(t, "claude-3-5-sonnet-vendor", out["model"])

	content := out["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "Hello from upstream", content[0].(map[string]any)["text"])
}

func TestHandler_ChatCompletionsEndToEnd(t *testing.T) {
	upstream := fakeAnthropic(t)
	defer upstream.Close()

	handler := gatewayHandler(t, baseConfig(upstream.URL))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{
		"model": "claude-3-opus",
		"messages": [{"role": "user", "content": "hi"}]
	}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "chat.completion", out["object"])

	choices := out["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "Hello from upstream", msg["content"])
}

func TestHandler_AuthEnforcement(t *testing.T) {
	upstream := fakeAnthropic(t)
	defer upstream.Close()

	cfg := baseConfig(upstream.URL)
	cfg.APIKey = "gw-secret"
	handler := gatewayHandler(t, cfg)

	body := `{"model":"m","max_tokens":10,"messages":[{"role":"user","content":"x"}]}`

	t.Run("missing credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer gw-secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health stays public", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandler_ModelsListsBackends(t *testing.T) {
	upstream := fakeAnthropic(t)
	defer upstream.Close()

	handler := gatewayHandler(t, baseConfig(upstream.URL))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	data := out["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "claude", data[0].(map[string]any)["id"])
}

func TestHandler_MetricsEndpoint(t *testing.T) {
	upstream := fakeAnthropic(t)
	defer upstream.Close()

	handler := gatewayHandler(t, baseConfig(upstream.URL))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_NoEnabledBackends(t *testing.T) {
	cfg := &config.Config{}
	mgr := writeConfig(t, cfg)
	srv := New(mgr, testLogger())

	_, err := srv.Handler(mgr.Get())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled backends configured")
}

func TestHandler_DisabledBackendSkipped(t *testing.T) {
	upstream := fakeAnthropic(t)
	defer upstream.Close()

	cfg := baseConfig(upstream.URL)
	disabled := false
	cfg.Backends = append(cfg.Backends, cfg.Backends[0])
	cfg.Backends[1].Name = "claude-disabled"
	cfg.Backends[1].Enabled = &disabled

	mgr := writeConfig(t, cfg)
	srv := New(mgr, testLogger())
	_, err := srv.Handler(mgr.Get())
	require.NoError(t, err)

	assert.True(t, srv.Registry().Has("claude"))
	assert.False(t, srv.Registry().Has("claude-disabled"))
}
