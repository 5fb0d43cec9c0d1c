package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/parley/backend/internal/config"
	"github.com/zhouzirui/parley/backend/internal/logging"
	"github.com/zhouzirui/parley/backend/internal/metrics"
	"github.com/zhouzirui/parley/backend/internal/model/catalog"
	"github.com/zhouzirui/parley/backend/internal/repository"
	"github.com/zhouzirui/parley/backend/internal/service/ai"
	"github.com/zhouzirui/parley/backend/internal/service/ai/aitest"
	chatService "github.com/zhouzirui/parley/backend/internal/service/chat"
	settingsService "github.com/zhouzirui/parley/backend/internal/service/settings"
)

func newTestRouter(t *testing.T, ping func() error) http.Handler {
	t.Helper()
	store, err := repository.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		Server:   config.ServerConfig{AllowedOrigins: []string{"https://app.example"}},
		Auth:     config.AuthConfig{DevHeader: "X-User-ID"},
		Security: config.SecurityConfig{RateLimitRPS: 0.001, RateLimitBurst: 1},
	}
	log := logging.Discard()
	cat := catalog.MustBuiltin()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	model := &aitest.Model{Chunks: []string{"hi"}}
	resolver := ai.NewResolver(cat, config.AIConfig{MaxTokens: 64}, ai.WithBuilder("ollama", model.Builder(nil)))

	if ping == nil {
		ping = store.Ping
	}
	return NewRouter(Deps{
		Config:       cfg,
		Log:          log,
		Catalog:      cat,
		Orchestrator: chatService.NewOrchestrator(store, resolver, m, log, 40),
		History:      chatService.NewService(store, log),
		Settings:     settingsService.NewService(store, cat, nil, log),
		Gatherer:     reg,
		Ping:         ping,
	})
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHealthz(t *testing.T) {
	resp := serve(newTestRouter(t, nil), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	down := newTestRouter(t, func() error { return errors.New("closed") })
	resp = serve(down, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestCatalogIsPublicAndAPIIsNot(t *testing.T) {
	r := newTestRouter(t, nil)

	resp := serve(r, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	for _, target := range []string{"/api/sessions", "/api/settings", "/api/messages?sessionId=s1"} {
		resp = serve(r, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, resp.Code, target)
	}
}

func TestTurnsAreRateLimited(t *testing.T) {
	r := newTestRouter(t, nil)

	post := func(user, session string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat?id="+session, strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
		req.Header.Set("X-User-ID", user)
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, post("u1", "s1"))
	assert.Equal(t, http.StatusTooManyRequests, post("u1", "s1"))
	assert.Equal(t, http.StatusOK, post("u2", "s2"))

	// Reads are not limited.
	req := httptest.NewRequest(http.MethodGet, "/api/messages?sessionId=s1", nil)
	req.Header.Set("X-User-ID", "u1")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestMetricsExposeTurns(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat?id=s1", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("X-User-ID", "u1")
	require.Equal(t, http.StatusOK, serve(r, req).Code)

	resp := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `parley_chat_turns_total{outcome="completed",provider="ollama"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example")
	resp := serve(r, req)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "https://app.example", resp.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp = serve(r, req)
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}
