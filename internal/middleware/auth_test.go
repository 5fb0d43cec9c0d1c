package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/parley/backend/internal/config"
	"github.com/zhouzirui/parley/backend/internal/logging"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, subject string, secret string, exp time.Time) string {
	t.Helper()
	b := jwt.NewBuilder().IssuedAt(time.Now()).Expiration(exp)
	if subject != "" {
		b = b.Subject(subject)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), []byte(secret)))
	require.NoError(t, err)
	return string(signed)
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserID(r.Context())))
	})
}

func TestAuthenticateWithJWT(t *testing.T) {
	h := Authenticate(config.AuthConfig{JWTSecret: testSecret, DevHeader: "X-User-ID"}, logging.Discard())(echoUser())
	valid := signToken(t, "user-42", testSecret, time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		user   string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusOK, "user-42"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: valid}) }, http.StatusOK, "user-42"},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"dev header ignored", func(r *http.Request) { r.Header.Set("X-User-ID", "spoof") }, http.StatusUnauthorized, ""},
		{"wrong secret", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, "user-42", "another-secret-another-secret!!", time.Now().Add(time.Hour)))
		}, http.StatusUnauthorized, ""},
		{"expired", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, "user-42", testSecret, time.Now().Add(-time.Hour)))
		}, http.StatusUnauthorized, ""},
		{"no subject", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, "", testSecret, time.Now().Add(time.Hour)))
		}, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			resp := httptest.NewRecorder()
			h.ServeHTTP(resp, req)
			assert.Equal(t, tt.status, resp.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.user, resp.Body.String())
			}
		})
	}
}

func TestAuthenticateWebSocketQueryToken(t *testing.T) {
	h := Authenticate(config.AuthConfig{JWTSecret: testSecret}, logging.Discard())(echoUser())
	valid := signToken(t, "ws-user", testSecret, time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/chat/ws?access_token="+valid, nil)
	req.Header.Set("Upgrade", "websocket")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	assert.Equal(t, "ws-user", resp.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/chat?access_token="+valid, nil)
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthenticateDevHeader(t *testing.T) {
	h := Authenticate(config.AuthConfig{DevHeader: "X-User-ID"}, logging.Discard())(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", " alice ")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "alice", resp.Body.String())

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
