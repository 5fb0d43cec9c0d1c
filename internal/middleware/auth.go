package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/parley/backend/internal/config"
	"github.com/zhouzirui/parley/backend/pkg/utils"
)

// SessionCookie carries the identity provider's access token for browser clients.
const SessionCookie = "sb-access-token"

var errMissingSubject = errors.New("token has no subject")

type userKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the authenticated user id, or "" when there is none.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// Authenticate resolves the caller's identity and rejects anonymous requests
// with 401. With a JWT secret configured the identity is the subject of an
// HS256 token from the Authorization header or the session cookie; without
// one the dev header is trusted as is.
func Authenticate(cfg config.AuthConfig, log logrus.FieldLogger) func(http.Handler) http.Handler {
	secret := []byte(cfg.JWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if cfg.Enabled() {
				raw := bearerToken(r)
				if raw == "" {
					utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
					return
				}
				subject, err := verifySubject(raw, secret)
				if err != nil {
					log.WithError(err).WithField("path", r.URL.Path).Info("[auth] token rejected")
					utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
					return
				}
				userID = subject
			} else {
				userID = strings.TrimSpace(r.Header.Get(cfg.DevHeader))
			}

			if userID == "" {
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	// Browsers cannot set headers on a WebSocket handshake.
	if websocketUpgrade(r) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func verifySubject(raw string, secret []byte) (string, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256(), secret))
	if err != nil {
		return "", err
	}
	subject, ok := tok.Subject()
	if !ok || subject == "" {
		return "", errMissingSubject
	}
	return subject, nil
}
