package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/consult-session-go/internal/audit"
	apperrors "github.com/openclaw/consult-session-go/internal/errors"
	"github.com/openclaw/consult-session-go/internal/util"
)

// ServiceAuthMiddleware admits callers presenting the shared service API key
// as a bearer token. Collaborating services (job matching, presence,
// payments) are its only clients.
type ServiceAuthMiddleware struct {
	keyHash string
}

// NewServiceAuthMiddleware returns a middleware for apiKey. An empty key
// disables the check, which config validation forbids in production.
func NewServiceAuthMiddleware(apiKey string) *ServiceAuthMiddleware {
	if apiKey == "" {
		log.Warn().Msg("SERVICE_API_KEY is empty: session API is unauthenticated")
		return &ServiceAuthMiddleware{}
	}
	return &ServiceAuthMiddleware{keyHash: util.HashToken(apiKey)}
}

func (m *ServiceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.keyHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		// Compare digests so the comparison time does not depend on key length.
		if !util.ConstantTimeEqual(util.HashToken(token), m.keyHash) {
			log.Warn().
				Str("token", util.MaskToken(token)).
				Str("path", r.URL.Path).
				Msg("auth middleware: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]any{"path": r.URL.Path},
			})
			writeError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
