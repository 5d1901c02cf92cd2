package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/qoshimcha/support-chat-go/internal/audit"
	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/httputil"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/service"
)

const SessionTokenHeader = model.SessionTokenHeader

type SessionAuthenticator interface {
	Authenticate(ctx context.Context, credential string) (*model.Session, error)
}

type StaffAuthenticator interface {
	Authenticate(ctx context.Context, token string) (model.Identity, error)
}

func GetIdentity(ctx context.Context) (model.Identity, bool) {
	return service.IdentityFromContext(ctx)
}

// AuthMiddleware resolves the caller to a model.Identity. Visitors present
// their session credential, staff a bearer token.
type AuthMiddleware struct {
	sessions SessionAuthenticator
	staff    StaffAuthenticator
}

func NewAuthMiddleware(sessions SessionAuthenticator, staff StaffAuthenticator) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, staff: staff}
}

func (m *AuthMiddleware) Visitor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := extractSessionToken(r)
		if credential == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing session credential"))
			return
		}
		m.serveVisitor(w, r, next, credential)
	})
}

func (m *AuthMiddleware) Staff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing staff token"))
			return
		}
		m.serveStaff(w, r, next, token)
	})
}

// Any accepts either kind of caller, preferring the session credential.
func (m *AuthMiddleware) Any(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if credential := extractSessionToken(r); credential != "" {
			m.serveVisitor(w, r, next, credential)
			return
		}
		if token := extractBearerToken(r); token != "" {
			m.serveStaff(w, r, next, token)
			return
		}
		httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
	})
}

func (m *AuthMiddleware) serveVisitor(w http.ResponseWriter, r *http.Request, next http.Handler, credential string) {
	session, err := m.sessions.Authenticate(r.Context(), credential)
	if err != nil {
		m.reject(w, r, "visitor", err)
		return
	}

	ctx := service.WithIdentity(r.Context(), model.VisitorIdentity(session.ID))
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *AuthMiddleware) serveStaff(w http.ResponseWriter, r *http.Request, next http.Handler, token string) {
	identity, err := m.staff.Authenticate(r.Context(), token)
	if err != nil {
		m.reject(w, r, "staff", err)
		return
	}

	ctx := service.WithIdentity(r.Context(), identity)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, kind string, err error) {
	if apperrors.IsUnauthorized(err) {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventAuthFailure,
			Details: map[string]interface{}{"kind": kind, "path": r.URL.Path},
		})
	} else {
		log.Error().Err(err).Str("kind", kind).Msg("auth middleware: lookup failed")
	}
	httputil.WriteError(w, err)
}

// Browsers cannot set headers on EventSource or WebSocket requests, so both
// tokens are also accepted as query parameters.
func extractSessionToken(r *http.Request) string {
	if token := r.Header.Get(SessionTokenHeader); token != "" {
		return token
	}
	return r.URL.Query().Get("session_token")
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
