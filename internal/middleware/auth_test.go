package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/model"
)

const testSessionID = "9e2d4b1a-7c3f-4a5e-8b6d-1f0e2d3c4b5a"

type fakeSessions struct {
	sessions map[string]*model.Session
	err      error
}

func (f *fakeSessions) Authenticate(ctx context.Context, credential string) (*model.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if session, ok := f.sessions[credential]; ok {
		return session, nil
	}
	return nil, apperrors.InvalidToken("Invalid session credential")
}

type fakeStaff struct{}

func (fakeStaff) Authenticate(ctx context.Context, token string) (model.Identity, error) {
	if token == "dilnoza.secret" {
		return model.StaffIdentity("dilnoza"), nil
	}
	return model.Identity{}, apperrors.InvalidToken("Invalid staff token")
}

func newTestAuth() *AuthMiddleware {
	return NewAuthMiddleware(&fakeSessions{
		sessions: map[string]*model.Session{"visitor-credential": {ID: testSessionID}},
	}, fakeStaff{})
}

func identityEcho(t *testing.T, got *model.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentity(r.Context())
		assert.True(t, ok)
		*got = identity
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Visitor(t *testing.T) {
	auth := newTestAuth()

	t.Run("accepts header credential", func(t *testing.T) {
		var identity model.Identity
		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set(SessionTokenHeader, "visitor-credential")
		rec := httptest.NewRecorder()

		auth.Visitor(identityEcho(t, &identity)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.VisitorIdentity(testSessionID), identity)
	})

	t.Run("accepts query credential", func(t *testing.T) {
		var identity model.Identity
		req := httptest.NewRequest("GET", "/?session_token=visitor-credential", nil)
		rec := httptest.NewRecorder()

		auth.Visitor(identityEcho(t, &identity)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects missing and unknown credentials", func(t *testing.T) {
		for _, credential := range []string{"", "stolen"} {
			req := httptest.NewRequest("POST", "/", nil)
			if credential != "" {
				req.Header.Set(SessionTokenHeader, credential)
			}
			rec := httptest.NewRecorder()

			auth.Visitor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			})).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("staff token is not a visitor credential", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set("Authorization", "Bearer dilnoza.secret")
		rec := httptest.NewRecorder()

		auth.Visitor(http.NotFoundHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("store failure is a server error", func(t *testing.T) {
		failing := NewAuthMiddleware(&fakeSessions{err: apperrors.Database(errors.New("down"))}, fakeStaff{})
		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set(SessionTokenHeader, "visitor-credential")
		rec := httptest.NewRecorder()

		failing.Visitor(http.NotFoundHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestAuthMiddleware_Staff(t *testing.T) {
	auth := newTestAuth()

	t.Run("accepts bearer token", func(t *testing.T) {
		var identity model.Identity
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer dilnoza.secret")
		rec := httptest.NewRecorder()

		auth.Staff(identityEcho(t, &identity)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, identity.IsStaff())
		assert.Equal(t, "dilnoza", identity.StaffID)
	})

	t.Run("visitor credential is not a staff token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(SessionTokenHeader, "visitor-credential")
		rec := httptest.NewRecorder()

		auth.Staff(http.NotFoundHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?token=dilnoza.wrong", nil)
		rec := httptest.NewRecorder()

		auth.Staff(http.NotFoundHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthMiddleware_Any(t *testing.T) {
	auth := newTestAuth()

	var identity model.Identity
	req := httptest.NewRequest("GET", "/?token=dilnoza.secret", nil)
	rec := httptest.NewRecorder()
	auth.Any(identityEcho(t, &identity)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.IdentityStaff, identity.Kind)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(SessionTokenHeader, "visitor-credential")
	rec = httptest.NewRecorder()
	auth.Any(identityEcho(t, &identity)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.IdentityVisitor, identity.Kind)

	req = httptest.NewRequest("GET", "/", nil)
	rec = httptest.NewRecorder()
	auth.Any(http.NotFoundHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
