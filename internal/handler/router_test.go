package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/fanout"
	"github.com/qoshimcha/support-chat-go/internal/httputil"
	"github.com/qoshimcha/support-chat-go/internal/middleware"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/repository"
	"github.com/qoshimcha/support-chat-go/internal/service"
	"github.com/qoshimcha/support-chat-go/internal/util"
)

const (
	testStaffToken = "dilnoza.test-secret"
	unknownID      = "00000000-0000-4000-8000-000000000000"
)

type testEnv struct {
	router http.Handler
	broker *fanout.Broker
	store  *repository.MemoryStore
}

func newTestEnv(t *testing.T, createLimit int) *testEnv {
	t.Helper()

	hash, err := util.HashSecret("test-secret", 4)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	broker := fanout.NewBroker(fanout.NewMemoryTransport())
	t.Cleanup(broker.Close)

	staff := service.NewStaffDirectory(map[string]string{"dilnoza": hash})
	sessions := service.NewSessionService(store.Sessions())
	ledger := service.NewLedgerService(store.Messages(), sessions, staff, broker, 4000)

	router := NewRouter(RouterDeps{
		SessionService:           sessions,
		LedgerService:            ledger,
		StaffDirectory:           staff,
		Broker:                   broker,
		Limiter:                  middleware.NewMemoryLimiter(),
		CreateSessionLimitPerMin: createLimit,
		SendMessageLimitPerMin:   100,
	})

	return &testEnv{router: router, broker: broker, store: store}
}

type requestOption func(*http.Request)

func withCredential(credential string) requestOption {
	return func(r *http.Request) { r.Header.Set(middleware.SessionTokenHeader, credential) }
}

func withStaff(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:5555"
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) createSession(t *testing.T, first, last string) model.CreateSessionResult {
	t.Helper()
	rec := e.do(t, "POST", "/v1/chat/sessions", map[string]string{"firstName": first, "lastName": last})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.CreateSessionResult](t, rec)
}

func (e *testEnv) visitorSend(t *testing.T, created model.CreateSessionResult, content string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, "POST", "/v1/chat/sessions/"+created.Session.ID+"/messages",
		map[string]string{"content": content}, withCredential(created.Credential))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 10)

	rec := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t, 10)
	router := NewRouter(RouterDeps{
		SessionService: service.NewSessionService(env.store.Sessions()),
		StaffDirectory: service.NewStaffDirectory(nil),
		Broker:         env.broker,
		Limiter:        middleware.NewMemoryLimiter(),
		Ping:           func(ctx context.Context) error { return assert.AnError },
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChat_CreateSession(t *testing.T) {
	env := newTestEnv(t, 10)

	rec := env.do(t, "POST", "/v1/chat/sessions", map[string]string{"firstName": " Ali ", "lastName": "Valiyev"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "credential_hash")
	assert.NotContains(t, rec.Body.String(), "credentialHash")

	result := decode[model.CreateSessionResult](t, rec)
	assert.Equal(t, "Ali", result.Session.FirstName)
	assert.True(t, result.Session.IsActive)
	assert.Len(t, result.Credential, 64)
	assert.True(t, util.IsValidUUID(result.Session.ID))
}

func TestChat_CreateSessionValidation(t *testing.T) {
	env := newTestEnv(t, 10)

	rec := env.do(t, "POST", "/v1/chat/sessions", map[string]string{"firstName": "", "lastName": "Valiyev"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/v1/chat/sessions", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	count := 0
	for range env.store.Sessions().ListByUpdatedAt(context.Background()) {
		count++
	}
	assert.Zero(t, count)
}

func TestChat_OversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t, 10)
	name := strings.Repeat("a", middleware.DefaultMaxBodySize)

	rec := env.do(t, "POST", "/v1/chat/sessions", map[string]string{"firstName": name, "lastName": "Valiyev"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, apperrors.ErrCodePayloadTooLarge, decode[httputil.ErrorResponse](t, rec).Code)

	// Without a declared length the limit trips while decoding.
	body := io.MultiReader(strings.NewReader(`{"firstName":"`), strings.NewReader(name), strings.NewReader(`","lastName":"Valiyev"}`))
	req := httptest.NewRequest("POST", "/v1/chat/sessions", body)
	require.Equal(t, int64(-1), req.ContentLength)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, apperrors.ErrCodePayloadTooLarge, decode[httputil.ErrorResponse](t, rec).Code)
}

func TestChat_CreateSessionRateLimited(t *testing.T) {
	env := newTestEnv(t, 2)

	env.createSession(t, "Ali", "Valiyev")
	env.createSession(t, "Ali", "Valiyev")

	rec := env.do(t, "POST", "/v1/chat/sessions", map[string]string{"firstName": "Ali", "lastName": "Valiyev"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestChat_SendAndList(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createSession(t, "Ali", "Valiyev")

	rec := env.visitorSend(t, created, "Salom, savolim bor")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[model.Message](t, rec)
	assert.Equal(t, model.SenderVisitor, msg.SenderType)
	assert.False(t, msg.IsRead)

	rec = env.do(t, "GET", "/v1/chat/sessions/"+created.Session.ID+"/messages", nil, withCredential(created.Credential))
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]model.Message](t, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)

	rec = env.do(t, "GET", "/v1/chat/sessions/"+created.Session.ID, nil, withCredential(created.Credential))
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode[model.Session](t, rec)
	assert.True(t, session.UpdatedAt.After(created.Session.UpdatedAt))
}

func TestChat_EmptyContentRejected(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createSession(t, "Ali", "Valiyev")

	rec := env.visitorSend(t, created, "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	msgs, err := env.store.Messages().ListBySession(context.Background(), created.Session.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestChat_CredentialMismatch(t *testing.T) {
	env := newTestEnv(t, 10)
	mine := env.createSession(t, "Ali", "Valiyev")
	theirs := env.createSession(t, "Vali", "Aliyev")

	rec := env.do(t, "POST", "/v1/chat/sessions/"+theirs.Session.ID+"/messages",
		map[string]string{"content": "hijack"}, withCredential(mine.Credential))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "POST", "/v1/chat/sessions/"+mine.Session.ID+"/messages",
		map[string]string{"content": "no credential"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "POST", "/v1/chat/sessions/"+mine.Session.ID+"/messages",
		map[string]string{"content": "forged"}, withCredential("forged"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/v1/chat/sessions/"+theirs.Session.ID, nil, withCredential(mine.Credential))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/v1/chat/sessions/"+theirs.Session.ID+"/messages", nil, withCredential(mine.Credential))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, id := range []string{mine.Session.ID, theirs.Session.ID} {
		msgs, err := env.store.Messages().ListBySession(context.Background(), id)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	}
}

func TestChat_InvalidSessionID(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createSession(t, "Ali", "Valiyev")

	rec := env.do(t, "POST", "/v1/chat/sessions/not-a-uuid/messages",
		map[string]string{"content": "x"}, withCredential(created.Credential))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaff_RequiresStaffToken(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createSession(t, "Ali", "Valiyev")

	rec := env.do(t, "GET", "/v1/staff/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/v1/staff/sessions", nil, withCredential(created.Credential))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/v1/staff/me", nil, withStaff("dilnoza.wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decode[httputil.ErrorResponse](t, rec)
	assert.NotEmpty(t, body.Code)
}

func TestStaff_ConsoleFlow(t *testing.T) {
	env := newTestEnv(t, 10)
	first := env.createSession(t, "Ali", "Valiyev")
	second := env.createSession(t, "Malika", "Karimova")

	require.Equal(t, http.StatusCreated, env.visitorSend(t, first, "Salom, savolim bor").Code)
	require.Equal(t, http.StatusCreated, env.visitorSend(t, first, "Yordam bering").Code)

	rec := env.do(t, "GET", "/v1/staff/me", nil, withStaff(testStaffToken))
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[staffMeResponse](t, rec)
	assert.True(t, me.IsStaff)
	assert.Equal(t, "dilnoza", me.StaffID)

	rec = env.do(t, "GET", "/v1/staff/sessions", nil, withStaff(testStaffToken))
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[[]model.Session](t, rec)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.Session.ID, sessions[0].ID)
	assert.Equal(t, second.Session.ID, sessions[1].ID)

	rec = env.do(t, "GET", "/v1/staff/sessions/"+first.Session.ID+"/unread-count", nil, withStaff(testStaffToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[unreadCountResponse](t, rec).UnreadCount)

	rec = env.do(t, "GET", "/v1/staff/sessions/"+second.Session.ID+"/latest", nil, withStaff(testStaffToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", decode[latestContentResponse](t, rec).Content)

	rec = env.do(t, "POST", "/v1/staff/sessions/"+first.Session.ID+"/messages",
		map[string]string{"content": "Assalomu alaykum!"}, withStaff(testStaffToken))
	require.Equal(t, http.StatusCreated, rec.Code)
	reply := decode[model.Message](t, rec)
	assert.Equal(t, model.SenderStaff, reply.SenderType)
	require.NotNil(t, reply.StaffID)
	assert.Equal(t, "dilnoza", *reply.StaffID)

	rec = env.do(t, "GET", "/v1/staff/sessions/"+first.Session.ID+"/latest", nil, withStaff(testStaffToken))
	assert.Equal(t, "Assalomu alaykum!", decode[latestContentResponse](t, rec).Content)

	rec = env.do(t, "POST", "/v1/staff/sessions/"+first.Session.ID+"/read", nil, withStaff(testStaffToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[markReadResponse](t, rec).Marked)

	rec = env.do(t, "POST", "/v1/staff/sessions/"+first.Session.ID+"/read", nil, withStaff(testStaffToken))
	assert.Equal(t, int64(0), decode[markReadResponse](t, rec).Marked)

	rec = env.do(t, "GET", "/v1/staff/sessions/"+first.Session.ID+"/messages", nil, withStaff(testStaffToken))
	msgs := decode[[]model.Message](t, rec)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Salom, savolim bor", msgs[0].Content)
	assert.Equal(t, "Assalomu alaykum!", msgs[2].Content)
}

func TestStaff_Archive(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createSession(t, "Ali", "Valiyev")

	rec := env.do(t, "POST", "/v1/staff/sessions/"+created.Session.ID+"/archive", nil, withStaff(testStaffToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.Session](t, rec).IsActive)

	rec = env.visitorSend(t, created, "are you there?")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "POST", "/v1/staff/sessions/"+unknownID+"/archive", nil, withStaff(testStaffToken))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
