package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qoshimcha/support-chat-go/internal/audit"
	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/middleware"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/service"
)

type Middleware = func(http.Handler) http.Handler

// ChatHandler serves the visitor side of the chat.
type ChatHandler struct {
	sessionService *service.SessionService
	ledgerService  *service.LedgerService
	visitorAuth    Middleware
	createLimit    Middleware
	sendLimit      Middleware
}

func NewChatHandler(
	sessionService *service.SessionService,
	ledgerService *service.LedgerService,
	visitorAuth, createLimit, sendLimit Middleware,
) *ChatHandler {
	return &ChatHandler{
		sessionService: sessionService,
		ledgerService:  ledgerService,
		visitorAuth:    visitorAuth,
		createLimit:    createLimit,
		sendLimit:      sendLimit,
	}
}

func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.createLimit).Post("/sessions", h.CreateSession)

	r.Group(func(r chi.Router) {
		r.Use(h.visitorAuth)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/sessions/{id}/messages", h.ListMessages)
		r.With(h.sendLimit).Post("/sessions/{id}/messages", h.SendMessage)
	})

	return r
}

type createSessionRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// POST /v1/chat/sessions
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.sessionService.Create(r.Context(), req.FirstName, req.LastName)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: result.Session.ID,
	})

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/chat/sessions/{id}
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.ownedSessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessionService.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GET /v1/chat/sessions/{id}/messages
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	msgs, err := h.ledgerService.ListBySession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

// POST /v1/chat/sessions/{id}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req contentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.ledgerService.Append(r.Context(), service.AppendParams{
		SessionID:  id,
		Content:    req.Content,
		SenderType: model.SenderVisitor,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) ownedSessionID(r *http.Request) (string, error) {
	id, err := sessionIDParam(r)
	if err != nil {
		return "", err
	}
	identity, _ := middleware.GetIdentity(r.Context())
	if !identity.OwnsSession(id) {
		return "", apperrors.Unauthorized("Credential does not match session")
	}
	return id, nil
}
