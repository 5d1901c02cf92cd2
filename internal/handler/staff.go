package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qoshimcha/support-chat-go/internal/audit"
	"github.com/qoshimcha/support-chat-go/internal/middleware"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/service"
)

// StaffHandler serves the staff console API. Every route runs behind
// staff authentication.
type StaffHandler struct {
	sessionService *service.SessionService
	ledgerService  *service.LedgerService
	staff          service.StaffVerifier
	staffAuth      Middleware
}

func NewStaffHandler(
	sessionService *service.SessionService,
	ledgerService *service.LedgerService,
	staff service.StaffVerifier,
	staffAuth Middleware,
) *StaffHandler {
	return &StaffHandler{
		sessionService: sessionService,
		ledgerService:  ledgerService,
		staff:          staff,
		staffAuth:      staffAuth,
	}
}

func (h *StaffHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.staffAuth)

	r.Get("/me", h.Me)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{id}/messages", h.ListMessages)
	r.Get("/sessions/{id}/unread-count", h.UnreadCount)
	r.Get("/sessions/{id}/latest", h.LatestContent)
	r.Post("/sessions/{id}/messages", h.Reply)
	r.Post("/sessions/{id}/read", h.MarkRead)
	r.Post("/sessions/{id}/archive", h.Archive)

	return r
}

type staffMeResponse struct {
	StaffID string `json:"staffId"`
	IsStaff bool   `json:"isStaff"`
}

// GET /v1/staff/me
func (h *StaffHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentity(r.Context())
	writeJSON(w, http.StatusOK, staffMeResponse{
		StaffID: identity.StaffID,
		IsStaff: h.staff.IsStaff(identity),
	})
}

// GET /v1/staff/sessions
func (h *StaffHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessionService.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GET /v1/staff/sessions/{id}/messages
func (h *StaffHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
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

type unreadCountResponse struct {
	SessionID   string `json:"sessionId"`
	UnreadCount int    `json:"unreadCount"`
}

// GET /v1/staff/sessions/{id}/unread-count
func (h *StaffHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	count, err := h.ledgerService.CountUnread(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unreadCountResponse{SessionID: id, UnreadCount: count})
}

type latestContentResponse struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

// GET /v1/staff/sessions/{id}/latest
func (h *StaffHandler) LatestContent(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	content, err := h.ledgerService.LatestContent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latestContentResponse{SessionID: id, Content: content})
}

// POST /v1/staff/sessions/{id}/messages
func (h *StaffHandler) Reply(w http.ResponseWriter, r *http.Request) {
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
		SenderType: model.SenderStaff,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	identity, _ := middleware.GetIdentity(r.Context())
	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventStaffReply,
		SessionID: id,
		StaffID:   identity.StaffID,
		Details:   map[string]interface{}{"messageId": msg.ID},
	})

	writeJSON(w, http.StatusCreated, msg)
}

type markReadResponse struct {
	SessionID string `json:"sessionId"`
	Marked    int64  `json:"marked"`
}

// POST /v1/staff/sessions/{id}/read
func (h *StaffHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	marked, err := h.ledgerService.MarkRead(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{SessionID: id, Marked: marked})
}

// POST /v1/staff/sessions/{id}/archive
func (h *StaffHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.sessionService.Deactivate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessionService.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	identity, _ := middleware.GetIdentity(r.Context())
	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionArchive,
		SessionID: id,
		StaffID:   identity.StaffID,
	})

	writeJSON(w, http.StatusOK, session)
}
