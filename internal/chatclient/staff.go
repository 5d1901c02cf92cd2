package chatclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/qoshimcha/support-chat-go/internal/model"
)

type StaffClient struct {
	client *Client
	auth   auth
}

type Me struct {
	StaffID string `json:"staffId"`
	IsStaff bool   `json:"isStaff"`
}

func (s *StaffClient) Me(ctx context.Context) (*Me, error) {
	var me Me
	if err := s.client.do(ctx, http.MethodGet, "/v1/staff/me", s.auth, nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// ListSessions returns every session, most recently updated first.
func (s *StaffClient) ListSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	if err := s.client.do(ctx, http.MethodGet, "/v1/staff/sessions", s.auth, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *StaffClient) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := s.client.do(ctx, http.MethodGet, sessionPath(sessionID, "/messages"), s.auth, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *StaffClient) UnreadCount(ctx context.Context, sessionID string) (int, error) {
	var resp struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := s.client.do(ctx, http.MethodGet, sessionPath(sessionID, "/unread-count"), s.auth, nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

func (s *StaffClient) LatestContent(ctx context.Context, sessionID string) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	if err := s.client.do(ctx, http.MethodGet, sessionPath(sessionID, "/latest"), s.auth, nil, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *StaffClient) Reply(ctx context.Context, sessionID, content string) (*model.Message, error) {
	var msg model.Message
	body := map[string]string{"content": content}
	if err := s.client.do(ctx, http.MethodPost, sessionPath(sessionID, "/messages"), s.auth, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *StaffClient) MarkRead(ctx context.Context, sessionID string) (int64, error) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	if err := s.client.do(ctx, http.MethodPost, sessionPath(sessionID, "/read"), s.auth, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

func (s *StaffClient) Archive(ctx context.Context, sessionID string) (*model.Session, error) {
	var session model.Session
	if err := s.client.do(ctx, http.MethodPost, sessionPath(sessionID, "/archive"), s.auth, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Subscribe opens a stream for one session, or for every session when
// scope is model.ScopeAll.
func (s *StaffClient) Subscribe(ctx context.Context, scope model.SubscriptionScope, sessionID string) (Subscription, error) {
	return s.client.dial(ctx, s.auth, scope, sessionID)
}

func sessionPath(sessionID, suffix string) string {
	return "/v1/staff/sessions/" + url.PathEscape(sessionID) + suffix
}
