// Package chatclient is the HTTP and WebSocket client used by the visitor
// and staff console controllers.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/httputil"
	"github.com/qoshimcha/support-chat-go/internal/model"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// auth decorates an outgoing request with a caller credential.
type auth func(h http.Header)

func visitorAuth(credential string) auth {
	return func(h http.Header) {
		h.Set(model.SessionTokenHeader, credential)
	}
}

func staffAuth(token string) auth {
	return func(h http.Header) {
		h.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) CreateSession(ctx context.Context, firstName, lastName string) (*model.CreateSessionResult, error) {
	body := map[string]string{"firstName": firstName, "lastName": lastName}
	var result model.CreateSessionResult
	if err := c.do(ctx, http.MethodPost, "/v1/chat/sessions", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetSession(ctx context.Context, credential, sessionID string) (*model.Session, error) {
	var session model.Session
	if err := c.do(ctx, http.MethodGet, "/v1/chat/sessions/"+url.PathEscape(sessionID), visitorAuth(credential), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) ListMessages(ctx context.Context, credential, sessionID string) ([]model.Message, error) {
	var msgs []model.Message
	path := "/v1/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, visitorAuth(credential), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, credential, sessionID, content string) (*model.Message, error) {
	var msg model.Message
	path := "/v1/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, visitorAuth(credential), map[string]string{"content": content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SubscribeSession follows the visitor's own session.
func (c *Client) SubscribeSession(ctx context.Context, credential, sessionID string) (Subscription, error) {
	return c.dial(ctx, visitorAuth(credential), model.ScopeSession, sessionID)
}

// Staff returns a view of the API authenticated with a staff token.
func (c *Client) Staff(token string) *StaffClient {
	return &StaffClient{client: c, auth: staffAuth(token)}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, authenticate auth, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal("Failed to encode request").WithCause(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil), reader)
	if err != nil {
		return apperrors.Internal("Failed to build request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticate != nil {
		authenticate(req.Header)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.TransientIO("chat server", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.TransientIO("chat server", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// decodeError turns a non-2xx response back into an AppError. Server faults
// are always reported as transient so the caller can offer a retry.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body httputil.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		code := httputil.CodeFromStatus(resp.StatusCode)
		return apperrors.New(code, http.StatusText(resp.StatusCode))
	}

	if resp.StatusCode >= 500 && body.Code != apperrors.ErrCodeTransientIO {
		return apperrors.TransientIO("chat server", apperrors.New(body.Code, body.Error))
	}
	return apperrors.New(body.Code, body.Error).WithDetails(body.Details)
}
