package chatclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/model"
)

// ErrLagged is reported by Subscription.Err when the server dropped the
// stream because the client could not keep up.
var ErrLagged = apperrors.TransientIO("event stream", errors.New("subscriber lagged"))

// Subscription is a live event stream. Events is closed when the stream
// ends; Err then reports why, or nil after Close.
type Subscription interface {
	Events() <-chan model.Event
	Done() <-chan struct{}
	Err() error
	Close() error
}

type wsSubscription struct {
	conn   *websocket.Conn
	events chan model.Event
	done   chan struct{}
	quit   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
	once   sync.Once
}

func (c *Client) dial(ctx context.Context, authenticate auth, scope model.SubscriptionScope, sessionID string) (Subscription, error) {
	query := url.Values{"scope": {string(scope)}}
	if sessionID != "" {
		query.Set("session_id", sessionID)
	}
	endpoint := c.endpoint("/v1/ws", query)
	endpoint = "ws" + endpoint[len("http"):]

	header := http.Header{}
	authenticate(header)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, apperrors.TransientIO("event stream", err)
	}

	sub := &wsSubscription{
		conn:   conn,
		events: make(chan model.Event, 16),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

func (s *wsSubscription) Events() <-chan model.Event { return s.events }
func (s *wsSubscription) Done() <-chan struct{}      { return s.done }

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.quit)
	}
	s.mu.Unlock()

	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	<-s.done
	return err
}

func (s *wsSubscription) readLoop() {
	// Done closes before Events so a consumer that sees Events end can rely
	// on Done.
	defer close(s.events)
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}

		event, err := model.DecodeEvent(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed event")
			continue
		}

		select {
		case s.events <- event:
		case <-s.quit:
			return
		}
	}
}

func (s *wsSubscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	switch {
	case websocket.IsCloseError(err, model.CloseLagged):
		s.err = ErrLagged
	case websocket.IsCloseError(err, websocket.CloseNormalClosure):
	default:
		s.err = apperrors.TransientIO("event stream", err)
	}
	s.once.Do(func() { s.conn.Close() })
}
