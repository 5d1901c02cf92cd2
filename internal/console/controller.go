// Package console is the staff side of the support chat: the session list
// with unread counts and previews, and the selected conversation.
package console

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qoshimcha/support-chat-go/internal/chatclient"
	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/transcript"
)

// API is the staff half of the chat server. *chatclient.StaffClient
// satisfies it.
type API interface {
	Me(ctx context.Context) (*chatclient.Me, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]model.Message, error)
	UnreadCount(ctx context.Context, sessionID string) (int, error)
	LatestContent(ctx context.Context, sessionID string) (string, error)
	Reply(ctx context.Context, sessionID, content string) (*model.Message, error)
	MarkRead(ctx context.Context, sessionID string) (int64, error)
	Archive(ctx context.Context, sessionID string) (*model.Session, error)
	Subscribe(ctx context.Context, scope model.SubscriptionScope, sessionID string) (chatclient.Subscription, error)
}

type Snapshot struct {
	StaffID    string
	Sessions   []model.SessionSummary
	SelectedID string
	Messages   []model.Message
	StreamErr  error
}

type Controller struct {
	api API

	// ctx bounds background refreshes triggered by fan-out events.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	staffID    string
	mounted    bool
	sessions   []model.SessionSummary
	refreshSeq uint64
	appliedSeq uint64
	selectedID string
	selectGen  uint64
	transcript *transcript.Transcript
	globalSub  chatclient.Subscription
	sessionSub chatclient.Subscription
	streamErr  error

	changes chan struct{}
}

func NewController(api API) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		api:        api,
		ctx:        ctx,
		cancel:     cancel,
		transcript: transcript.New(),
		changes:    make(chan struct{}, 1),
	}
}

func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := make([]model.SessionSummary, len(c.sessions))
	copy(sessions, c.sessions)
	return Snapshot{
		StaffID:    c.staffID,
		Sessions:   sessions,
		SelectedID: c.selectedID,
		Messages:   c.transcript.Messages(),
		StreamErr:  c.streamErr,
	}
}

// Mount checks the staff role once, opens the global stream and loads the
// session list. Mounting again reopens any stream that has ended.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	mounted := c.mounted
	c.mu.Unlock()
	if mounted {
		return c.Reconnect(ctx)
	}

	me, err := c.api.Me(ctx)
	if err != nil {
		return err
	}
	if !me.IsStaff {
		return apperrors.Unauthorized("Staff role required")
	}

	c.mu.Lock()
	c.staffID = me.StaffID
	c.mounted = true
	c.mu.Unlock()

	sub, err := c.api.Subscribe(ctx, model.ScopeAll, "")
	if err != nil {
		log.Warn().Err(err).Msg("failed to open global event stream")
		c.setStreamErr(err)
	} else {
		c.mu.Lock()
		c.globalSub = sub
		c.mu.Unlock()
		go c.consume(sub, "")
	}

	return c.RefreshSessions(ctx)
}

// Reconnect reopens the global stream and the selected session's stream
// if either has ended, then reloads the session list. Live streams are
// left alone.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return c.Mount(ctx)
	}
	var stale []chatclient.Subscription
	needGlobal := ended(c.globalSub)
	if needGlobal && c.globalSub != nil {
		stale = append(stale, c.globalSub)
		c.globalSub = nil
	}
	selectedID, gen := c.selectedID, c.selectGen
	needSession := selectedID != "" && ended(c.sessionSub)
	if needSession && c.sessionSub != nil {
		stale = append(stale, c.sessionSub)
		c.sessionSub = nil
	}
	c.mu.Unlock()

	for _, sub := range stale {
		sub.Close()
	}

	if needGlobal {
		sub, err := c.api.Subscribe(ctx, model.ScopeAll, "")
		if err != nil {
			c.setStreamErr(err)
			return err
		}
		c.mu.Lock()
		c.globalSub = sub
		c.mu.Unlock()
		go c.consume(sub, "")
	}

	if needSession {
		msgs, err := c.api.ListMessages(ctx, selectedID)
		if err != nil {
			return err
		}
		sub, err := c.api.Subscribe(ctx, model.ScopeSession, selectedID)
		if err != nil {
			c.setStreamErr(err)
			return err
		}

		c.mu.Lock()
		if gen != c.selectGen {
			c.mu.Unlock()
			sub.Close()
		} else {
			for _, msg := range msgs {
				c.transcript.Add(msg)
			}
			c.sessionSub = sub
			c.mu.Unlock()
			go c.consume(sub, selectedID)
		}
	}

	c.mu.Lock()
	c.streamErr = nil
	c.mu.Unlock()
	c.notify()

	return c.RefreshSessions(ctx)
}

// ended reports whether sub is missing or its stream has finished.
func ended(sub chatclient.Subscription) bool {
	if sub == nil {
		return true
	}
	select {
	case <-sub.Done():
		return true
	default:
		return false
	}
}

// RefreshSessions reloads the session list, then looks up the unread
// count and latest content of each session one by one.
func (c *Controller) RefreshSessions(ctx context.Context) error {
	c.mu.Lock()
	c.refreshSeq++
	seq := c.refreshSeq
	c.mu.Unlock()

	sessions, err := c.api.ListSessions(ctx)
	if err != nil {
		return err
	}

	summaries := make([]model.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		unread, err := c.api.UnreadCount(ctx, session.ID)
		if err != nil {
			return err
		}
		latest, err := c.api.LatestContent(ctx, session.ID)
		if err != nil {
			return err
		}
		summaries = append(summaries, model.SessionSummary{
			Session:     session,
			UnreadCount: unread,
			LastMessage: latest,
		})
	}

	c.mu.Lock()
	if seq > c.appliedSeq {
		c.appliedSeq = seq
		c.sessions = summaries
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// Select loads a conversation, follows it and marks it read.
func (c *Controller) Select(ctx context.Context, sessionID string) error {
	msgs, err := c.api.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.selectGen++
	gen := c.selectGen
	c.selectedID = sessionID
	c.transcript.Reset(msgs)
	previous := c.sessionSub
	c.sessionSub = nil
	c.mu.Unlock()
	c.notify()

	if previous != nil {
		previous.Close()
	}

	sub, err := c.api.Subscribe(ctx, model.ScopeSession, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to open session event stream")
		c.setStreamErr(err)
	} else {
		c.mu.Lock()
		if gen != c.selectGen {
			c.mu.Unlock()
			sub.Close()
		} else {
			c.sessionSub = sub
			c.mu.Unlock()
			go c.consume(sub, sessionID)
		}
	}

	if _, err := c.api.MarkRead(ctx, sessionID); err != nil {
		return err
	}
	return c.RefreshSessions(ctx)
}

// Reply sends a staff message to the selected conversation. Without a
// selection or with blank content it does nothing.
func (c *Controller) Reply(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)

	c.mu.Lock()
	sessionID, gen := c.selectedID, c.selectGen
	c.mu.Unlock()

	if sessionID == "" || content == "" {
		return nil
	}

	msg, err := c.api.Reply(ctx, sessionID, content)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if gen == c.selectGen {
		c.transcript.Add(*msg)
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// Archive deactivates a session on the server.
func (c *Controller) Archive(ctx context.Context, sessionID string) error {
	if _, err := c.api.Archive(ctx, sessionID); err != nil {
		return err
	}
	return c.RefreshSessions(ctx)
}

// Close ends every stream this console opened.
func (c *Controller) Close() error {
	c.cancel()

	c.mu.Lock()
	subs := []chatclient.Subscription{c.globalSub, c.sessionSub}
	c.globalSub, c.sessionSub = nil, nil
	c.selectedID = ""
	c.selectGen++
	c.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Close()
		}
	}
	return nil
}

// consume drains one stream. sessionID is empty for the global stream.
func (c *Controller) consume(sub chatclient.Subscription, sessionID string) {
	for event := range sub.Events() {
		if event.Kind != model.EventMessageInserted {
			continue
		}
		if sessionID != "" {
			c.mu.Lock()
			if c.selectedID == sessionID {
				c.transcript.Add(*event.Message)
			}
			c.mu.Unlock()
			c.notify()
		}

		if c.ctx.Err() != nil {
			return
		}
		if err := c.RefreshSessions(c.ctx); err != nil && c.ctx.Err() == nil {
			log.Warn().Err(err).Msg("session list refresh failed")
		}
	}

	err := sub.Err()

	c.mu.Lock()
	current := c.globalSub == sub || c.sessionSub == sub
	if current && err != nil {
		c.streamErr = err
	}
	c.mu.Unlock()

	if current && err != nil {
		log.Info().Err(err).Str("sessionId", sessionID).Msg("event stream ended")
		c.notify()
	}
}

func (c *Controller) setStreamErr(err error) {
	c.mu.Lock()
	c.streamErr = err
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
