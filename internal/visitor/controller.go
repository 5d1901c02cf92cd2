// Package visitor drives the visitor side of a support conversation:
// NoSession → Pending → Active, back to NoSession on failure or end.
package visitor

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qoshimcha/support-chat-go/internal/chatclient"
	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/keystore"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/transcript"
)

type State string

const (
	StateNoSession State = "no_session"
	StatePending   State = "pending"
	StateActive    State = "active"
)

// ErrSendInFlight is returned while an earlier send has not completed.
var ErrSendInFlight = apperrors.Conflict("Another message is still being sent")

// API is the slice of the chat server the controller talks to.
// *chatclient.Client satisfies it.
type API interface {
	CreateSession(ctx context.Context, firstName, lastName string) (*model.CreateSessionResult, error)
	GetSession(ctx context.Context, credential, sessionID string) (*model.Session, error)
	ListMessages(ctx context.Context, credential, sessionID string) ([]model.Message, error)
	SendMessage(ctx context.Context, credential, sessionID, content string) (*model.Message, error)
	SubscribeSession(ctx context.Context, credential, sessionID string) (chatclient.Subscription, error)
}

// Snapshot is a point-in-time copy of the controller state for rendering.
type Snapshot struct {
	State     State
	Session   *model.Session
	Entries   []transcript.Entry
	StreamErr error
}

type Controller struct {
	api   API
	store keystore.Store

	mu         sync.Mutex
	state      State
	session    *model.Session
	credential string
	transcript *transcript.Transcript
	sub        chatclient.Subscription
	streamErr  error
	// generation changes whenever the conversation is replaced, so late
	// responses for an ended conversation are discarded.
	generation uint64

	changes chan struct{}
}

func NewController(api API, store keystore.Store) *Controller {
	return &Controller{
		api:        api,
		store:      store,
		state:      StateNoSession,
		transcript: transcript.New(),
		changes:    make(chan struct{}, 1),
	}
}

// Changes signals, coalesced, whenever the snapshot may have changed.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:     c.state,
		Entries:   c.transcript.Entries(),
		StreamErr: c.streamErr,
	}
	if c.session != nil {
		session := *c.session
		snap.Session = &session
	}
	return snap
}

// Start opens a new conversation and sends its first message. If the
// session is created but the first message fails, the controller is still
// Active and the message stays in the transcript as failed for Retry.
func (c *Controller) Start(ctx context.Context, firstName, lastName, initialMessage string) error {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	initialMessage = strings.TrimSpace(initialMessage)

	switch {
	case firstName == "":
		return apperrors.MissingRequired("firstName")
	case lastName == "":
		return apperrors.MissingRequired("lastName")
	case initialMessage == "":
		return apperrors.MissingRequired("message")
	}

	c.mu.Lock()
	if c.state != StateNoSession {
		c.mu.Unlock()
		return apperrors.Conflict("A conversation is already open")
	}
	c.state = StatePending
	c.mu.Unlock()
	c.notify()

	created, err := c.api.CreateSession(ctx, firstName, lastName)
	if err != nil {
		c.setState(StateNoSession)
		return err
	}

	cred := keystore.Credential{SessionID: created.Session.ID, Credential: created.Credential}
	if err := keystore.SaveCredential(ctx, c.store, cred); err != nil {
		log.Warn().Err(err).Str("sessionId", cred.SessionID).Msg("failed to persist session credential")
	}

	c.mu.Lock()
	gen := c.activateLocked(created.Session, created.Credential, nil)
	localID := c.transcript.AddPending(created.Session.ID, initialMessage, model.SenderVisitor)
	c.mu.Unlock()
	c.notify()

	c.subscribe(ctx, gen, cred)
	return c.deliver(ctx, gen, cred, localID, initialMessage)
}

// Restore resumes a conversation from the keystore. A credential the
// server no longer accepts is discarded; a transient failure keeps it so a
// later Restore can succeed. It reports whether a conversation was resumed.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateNoSession {
		return state == StateActive, nil
	}

	cred, ok, err := keystore.LoadCredential(ctx, c.store)
	if err != nil {
		return false, apperrors.TransientIO("credential store", err)
	}
	if !ok {
		return false, nil
	}

	c.setState(StatePending)

	session, msgs, err := c.fetch(ctx, cred)
	if err != nil {
		c.setState(StateNoSession)
		if apperrors.IsNotFound(err) || apperrors.IsUnauthorized(err) {
			log.Info().Str("sessionId", cred.SessionID).Msg("discarding stale session credential")
			if clearErr := keystore.ClearCredential(ctx, c.store); clearErr != nil {
				log.Warn().Err(clearErr).Msg("failed to clear session credential")
			}
			return false, nil
		}
		return false, err
	}

	c.mu.Lock()
	gen := c.activateLocked(session, cred.Credential, msgs)
	c.mu.Unlock()
	c.notify()

	c.subscribe(ctx, gen, cred)
	return true, nil
}

// Send appends a message to the open conversation. Blank content and a
// controller that is not Active make it a no-op.
func (c *Controller) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	if c.transcript.Pending() {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	gen, cred := c.generation, c.credentialLocked()
	localID := c.transcript.AddPending(cred.SessionID, content, model.SenderVisitor)
	c.mu.Unlock()
	c.notify()

	return c.deliver(ctx, gen, cred, localID, content)
}

// Retry resends a failed entry.
func (c *Controller) Retry(ctx context.Context, localID string) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	if c.transcript.Pending() {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	content, ok := c.transcript.Retry(localID)
	if !ok {
		c.mu.Unlock()
		return apperrors.NotFound("Failed message")
	}
	gen, cred := c.generation, c.credentialLocked()
	c.mu.Unlock()
	c.notify()

	return c.deliver(ctx, gen, cred, localID, content)
}

// Reconnect re-fetches history and reopens the event stream, for use after
// the stream ended.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	gen, cred := c.generation, c.credentialLocked()
	c.mu.Unlock()

	msgs, err := c.api.ListMessages(ctx, cred.Credential, cred.SessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return nil
	}
	for _, msg := range msgs {
		c.transcript.Add(msg)
	}
	c.mu.Unlock()
	c.notify()

	c.subscribe(ctx, gen, cred)
	return nil
}

// End forgets the conversation locally. The server-side session stays
// active until it is archived.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	sub := c.resetLocked()
	c.mu.Unlock()
	c.notify()

	if sub != nil {
		sub.Close()
	}
	return keystore.ClearCredential(ctx, c.store)
}

// Close releases the event stream without forgetting the credential.
func (c *Controller) Close() error {
	c.mu.Lock()
	sub := c.resetLocked()
	c.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (c *Controller) fetch(ctx context.Context, cred keystore.Credential) (*model.Session, []model.Message, error) {
	session, err := c.api.GetSession(ctx, cred.Credential, cred.SessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := c.api.ListMessages(ctx, cred.Credential, cred.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, msgs, nil
}

func (c *Controller) deliver(ctx context.Context, gen uint64, cred keystore.Credential, localID, content string) error {
	msg, err := c.api.SendMessage(ctx, cred.Credential, cred.SessionID, content)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return err
	}
	if err != nil {
		c.transcript.Fail(localID, err)
	} else {
		c.transcript.Confirm(localID, *msg)
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		log.Warn().Err(err).Str("sessionId", cred.SessionID).Msg("message send failed")
	}
	return err
}

// subscribe opens the session stream. A failure is kept in StreamErr and
// never fails the calling operation.
func (c *Controller) subscribe(ctx context.Context, gen uint64, cred keystore.Credential) {
	sub, err := c.api.SubscribeSession(ctx, cred.Credential, cred.SessionID)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		return
	}
	if err != nil {
		c.streamErr = err
		c.mu.Unlock()
		c.notify()
		log.Warn().Err(err).Str("sessionId", cred.SessionID).Msg("failed to open event stream")
		return
	}
	previous := c.sub
	c.sub, c.streamErr = sub, nil
	c.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	go c.consume(gen, cred.SessionID, sub)
}

func (c *Controller) consume(gen uint64, sessionID string, sub chatclient.Subscription) {
	for event := range sub.Events() {
		if event.Kind != model.EventMessageInserted || event.SessionID() != sessionID {
			continue
		}
		c.mu.Lock()
		added := gen == c.generation && c.transcript.Add(*event.Message)
		c.mu.Unlock()
		if added {
			c.notify()
		}
	}

	c.mu.Lock()
	current := c.sub == sub
	if current {
		c.sub = nil
		c.streamErr = sub.Err()
	}
	c.mu.Unlock()

	if current {
		if err := sub.Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Info().Err(err).Str("sessionId", sessionID).Msg("event stream ended")
		}
		c.notify()
	}
}

func (c *Controller) activateLocked(session *model.Session, credential string, msgs []model.Message) uint64 {
	c.generation++
	c.state = StateActive
	c.session = session
	c.credential = credential
	c.streamErr = nil
	c.transcript.Reset(msgs)
	return c.generation
}

func (c *Controller) resetLocked() chatclient.Subscription {
	sub := c.sub
	c.generation++
	c.state = StateNoSession
	c.session = nil
	c.credential = ""
	c.sub = nil
	c.streamErr = nil
	c.transcript.Reset(nil)
	return sub
}

func (c *Controller) credentialLocked() keystore.Credential {
	return keystore.Credential{SessionID: c.session.ID, Credential: c.credential}
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
