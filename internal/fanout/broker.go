package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/qoshimcha/support-chat-go/internal/config"
	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/model"
)

// GlobalChannel carries every insert, for staff consoles.
const GlobalChannel = "chat:all"

func SessionChannel(sessionID string) string {
	return fmt.Sprintf("chat:session:%s", sessionID)
}

// ChannelFor maps a subscription scope to its transport channel.
func ChannelFor(scope model.SubscriptionScope, sessionID string) (string, error) {
	switch scope {
	case model.ScopeAll:
		return GlobalChannel, nil
	case model.ScopeSession:
		if sessionID == "" {
			return "", apperrors.MissingRequired("session_id")
		}
		return SessionChannel(sessionID), nil
	default:
		return "", apperrors.InvalidInput("scope", "must be session or all")
	}
}

// Transport moves raw payloads between processes. The returned channel may
// stay open after ctx is done; readers must watch ctx as well.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

type Subscriber struct {
	Channel string
	Events  chan model.Event
	Done    chan struct{}

	lagged atomic.Bool
}

// Lagged reports whether the broker disconnected this subscriber because its
// buffer filled up. Such a subscriber has missed events and should re-fetch.
func (s *Subscriber) Lagged() bool {
	return s.lagged.Load()
}

type channelState struct {
	subscribers map[*Subscriber]bool
	cancel      context.CancelFunc
}

// Broker shares one transport subscription per channel among all local
// subscribers of that channel.
type Broker struct {
	transport  Transport
	bufferSize int
	channels   map[string]*channelState
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewBroker(transport Transport) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		transport:  transport,
		bufferSize: config.SubscriberBufferSize,
		channels:   make(map[string]*channelState),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// WithBufferSize overrides the per-subscriber buffer. Intended for tests.
func (b *Broker) WithBufferSize(size int) *Broker {
	b.bufferSize = size
	return b
}

func (b *Broker) Subscribe(channel string) (*Subscriber, error) {
	sub := &Subscriber{
		Channel: channel,
		Events:  make(chan model.Event, b.bufferSize),
		Done:    make(chan struct{}),
	}

	b.mu.Lock()
	state, ok := b.channels[channel]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		payloads, err := b.transport.Subscribe(ctx, channel)
		if err != nil {
			cancel()
			b.mu.Unlock()
			return nil, apperrors.TransientIO("subscribe", err)
		}
		state = &channelState{subscribers: make(map[*Subscriber]bool), cancel: cancel}
		b.channels[channel] = state
		go b.pump(ctx, channel, payloads)
	}
	state.subscribers[sub] = true
	subscriberCount := len(state.subscribers)
	b.mu.Unlock()

	log.Info().
		Str("channel", channel).
		Int("subscriberCount", subscriberCount).
		Msg("fan-out subscriber added")

	return sub, nil
}

// Unsubscribe is safe to call more than once and after a lag disconnect.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remove(sub) {
		log.Info().
			Str("channel", sub.Channel).
			Int("subscriberCount", b.countLocked(sub.Channel)).
			Msg("fan-out subscriber removed")
	}
}

// remove must be called with mu held for writing.
func (b *Broker) remove(sub *Subscriber) bool {
	state, ok := b.channels[sub.Channel]
	if !ok || !state.subscribers[sub] {
		return false
	}
	delete(state.subscribers, sub)
	close(sub.Done)

	if len(state.subscribers) == 0 {
		state.cancel()
		delete(b.channels, sub.Channel)
	}
	return true
}

// Publish sends the insert to the session channel and the global channel.
func (b *Broker) Publish(ctx context.Context, event model.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	for _, channel := range []string{SessionChannel(event.SessionID()), GlobalChannel} {
		if err := b.transport.Publish(ctx, channel, data); err != nil {
			return apperrors.TransientIO("publish", err)
		}
	}
	return nil
}

func (b *Broker) pump(ctx context.Context, channel string, payloads <-chan []byte) {
	log.Debug().Str("channel", channel).Msg("transport subscribed")

	for {
		select {
		case <-ctx.Done():
			return

		case payload, ok := <-payloads:
			if !ok {
				b.dropChannel(channel)
				return
			}

			event, err := model.DecodeEvent(payload)
			if err != nil {
				log.Error().Err(err).Str("channel", channel).Msg("failed to decode event")
				continue
			}

			b.broadcast(channel, event)
		}
	}
}

func (b *Broker) broadcast(channel string, event model.Event) {
	b.mu.RLock()
	var lagging []*Subscriber
	if state, ok := b.channels[channel]; ok {
		for sub := range state.subscribers {
			select {
			case sub.Events <- event:
			default:
				lagging = append(lagging, sub)
			}
		}
	}
	b.mu.RUnlock()

	if len(lagging) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range lagging {
		sub.lagged.Store(true)
		if b.remove(sub) {
			log.Warn().
				Str("channel", channel).
				Str("messageId", event.Message.ID).
				Msg("subscriber buffer full, disconnecting")
		}
	}
}

// dropChannel disconnects every subscriber when the transport ends the stream.
func (b *Broker) dropChannel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.channels[channel]
	if !ok {
		return
	}
	for sub := range state.subscribers {
		close(sub.Done)
	}
	state.cancel()
	delete(b.channels, channel)

	log.Warn().Str("channel", channel).Msg("transport stream closed")
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, state := range b.channels {
		for sub := range state.subscribers {
			close(sub.Done)
		}
	}
	b.channels = make(map[string]*channelState)
}

func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.countLocked(channel)
}

func (b *Broker) countLocked(channel string) int {
	if state, ok := b.channels[channel]; ok {
		return len(state.subscribers)
	}
	return 0
}

func (b *Broker) TotalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, state := range b.channels {
		total += len(state.subscribers)
	}
	return total
}
