package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qoshimcha/support-chat-go/internal/audit"
	"github.com/qoshimcha/support-chat-go/internal/config"
	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/fanout"
	"github.com/qoshimcha/support-chat-go/internal/middleware"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/service"
)

// subscriptionChannel resolves ?scope=&session_id= against the caller.
// Visitors may follow only their own session; the global scope is staff-only.
func subscriptionChannel(r *http.Request, staff service.StaffVerifier) (string, error) {
	identity, _ := middleware.GetIdentity(r.Context())
	scope := model.SubscriptionScope(r.URL.Query().Get("scope"))
	sessionID := r.URL.Query().Get("session_id")

	allowed := staff.IsStaff(identity)
	if !allowed && scope == model.ScopeSession {
		allowed = identity.OwnsSession(sessionID)
	}

	channel, err := fanout.ChannelFor(scope, sessionID)
	if err != nil {
		return "", err
	}

	if !allowed {
		audit.LogFromRequest(r, audit.Event{
			Type:      audit.EventSubscribeDenied,
			SessionID: identity.SessionID,
			Details:   map[string]interface{}{"channel": channel},
		})
		return "", apperrors.Forbidden("Not allowed to subscribe to this scope")
	}
	return channel, nil
}

// EventsHandler streams fan-out events as server-sent events.
type EventsHandler struct {
	broker            *fanout.Broker
	staff             service.StaffVerifier
	heartbeatInterval time.Duration
}

func NewEventsHandler(broker *fanout.Broker, staff service.StaffVerifier) *EventsHandler {
	return &EventsHandler{
		broker:            broker,
		staff:             staff,
		heartbeatInterval: config.HeartbeatInterval,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel, err := subscriptionChannel(r, h.staff)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	sub, err := h.broker.Subscribe(channel)
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	log.Info().
		Str("channel", channel).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", map[string]string{"channel": channel}); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("channel", channel).
				Msg("sse connection closed by client")
			return

		case <-sub.Done:
			if sub.Lagged() {
				h.sendEvent(w, flusher, "lagged", map[string]string{"channel": channel})
			}
			log.Info().
				Str("channel", channel).
				Bool("lagged", sub.Lagged()).
				Msg("sse connection closed by broker")
			return

		case event := <-sub.Events:
			if err := h.sendEvent(w, flusher, string(event.Kind), event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("channel", channel).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
