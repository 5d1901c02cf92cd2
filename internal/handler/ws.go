package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/qoshimcha/support-chat-go/internal/config"
	"github.com/qoshimcha/support-chat-go/internal/fanout"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/service"
)

// Close code sent when the broker dropped a subscriber that fell behind.
const CloseLagged = model.CloseLagged

// WebSocketHandler streams fan-out events as JSON text frames. The stream is
// one-way; anything the client sends is discarded.
type WebSocketHandler struct {
	broker   *fanout.Broker
	staff    service.StaffVerifier
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(broker *fanout.Broker, staff service.StaffVerifier) *WebSocketHandler {
	return &WebSocketHandler{
		broker: broker,
		staff:  staff,
		upgrader: websocket.Upgrader{
			// Authentication uses explicit tokens, never cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel, err := subscriptionChannel(r, h.staff)
	if err != nil {
		writeError(w, err)
		return
	}

	// Subscribe before the handshake completes so nothing published after the
	// client sees 101 is missed.
	sub, err := h.broker.Subscribe(channel)
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.broker.Unsubscribe(sub)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log.Info().Str("channel", channel).Msg("websocket connection established")

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)
}

func (h *WebSocketHandler) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(config.WSMaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, sub *fanout.Subscriber, done chan struct{}) {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Info().Str("channel", sub.Channel).Msg("websocket connection closed by client")
			return

		case <-sub.Done:
			code, reason := websocket.CloseGoingAway, "broker closed"
			if sub.Lagged() {
				code, reason = CloseLagged, "subscriber lagged"
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(config.WSWriteWait))
			log.Info().
				Str("channel", sub.Channel).
				Bool("lagged", sub.Lagged()).
				Msg("websocket connection closed by broker")
			return

		case event := <-sub.Events:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
