package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/qoshimcha/support-chat-go/internal/config"
	"github.com/qoshimcha/support-chat-go/internal/fanout"
	"github.com/qoshimcha/support-chat-go/internal/middleware"
	"github.com/qoshimcha/support-chat-go/internal/service"
)

type RouterDeps struct {
	SessionService *service.SessionService
	LedgerService  *service.LedgerService
	StaffDirectory *service.StaffDirectory
	Broker         *fanout.Broker
	Limiter        middleware.Limiter

	CreateSessionLimitPerMin int
	SendMessageLimitPerMin   int
	IsProduction             bool

	// Ping reports storage health for /health. Optional.
	Ping func(ctx context.Context) error
}

func NewRouter(deps RouterDeps) http.Handler {
	auth := middleware.NewAuthMiddleware(deps.SessionService, deps.StaffDirectory)
	createLimit := middleware.NewRateLimitMiddleware(
		deps.Limiter, deps.CreateSessionLimitPerMin, "session_create", middleware.KeyByIP,
	)
	sendLimit := middleware.NewRateLimitMiddleware(
		deps.Limiter, deps.SendMessageLimitPerMin, "message_send", middleware.KeyByURLParam("id"),
	)
	bodyLimit := middleware.NewBodyLimitMiddleware(0)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(deps.IsProduction)

	chatHandler := NewChatHandler(deps.SessionService, deps.LedgerService, auth.Visitor, createLimit.Handler, sendLimit.Handler)
	staffHandler := NewStaffHandler(deps.SessionService, deps.LedgerService, deps.StaffDirectory, auth.Staff)
	eventsHandler := NewEventsHandler(deps.Broker, deps.StaffDirectory)
	wsHandler := NewWebSocketHandler(deps.Broker, deps.StaffDirectory)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders.Handler)

	r.Get("/health", healthHandler(deps))

	// Streaming routes stay outside the request timeout.
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Any)
			r.Get("/events", eventsHandler.ServeHTTP)
			r.Get("/ws", wsHandler.ServeHTTP)
		})

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(bodyLimit.Handler)
			r.Mount("/chat", chatHandler.Routes())
			r.Mount("/staff", staffHandler.Routes())
		})
	})

	return r
}

func healthHandler(deps RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if deps.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
			defer cancel()
			if err := deps.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}

		writeJSON(w, code, map[string]any{
			"status":      status,
			"subscribers": deps.Broker.TotalSubscribers(),
			"timestamp":   time.Now().UnixMilli(),
		})
	}
}
