// Package chattest runs a complete chat server over the in-memory store for
// client and controller tests.
package chattest

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qoshimcha/support-chat-go/internal/fanout"
	"github.com/qoshimcha/support-chat-go/internal/handler"
	"github.com/qoshimcha/support-chat-go/internal/middleware"
	"github.com/qoshimcha/support-chat-go/internal/repository"
	"github.com/qoshimcha/support-chat-go/internal/service"
	"github.com/qoshimcha/support-chat-go/internal/util"
)

const (
	StaffID    = "dilnoza"
	StaffToken = StaffID + ".test-secret"
)

type Server struct {
	URL    string
	Store  *repository.MemoryStore
	Broker *fanout.Broker

	Sessions *service.SessionService
	Ledger   *service.LedgerService
}

type Options struct {
	CreateSessionLimitPerMin int
	SendMessageLimitPerMin   int
	// SubscriberBufferSize overrides the broker's per-subscriber buffer.
	SubscriberBufferSize int
}

func NewServer(t testing.TB) *Server {
	return NewServerWithOptions(t, Options{})
}

func NewServerWithOptions(t testing.TB, opts Options) *Server {
	t.Helper()

	hash, err := util.HashSecret("test-secret", 4)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	broker := fanout.NewBroker(fanout.NewMemoryTransport())
	if opts.SubscriberBufferSize > 0 {
		broker.WithBufferSize(opts.SubscriberBufferSize)
	}

	staff := service.NewStaffDirectory(map[string]string{StaffID: hash})
	sessions := service.NewSessionService(store.Sessions())
	ledger := service.NewLedgerService(store.Messages(), sessions, staff, broker, 4000)

	if opts.CreateSessionLimitPerMin == 0 {
		opts.CreateSessionLimitPerMin = 100
	}
	if opts.SendMessageLimitPerMin == 0 {
		opts.SendMessageLimitPerMin = 100
	}

	srv := httptest.NewServer(handler.NewRouter(handler.RouterDeps{
		SessionService:           sessions,
		LedgerService:            ledger,
		StaffDirectory:           staff,
		Broker:                   broker,
		Limiter:                  middleware.NewMemoryLimiter(),
		CreateSessionLimitPerMin: opts.CreateSessionLimitPerMin,
		SendMessageLimitPerMin:   opts.SendMessageLimitPerMin,
	}))
	t.Cleanup(func() {
		broker.Close()
		srv.Close()
	})

	return &Server{
		URL:      srv.URL,
		Store:    store,
		Broker:   broker,
		Sessions: sessions,
		Ledger:   ledger,
	}
}
