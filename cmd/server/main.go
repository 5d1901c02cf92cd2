package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qoshimcha/support-chat-go/internal/config"
	"github.com/qoshimcha/support-chat-go/internal/database"
	"github.com/qoshimcha/support-chat-go/internal/fanout"
	"github.com/qoshimcha/support-chat-go/internal/handler"
	"github.com/qoshimcha/support-chat-go/internal/jobs"
	"github.com/qoshimcha/support-chat-go/internal/middleware"
	"github.com/qoshimcha/support-chat-go/internal/redis"
	"github.com/qoshimcha/support-chat-go/internal/repository"
	"github.com/qoshimcha/support-chat-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}
	cancel()
	log.Info().Msg("database connected")

	var (
		transport fanout.Transport
		limiter   middleware.Limiter
	)
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		transport = redis.NewTransport(redisClient)
		limiter = middleware.NewRedisLimiter(redisClient.Client)
	} else {
		log.Warn().Msg("REDIS_URL not set: using in-process fan-out and rate limits")
		transport = fanout.NewMemoryTransport()
		limiter = middleware.NewMemoryLimiter()
	}

	sessionRepo := repository.NewSessionRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)

	broker := fanout.NewBroker(transport)
	defer broker.Close()

	staffDirectory := service.NewStaffDirectory(cfg.StaffTokens)
	sessionService := service.NewSessionService(sessionRepo)
	ledgerService := service.NewLedgerService(
		messageRepo, sessionService, staffDirectory, broker, cfg.MaxMessageLength,
	)

	router := handler.NewRouter(handler.RouterDeps{
		SessionService:           sessionService,
		LedgerService:            ledgerService,
		StaffDirectory:           staffDirectory,
		Broker:                   broker,
		Limiter:                  limiter,
		CreateSessionLimitPerMin: cfg.CreateSessionLimitPerMin,
		SendMessageLimitPerMin:   cfg.SendMessageLimitPerMin,
		IsProduction:             isProduction,
		Ping:                     db.Ping,
	})

	if idleTimeout := cfg.SessionIdleTimeout(); idleTimeout > 0 {
		archiveJob := jobs.NewArchiveJob(sessionService, idleTimeout, config.ArchiveJobInterval)
		archiveJob.Start()
		defer archiveJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	// Streams never finish on their own; closing the broker ends them.
	broker.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
