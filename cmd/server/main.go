package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openclaw/consult-session-go/internal/config"
	"github.com/openclaw/consult-session-go/internal/countdown"
	"github.com/openclaw/consult-session-go/internal/database"
	"github.com/openclaw/consult-session-go/internal/handler"
	"github.com/openclaw/consult-session-go/internal/httputil"
	"github.com/openclaw/consult-session-go/internal/jobs"
	"github.com/openclaw/consult-session-go/internal/middleware"
	"github.com/openclaw/consult-session-go/internal/redis"
	"github.com/openclaw/consult-session-go/internal/repository"
	"github.com/openclaw/consult-session-go/internal/room"
	"github.com/openclaw/consult-session-go/internal/service"
	"github.com/openclaw/consult-session-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(cfg.IsProduction()); err != nil {
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
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewSessionRepository(db.DB)
	cache := countdown.NewRedisCache(redisClient.Client)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var rooms room.Client = room.NoopClient{}
	if cfg.RoomServiceURL != "" {
		rooms = room.NewHTTPClient(cfg.RoomServiceURL, cfg.RoomServiceAPIKey, cfg.RoomRequestTimeout())
	} else {
		log.Warn().Msg("ROOM_SERVICE_URL not set: access tokens unavailable")
	}

	sessionService := service.NewSessionService(db, sessionRepo, cache, broker, rooms, service.Options{
		WarningThresholdSeconds:   cfg.WarningThresholdSeconds,
		PausedFallbackSeconds:     cfg.PausedFallbackSeconds,
		DefaultGracePeriodSeconds: cfg.DefaultGracePeriodSeconds,
	})

	// Countdowns are rebuilt before the first tick so the worker never
	// mistakes a wiped cache for exhausted sessions.
	recoveryCtx, recoveryCancel := context.WithTimeout(context.Background(), config.RecoveryTimeout)
	if _, err := jobs.NewRecovery(sessionRepo, sessionService, cfg.RecoveryPlaceholderSeconds).Run(recoveryCtx); err != nil {
		log.Error().Err(err).Msg("crash recovery failed, timer worker will self-heal")
	}
	recoveryCancel()

	timerWorker := jobs.NewTimerWorker(sessionRepo, cache, sessionService, broker, jobs.TimerOptions{
		Interval:                cfg.TimerTick(),
		WarningThresholdSeconds: cfg.WarningThresholdSeconds,
		LeaseEnabled:            cfg.TimerLeaseEnabled,
		Concurrency:             cfg.TimerConcurrency,
	})

	authMiddleware := middleware.NewServiceAuthMiddleware(cfg.ServiceAPIKey)
	eventsHandler := handler.NewEventsHandler(broker, sessionService)
	sessionHandler := handler.NewSessionHandler(sessionService, eventsHandler)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.BodyLimit(0))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		dbErr := db.Ping(ctx)
		redisErr := redisClient.Ping(ctx).Err()
		if dbErr != nil || redisErr != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{
			"status":    status,
			"database":  dbErr == nil,
			"redis":     redisErr == nil,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/", sessionHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		timerWorker.Start()
		<-gctx.Done()
		timerWorker.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer shutdownCancel()

		broker.Close()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
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
