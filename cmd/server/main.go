package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/reader-relay/internal/adapter/api"
	"github.com/user/reader-relay/internal/adapter/metrics"
	"github.com/user/reader-relay/internal/adapter/pii"
	"github.com/user/reader-relay/internal/adapter/repository/postgres"
	redisrepo "github.com/user/reader-relay/internal/adapter/repository/redis"
	"github.com/user/reader-relay/internal/adapter/repository/wal"
	"github.com/user/reader-relay/internal/domain"
	"github.com/user/reader-relay/internal/pkg/config"
	"github.com/user/reader-relay/internal/pkg/logger"
	"github.com/user/reader-relay/internal/transport/ws"
	"github.com/user/reader-relay/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	m := metrics.NewRelayMetrics()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database and Redis Connections ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("could not connect to redis, will proceed in WAL-only mode", "error", err)
	}

	// --- Initialize Repositories ---
	walRepo, err := wal.NewWALRepository(cfg.WALDir, cfg.WALMaxDiskSize, log)
	if err != nil {
		log.Error("failed to initialize WAL repository", "error", err)
		os.Exit(1)
	}
	defer walRepo.Close()

	queueRepo := redisrepo.NewQueueRepository(redisClient, log, cfg.QueueCapacity, cfg.DeadLetterMaxEntries, cfg.DeadLetterTTL, walRepo)
	eventLogRepo := redisrepo.NewEventLogRepository(redisClient, log, cfg.EventLogPerSession, cfg.EventLogRetention)
	presenceRepo := redisrepo.NewPresenceRepository(redisClient, log)
	sinkRepo := postgres.NewEventRepository(db, log)

	// Start Redis health check and WAL replay loop
	go queueRepo.StartHealthCheck(ctx, 5*time.Second)

	// --- Initialize Use Cases ---
	piiRedactor := pii.NewRedactor(strings.Split(cfg.PIIRedactionFields, ","), log)
	enqueueUseCase := usecase.NewEnqueueEventUseCase(queueRepo, piiRedactor, log, m)
	processUseCase := usecase.NewProcessEventsUseCase(queueRepo, log, m, cfg.QueueMaxRetries, cfg.QueueRetryBaseDelay, cfg.QueueHandlerTimeout)
	statsUseCase := usecase.NewStatsUseCase(queueRepo, presenceRepo, sinkRepo, processUseCase)

	// --- Initialize Hub and Socket Router ---
	hub := ws.NewHub(presenceRepo, log, m)
	authenticator := ws.NewAuthenticator(cfg.JWTSecret, log)

	allowedTypes := parseEventTypes(cfg.AllowedEventTypes)
	wsRouter := ws.NewRouter(log, authenticator, hub, enqueueUseCase, eventLogRepo, presenceRepo, m,
		allowedTypes, cfg.RateLimitWindow, cfg.RateLimitMax)

	// --- Socket Server ---
	mux := http.NewServeMux()
	mux.Handle("/ws", wsRouter)
	socketServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("starting socket server", "addr", socketServer.Addr)
		if err := socketServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("socket server failed", "error", err)
			stop()
		}
	}()

	// --- Admin and Metrics Server ---
	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: api.NewAdminRouter(statsUseCase, log),
	}

	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Drain Loop ---
	// Every accepted event is delivered to each downstream in order; the first
	// failure aborts the chain and feeds the retry path.
	handle := func(hctx context.Context, event domain.Event) error {
		if err := eventLogRepo.Append(hctx, event); err != nil {
			return err
		}
		if err := sinkRepo.Store(hctx, event); err != nil {
			return err
		}
		hub.BroadcastEvent(event)
		return nil
	}

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		ticker := time.NewTicker(cfg.QueueDrainInterval)
		defer ticker.Stop()

		log.Info("drain loop started", "interval", cfg.QueueDrainInterval)
		for {
			select {
			case <-ticker.C:
				processed, err := processUseCase.ProcessEvents(ctx, handle)
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Error("drain cycle failed", "error", err)
				}
				if processed > 0 {
					log.Debug("drain cycle completed", "processed", processed)
				}
			case <-ctx.Done():
				log.Info("context cancelled, stopping drain loop")
				return
			}
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	hub.CloseAll(errors.New("server shutting down"))
	if err := socketServer.Shutdown(shutdownCtx); err != nil {
		log.Error("socket server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}
	wsRouter.Wait()
	<-drainDone

	log.Info("server shut down gracefully")
}

func parseEventTypes(csv string) []domain.EventType {
	var types []domain.EventType
	for _, name := range strings.Split(csv, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		types = append(types, domain.EventType(name))
	}
	return types
}
