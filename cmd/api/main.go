package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tripline/internal/api"
	"tripline/internal/config"
	"tripline/internal/connectivity"
	"tripline/internal/database"
	"tripline/internal/domain"
	"tripline/internal/events"
	"tripline/internal/export"
	"tripline/internal/logging"
	"tripline/internal/metrics"
	"tripline/internal/models"
	"tripline/internal/payment"
	"tripline/internal/realtime"
	"tripline/internal/remote"
	"tripline/internal/repository"
	"tripline/internal/service"
	"tripline/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	store, err := database.NewStore(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	stateRepo := initStateRepository(ctx, cfg, &logger)

	remoteClient := remote.NewClient(cfg.Remote, &logger)
	feed := remote.NewFeed(cfg.Remote, &logger)

	// Initial state mirrors the environment at startup
	probeCtx, cancelProbe := context.WithTimeout(ctx, 5*time.Second)
	initialOnline := remoteClient.Ping(probeCtx) == nil
	cancelProbe()

	monitor := connectivity.NewMonitor(remoteClient, bus, &logger, cfg.Sync.ProbeInterval, initialOnline)
	go monitor.Run(ctx)

	sync := syncer.New(store, store, remoteClient, stateRepo, bus, cfg.Sync.DrainBatchSize, &logger)
	sync.Start()

	retry := syncer.RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  cfg.Sync.ResubscribeDelay,
		MaxDelay:      2 * time.Minute,
		BackoffFactor: 2,
	}
	reconciler := realtime.NewReconciler(feed, sync, bus, retry, monitor.Online(), &logger)
	reconciler.Start()
	defer reconciler.Close()

	trackActiveUser(ctx, bus, sync, reconciler, &logger)

	initiator := payment.NewInitiator(cfg.Payment, &logger)
	bookingSvc := service.NewBookingService(store, store, remoteClient, monitor, initiator, stateRepo, bus, cfg.Payment, &logger)
	stateSvc := service.NewSyncStateService(stateRepo, store, &logger)
	exporter := export.NewExporter(store, cfg.Exports, &logger)

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(store.Path(), cfg.Backup, &logger)
		go backup.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	handlers := api.NewHandlers(bookingSvc, sync, stateSvc, exporter, monitor, cfg, &logger)
	httpServer := api.NewHTTPServer(cfg.API, handlers, &logger)

	return serveHTTP(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// trackActiveUser points the reconnect drain and the change feed at whoever
// mutated a booking last, so background sync follows the active session.
func trackActiveUser(ctx context.Context, bus *events.EventBus, sync *syncer.Synchronizer, reconciler *realtime.Reconciler, logger *zerolog.Logger) {
	bus.Subscribe(events.EventBookingMutated, func(e *events.Event) error {
		var p events.BookingEventPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.UserID == "" {
			return nil
		}
		sync.SetUser(p.UserID)
		go func() {
			if err := reconciler.SetUser(ctx, p.UserID); err != nil {
				logger.Warn().Err(err).Str("user_id", p.UserID).Msg("realtime subscription switch failed")
			}
		}()
		return nil
	})
}

// initStateRepository prefers Redis with an in-memory fallback so advisory
// sync state survives a Redis outage.
func initStateRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.StateRepository {
	ttl := time.Duration(models.DefaultRedisTTL) * time.Second
	memory := repository.NewMemoryStateRepository(ttl)

	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, using in-memory sync state")
		return memory
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, using in-memory sync state")
		return memory
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	primary := repository.NewRedisStateRepository(client, ttl)
	return repository.NewFailoverStateRepository(primary, memory, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serveHTTP(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.Enabled {
			logger.Warn().Msg("HTTP API is disabled in config")
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Msg("booking engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("booking engine stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
