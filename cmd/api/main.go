package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leihsy/internal/api"
	"leihsy/internal/config"
	"leihsy/internal/database"
	"leihsy/internal/domain"
	"leihsy/internal/events"
	"leihsy/internal/export"
	"leihsy/internal/google"
	"leihsy/internal/logging"
	"leihsy/internal/metrics"
	"leihsy/internal/notify"
	"leihsy/internal/repository"
	"leihsy/internal/service"
	"leihsy/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
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

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	tokenCache := buildTokenCache(redisClient, &logger)
	eventBus := events.NewEventBus()

	initTelegram(cfg, eventBus, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var syncWorker domain.SyncWorker
	if sheets := initGoogleSheets(cfg, &logger); sheets != nil {
		sw := worker.NewSyncWorker(db, sheets, redisClient, worker.RetryPolicy{}, &logger)
		go sw.Start(ctx)
		syncWorker = sw
	}

	bookings := service.NewBookingService(db, eventBus, syncWorker, &logger)
	transactions := service.NewTransactionService(db, tokenCache, eventBus, &logger)

	sweeper := worker.NewExpirySweeper(db, bookings,
		time.Duration(cfg.Booking.ExpiryGraceHours)*time.Hour,
		time.Duration(cfg.Booking.SweepIntervalMins)*time.Minute,
		&logger)
	go sweeper.Start(ctx)

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, cfg.QR.Origin, bookings, transactions, &logger)
	httpServer.EnableExports(export.NewExporter(cfg.Exports.Path, &logger))
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

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// buildTokenCache keeps redeem lookups fast when redis is around and
// degrades to the in-process cache when it is not.
func buildTokenCache(redisClient *redis.Client, logger *zerolog.Logger) domain.TokenCache {
	memory := repository.NewMemoryTokenCache()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverTokenCache(repository.NewRedisTokenCache(redisClient), memory, logger)
}

func initGoogleSheets(cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if !cfg.Google.Enabled {
		return nil
	}

	sheets, err := google.NewSheetsService(cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, cfg.Google.SheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return sheets
}

func initTelegram(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Telegram.Enabled {
		return
	}

	notifier, err := notify.NewTelegramNotifier(cfg.Telegram, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}
	notifier.SubscribeTo(bus)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.API.Metrics.Enabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.API.Metrics.Port, logger)
}

func serveHTTP(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
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
