package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gearshare/internal/api"
	"gearshare/internal/config"
	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/events"
	"gearshare/internal/locking"
	"gearshare/internal/logging"
	"gearshare/internal/metrics"
	"gearshare/internal/models"
	"gearshare/internal/payments"
	"gearshare/internal/service"
	"gearshare/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
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

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer (func() { _ = locking.Close(redisClient) })()
	}

	provider, err := payments.New(cfg.Payments)
	if err != nil {
		return fmt.Errorf("init payment provider: %w", err)
	}
	logger.Info().Str("provider", provider.Name()).Msg("payment provider ready")

	retryPolicy := worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxRetries,
		InitialDelay:  cfg.Worker.InitialDelay,
		MaxDelay:      cfg.Worker.MaxDelay,
		BackoffFactor: 2,
	}
	compensator := worker.NewCompensationWorker(db, provider, redisClient, retryPolicy, logging.Component(&logger, "compensation"))
	compensator.SetPollInterval(cfg.Worker.PollInterval)
	go compensator.Start(ctx)
	if failed, err := db.GetFailedCompensationTasks(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to load dead compensation tasks")
	} else if len(failed) > 0 {
		logger.Warn().Int("count", len(failed)).Msg("compensation tasks exhausted their retries and need manual review")
	}

	bus := events.NewEventBus()
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.SubscribeBus(bus)
	}
	subscribeAudit(bus, logging.Component(&logger, "audit"))

	market := buildMarketplace(cfg, db, initLocker(cfg, redisClient, &logger), provider, compensator, bus, &logger)

	if cfg.Booking.AutoComplete.Enabled {
		sweeper := worker.NewCompletionSweeper(market.Bookings, cfg.Booking.AutoComplete.Interval, logging.Component(&logger, "sweeper"))
		go sweeper.Start(ctx)
	}

	backup := database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup"))
	go backup.Start(ctx)

	startMetrics(ctx, cfg, &logger)

	nrApp := initNewRelic(cfg, &logger)
	if nrApp != nil {
		defer nrApp.Shutdown(5 * time.Second)
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := api.NewHTTPServer(&cfg.API, market, db, nrApp, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
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

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return nil, err
	}

	listings, err := loadListings(cfg.Seed.ListingsPath, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := range listings {
		if err := db.UpsertListing(ctx, &listings[i]); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed listing %s: %w", listings[i].ID, err)
		}
	}
	if len(listings) > 0 {
		logger.Info().Int("count", len(listings)).Msg("listings seeded")
	}
	return db, nil
}

func loadListings(path string, logger *zerolog.Logger) ([]models.Listing, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("listings_path", path).Msg("listings seed file not found, skipping")
			return nil, nil
		}
		logger.Error().Err(err).Str("listings_path", path).Msg("read listings")
		return nil, err
	}

	var seed struct {
		Listings []models.Listing `yaml:"listings"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Str("listings_path", path).Msg("parse listings")
		return nil, err
	}
	return seed.Listings, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := locking.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := locking.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initLocker(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.Locker {
	memory := locking.NewMemoryLocker()
	if client == nil {
		logger.Info().Msg("using in-process listing locks")
		return memory
	}
	return locking.NewFailoverLocker(locking.NewRedisLocker(client, cfg.Redis.LockTTL), memory, logging.Component(logger, "locker"))
}

func buildMarketplace(
	cfg *config.Config,
	db *database.DB,
	locker domain.Locker,
	provider payments.Provider,
	compensator domain.Compensator,
	bus *events.EventBus,
	logger *zerolog.Logger,
) *service.Marketplace {
	bookings := service.NewBookingService(db, locker, bus, compensator, service.BookingPolicy{
		MaxBookingDays:           cfg.Booking.MaxBookingDays,
		RequirePaidForCompletion: cfg.Booking.RequirePaidForCompletion,
		OperationTimeout:         cfg.Database.QueryTimeout,
	}, logging.Component(logger, "bookings"))

	pays := service.NewPaymentService(db, provider, compensator, bus, service.PaymentPolicy{
		FeeRate:          cfg.Booking.FeeRate,
		Currency:         cfg.Booking.Currency,
		ProviderTimeout:  cfg.Payments.Timeout,
		OperationTimeout: cfg.Payments.Timeout + cfg.Database.QueryTimeout,
	}, logging.Component(logger, "payments"))

	reviews := service.NewReviewService(db, cfg.Database.QueryTimeout, logging.Component(logger, "reviews"))

	return service.NewMarketplace(bookings, pays, reviews)
}

// subscribeAudit writes every booking-core event to the log.
func subscribeAudit(bus *events.EventBus, logger *zerolog.Logger) {
	bus.SubscribeAll(func(ev *events.Event) error {
		logger.Info().
			Str("event", ev.Type).
			RawJSON("payload", ev.Payload).
			Time("at", ev.CreatedAt).
			Msg("event")
		return nil
	})
}

func initNewRelic(cfg *config.Config, logger *zerolog.Logger) *newrelic.Application {
	if !cfg.NewRelic.Enabled {
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.NewRelic.AppName),
		newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("new relic init failed, continuing without APM")
		return nil
	}
	logger.Info().Str("app_name", cfg.NewRelic.AppName).Msg("new relic enabled")
	return app
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Bool("grpc", grpcServer != nil).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
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
