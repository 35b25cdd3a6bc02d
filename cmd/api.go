package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/storefront/services/payments/config"
	"example.com/storefront/services/payments/internal/api"
	"example.com/storefront/services/payments/internal/cache"
	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/messaging"
	"example.com/storefront/services/payments/internal/metrics"
	"example.com/storefront/services/payments/internal/models"
	"example.com/storefront/services/payments/internal/repositories"
	"example.com/storefront/services/payments/internal/search"
	"example.com/storefront/services/payments/internal/services"
	"example.com/storefront/services/payments/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server handling gateway webhooks, checkout and subscription self-service`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	sessionStore, err := cache.NewSessionStore(cfg.Redis, cfg.Reconcile.SessionStateTTL)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	indexer, err := search.NewElasticIndexer(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch indexer, continuing without audit indexing")
	}

	publisher, err := messaging.NewPublisher(cfg.ServiceBus)
	if err != nil {
		return err
	}
	defer publisher.Close()

	metricsCollector := metrics.New()
	metricsCollector.SetHealth("database", true)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
	})

	orderRepo := repositories.NewOrderRepository(db, readOnlyDB)
	subscriptionRepo := repositories.NewSubscriptionRepository(db, readOnlyDB)
	planRepo := repositories.NewPlanRepository(db, readOnlyDB)

	reconciler := services.NewReconciliationService(
		orderRepo, subscriptionRepo, gatewayClient,
		publisher, indexer, metricsCollector,
		cfg.Gateway, cfg.Reconcile,
	)
	checkout := services.NewCheckoutService(
		orderRepo, subscriptionRepo, planRepo, sessionStore,
		gatewayClient, publisher, metricsCollector, cfg.Gateway,
	)
	subscriptions := services.NewSubscriptionService(
		subscriptionRepo, gatewayClient, publisher, metricsCollector,
	)

	server := api.NewServer(cfg, reconciler, checkout, subscriptions, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if tracer != nil {
		tracer.Close()
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to access underlying connection pool")
	}
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	// Auto-migrate only through the write connection
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	return db, readOnlyDB, nil
}
