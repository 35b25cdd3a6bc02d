package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/storefront/services/payments/config"
	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/messaging"
	"example.com/storefront/services/payments/internal/metrics"
	"example.com/storefront/services/payments/internal/repositories"
	"example.com/storefront/services/payments/internal/search"
	"example.com/storefront/services/payments/internal/services"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker running the catch-up reconciliation poll and webhook registration refresh`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, ctx := errgroup.WithContext(ctx)

	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
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

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
	})

	orderRepo := repositories.NewOrderRepository(db, readOnlyDB)
	subscriptionRepo := repositories.NewSubscriptionRepository(db, readOnlyDB)

	reconciler := services.NewReconciliationService(
		orderRepo, subscriptionRepo, gatewayClient,
		publisher, indexer, metricsCollector,
		cfg.Gateway, cfg.Reconcile,
	)
	registrar := services.NewWebhookRegistrar(gatewayClient, cfg.Gateway)

	// Register the webhook once at startup so a fresh deployment starts
	// receiving events before the first refresh tick.
	if err := registrar.EnsureWebhook(ctx); err != nil {
		log.Error().Err(err).Msg("Initial webhook registration failed")
	}

	g.Go(func() error {
		log.Info().
			Dur("poll_interval", cfg.Reconcile.PollInterval).
			Msg("Starting catch-up reconciliation job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Reconcile.PollInterval),
			gocron.NewTask(func() {
				if err := reconciler.ReconcilePendingOrders(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile pending orders")
				}
			}),
		)
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Reconcile.WebhookRefresh),
			gocron.NewTask(func() {
				if err := registrar.EnsureWebhook(ctx); err != nil {
					log.Error().Err(err).Msg("Webhook registration refresh failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
