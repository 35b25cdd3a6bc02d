package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/payments/config"
	"example.com/storefront/services/payments/internal/api/handlers"
	"example.com/storefront/services/payments/internal/api/middleware"
	"example.com/storefront/services/payments/internal/metrics"
	"example.com/storefront/services/payments/internal/services"
	"example.com/storefront/services/payments/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config        config.Config
	router        *gin.Engine
	httpServer    *http.Server
	reconciler    *services.ReconciliationService
	checkout      *services.CheckoutService
	subscriptions *services.SubscriptionService
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	reconciler *services.ReconciliationService,
	checkout *services.CheckoutService,
	subscriptions *services.SubscriptionService,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:        cfg,
		reconciler:    reconciler,
		checkout:      checkout,
		subscriptions: subscriptions,
		metrics:       m,
		tracer:        tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           server.router,
		ReadHeaderTimeout: cfg.ServerTimeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log.Logger))

	webhookHandler := handlers.NewWebhookHandler(s.reconciler, s.tracer)
	webhookHandler.RegisterRoutes(router)

	checkoutHandler := handlers.NewCheckoutHandler(s.checkout, s.tracer)
	checkoutHandler.RegisterRoutes(router)

	subscriptionHandler := handlers.NewSubscriptionHandler(s.subscriptions, s.tracer)
	subscriptionHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics)
	metricsHandler.RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
