package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	handlers "github.com/th1s9uy/saas-billing/internal/adapter/handler/http"
	"github.com/th1s9uy/saas-billing/internal/adapter/repository"
	"github.com/th1s9uy/saas-billing/internal/config"
	"github.com/th1s9uy/saas-billing/internal/domain/provider"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/database"
	grpcServer "github.com/th1s9uy/saas-billing/internal/infrastructure/grpc"
	httpServer "github.com/th1s9uy/saas-billing/internal/infrastructure/http"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/messaging"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/metrics"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/notification"
	stripeProvider "github.com/th1s9uy/saas-billing/internal/infrastructure/provider/stripe"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/scheduler"
	"github.com/th1s9uy/saas-billing/internal/usecase"
	"github.com/th1s9uy/saas-billing/pkg/logger"
	pkgmessaging "github.com/th1s9uy/saas-billing/pkg/messaging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewZapLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger = zapLogger.With(
		zap.String("service", cfg.Service.Name),
		zap.String("environment", cfg.Service.Environment),
	)

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, zapLogger); err != nil {
			zapLogger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	// Run database migrations
	if err := database.Migrate(db, zapLogger); err != nil {
		zapLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	repos := database.NewRepositories(db, zapLogger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	billingMetrics := metrics.NewMetrics(registry)

	gateway := stripeProvider.NewStripeProvider(stripeProvider.Options{
		SecretKey: cfg.Stripe.SecretKey,
		Timeout:   cfg.Stripe.Timeout,
	}, zapLogger)

	var publisher provider.EventPublisher = messaging.NoopEventPublisher{}
	if cfg.Redis.Enabled {
		redisClient, err := pkgmessaging.NewRedisClient(pkgmessaging.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			WriteTimeout: time.Second,
		})
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		publisher = messaging.NewRedisEventPublisher(redisClient, cfg.Redis.Channel, zapLogger)
	}

	var notifier *usecase.BillingNotifier
	if cfg.Email.Enabled {
		sender := notification.NewSMTPSender(cfg.Email, zapLogger)
		notifier = usecase.NewBillingNotifier(sender, cfg.Email.FromName, cfg.Service.ClientURL, zapLogger)
	}

	// Services
	ledger := usecase.NewLedgerService(repos.Ledger, repos.Organization, repos.Catalog, billingMetrics, zapLogger, cfg.Billing.ExpiringSoonWindow)
	subscriptions := usecase.NewSubscriptionService(repos.Subscription, repos.Catalog, ledger, gateway, zapLogger)
	catalog := usecase.NewCatalogService(repos.Catalog, repos.Subscription, cfg.Billing.PlanCacheSize, zapLogger)
	checkout := usecase.NewCheckoutService(gateway, repos.Catalog, repos.Subscription,
		usecase.ResolveCheckoutURLs(cfg.Service.ClientURL, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL, cfg.Stripe.PortalReturnURL),
		zapLogger)
	billing := usecase.NewBillingService(repos.Subscription, repos.Catalog, repos.Ledger, repos.BillingHistory, ledger, zapLogger)
	audit := usecase.NewAuditService(repos.Organization, ledger, cfg.Billing.AuditConcurrency, billingMetrics, zapLogger)
	membership := usecase.NewMembershipService(
		repository.NewSupabaseMembershipRepository(cfg.Auth.Supabase.ProjectURL, cfg.Auth.Supabase.APIKey, zapLogger),
		cfg.Auth.MembershipCacheTTL,
		zapLogger,
	)
	reconciler := usecase.NewWebhookReconciler(
		stripeProvider.NewWebhookVerifier(cfg.Stripe.WebhookSecret),
		usecase.WebhookRepositories{
			Webhooks:      repos.WebhookEvent,
			Billing:       repos.BillingHistory,
			Subscriptions: repos.Subscription,
			Organizations: repos.Organization,
			Ledger:        repos.Ledger,
			Catalog:       repos.Catalog,
		},
		ledger,
		subscriptions,
		catalog,
		gateway,
		publisher,
		notifier,
		billingMetrics,
		zapLogger,
	)

	// Scheduled ledger audit
	jobs := scheduler.NewScheduler(zapLogger)
	if cfg.Billing.AuditSchedule != "" {
		if err := jobs.AddJob("ledger_audit", cfg.Billing.AuditSchedule, audit.Run); err != nil {
			zapLogger.Fatal("Failed to schedule ledger audit", zap.Error(err))
		}
	}
	jobs.Start()

	// Initialize servers
	grpcSrv := grpcServer.NewServer(
		grpcServer.WithAddress(cfg.Server.GRPC.Address()),
		grpcServer.WithLogger(zapLogger),
		grpcServer.WithReflection(cfg.Service.Environment != "production"),
	)
	httpSrv := httpServer.NewServer(cfg, zapLogger, httpServer.Handlers{
		Credits:       handlers.NewCreditHandler(zapLogger, ledger),
		Subscriptions: handlers.NewSubscriptionHandler(zapLogger, subscriptions),
		Checkout:      handlers.NewCheckoutHandler(zapLogger, checkout),
		Billing:       handlers.NewBillingHandler(zapLogger, billing),
		Catalog:       handlers.NewCatalogHandler(zapLogger, catalog),
		Webhooks:      handlers.NewWebhookHandler(zapLogger, reconciler),
	}, membership, registry)

	// Start servers
	go func() {
		if err := grpcSrv.Start(); err != nil {
			zapLogger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.Start(); err != nil {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zapLogger.Info("Shutting down servers...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop intake first, then drain in-flight webhook processing.
	if err := httpSrv.Shutdown(ctx); err != nil {
		zapLogger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}
	if err := grpcSrv.Shutdown(ctx); err != nil {
		zapLogger.Error("Failed to shutdown gRPC server", zap.Error(err))
	}
	jobs.Stop(ctx)
	reconciler.Wait()

	zapLogger.Info("Servers shut down successfully")
}
