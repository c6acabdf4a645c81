package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/tenantops/internal/adapter/fsm"
	handler "github.com/neomorfeo/tenantops/internal/adapter/http"
	"github.com/neomorfeo/tenantops/internal/adapter/notify"
	oteladapter "github.com/neomorfeo/tenantops/internal/adapter/otel"
	"github.com/neomorfeo/tenantops/internal/adapter/postgres"
	riveradapter "github.com/neomorfeo/tenantops/internal/adapter/river"
	"github.com/neomorfeo/tenantops/internal/adapter/secret"
	"github.com/neomorfeo/tenantops/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantops/internal/adapter/storage"
	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/config"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// devEncryptionKey keeps local runs working without configuration.
// Production refuses to start without ENCRYPTION_KEY.
const devEncryptionKey = "tenantops development key"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

// run wires every adapter, starts the job queue and the HTTP server, and
// blocks until SIGINT or SIGTERM.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg.Environment())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	providers, err := oteladapter.Setup(ctx, oteladapter.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Environment(),
		Exporter:       cfg.Telemetry.Exporter,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", slog.Any("error", err))
		}
	}()

	// --- Adapters (out) ---
	db, err := oteladapter.OpenDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := sqlite.Prepare(db); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	box, err := newSecretBox(cfg, logger)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	provisioner, closeProvisioner, err := newProvisioner(ctx, cfg.Settings.TenantDB)
	if err != nil {
		return fmt.Errorf("provisioner: %w", err)
	}
	defer closeProvisioner()

	tracedProvisioner, err := oteladapter.NewTracingProvisioner(provisioner)
	if err != nil {
		return fmt.Errorf("provisioner metrics: %w", err)
	}

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("proof storage: %w", err)
	}

	notifier, err := newNotifier(cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	sweep := &riveradapter.SweepWorker{}
	riverClient, err := riveradapter.Setup(ctx, db, riveradapter.Config{
		Notifier:      notifier,
		Sweep:         sweep,
		SweepInterval: cfg.Jobs.SweepInterval,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}

	tenants := oteladapter.NewTracingTenantRepository(sqlite.NewTenantRepository(db))
	subs := oteladapter.NewTracingSubscriptionRepository(sqlite.NewSubscriptionRepository(db))
	payments := oteladapter.NewTracingPaymentRepository(sqlite.NewPaymentRepository(db))
	plans := oteladapter.NewTracingPlanRepository(sqlite.NewPlanRepository(db))
	databases := oteladapter.NewTracingTenantDatabaseRepository(sqlite.NewTenantDatabaseRepository(db))
	publisher := oteladapter.NewTracingPublisher(riveradapter.NewPublisher(riverClient))

	// --- Application ---
	opts := []app.Option{app.WithLogger(logger)}
	settings := cfg.Settings

	tenantSvc := app.NewTenantService(tenants, subs, publisher, fsm.NewTenant(), settings, opts...)
	subSvc := app.NewSubscriptionService(subs, plans, tenants, publisher, fsm.NewSubscription(), tenantSvc, settings, opts...)
	services := handler.Services{
		Tenants:       tenantSvc,
		Provisioning:  app.NewProvisioningService(tenants, subs, databases, tracedProvisioner, box, publisher, fsm.NewProvisioning(), tenantSvc, settings, opts...),
		Plans:         app.NewPlanService(plans, opts...),
		Subscriptions: subSvc,
		Payments:      app.NewPaymentService(payments, subs, tenants, blobs, publisher, fsm.NewPayment(), subSvc, tenantSvc, opts...),
	}
	sweep.Sweeper = subSvc

	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error("river shutdown", slog.Any("error", err))
		}
	}()

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(otelchi.Middleware(cfg.Telemetry.ServiceName, otelchi.WithChiRoutes(router)))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	api := humachi.New(router, huma.DefaultConfig(cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion))
	handler.Register(api, services, handler.Options{
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		Logger:              logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening",
			slog.String("addr", srv.Addr),
			slog.String("docs", "http://localhost:"+cfg.Server.Port+"/docs"),
			slog.String("tenant_db_driver", settings.TenantDB.Driver),
			slog.Bool("auto_provisioning", settings.AutoProvisioning))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("stopped")
	return nil
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newSecretBox(cfg config.Config, logger *slog.Logger) (*secret.Box, error) {
	key := cfg.Secrets.EncryptionKey
	if key == "" {
		logger.Warn("ENCRYPTION_KEY is not set; using the development key")
		key = devEncryptionKey
	}
	return secret.NewBox(key)
}

// newProvisioner returns the tenant database provisioner for the configured
// driver and a function releasing its resources.
func newProvisioner(ctx context.Context, tmpl config.TenantDBTemplate) (domain.DatabaseProvisioner, func(), error) {
	switch tmpl.Driver {
	case config.DriverPostgres:
		p, err := postgres.NewProvisioner(ctx, tmpl.AdminURL(), tmpl.SSLMode)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		p, err := sqlite.NewFileProvisioner(tmpl.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (domain.BlobStore, error) {
	if cfg.Backend == config.StorageS3 {
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	}
	return storage.NewLocalStorage(cfg.LocalDir)
}

// newNotifier sends email through Resend when an API key is configured and
// only logs otherwise.
func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) (domain.Notifier, error) {
	if cfg.ResendAPIKey == "" {
		return notify.NewLogNotifier(logger), nil
	}
	return notify.NewEmailNotifier(cfg.ResendAPIKey, cfg.FromName, cfg.FromEmail, logger)
}
