package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ecwu/openbook/pkg/api"
	"github.com/ecwu/openbook/pkg/audit"
	"github.com/ecwu/openbook/pkg/booking"
	"github.com/ecwu/openbook/pkg/config"
	"github.com/ecwu/openbook/pkg/database"
	"github.com/ecwu/openbook/pkg/directory"
	"github.com/ecwu/openbook/pkg/identity"
	"github.com/ecwu/openbook/pkg/observability"
	"github.com/ecwu/openbook/pkg/sso"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	flag.Parse()

	startup := logrus.New()
	startup.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		startup.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		startup.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	dialect := database.DialectFor(cfg.Database.Driver)
	if err := runMigrations(ctx, db, dialect); err != nil {
		startup.WithError(err).Fatal("failed to run migrations")
	}
	logger.Info("database migrations applied")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, login rate limiting degrades to fail-open")
		}
		cancel()
		defer redisClient.Close()
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		startup.WithError(err).Fatal("failed to initialize OpenTelemetry")
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	server := api.NewServer(db, api.Options{
		BaseURL:         cfg.SSO.BaseURL,
		Logger:          logger,
		Metrics:         metrics,
		Redis:           redisClient,
		LoginRateLimit:  cfg.SSO.LoginRateLimit,
		LoginRateWindow: cfg.SSO.LoginRateWindow,
	})

	var handler http.Handler = server
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "openbook-api")
	}

	mainSrv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthSrv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux(db, redisClient, metrics),
	}

	scheduler := startCleanupJobs(ctx, logger, server)

	shutdown := observability.NewShutdownManager(logger, mainSrv, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return healthSrv.Shutdown(shutdownCtx)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		scheduler.Stop()
		return nil
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("OpenBook API listening on %s", mainSrv.Addr)
		if err := mainSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health and metrics server listening on %s", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	if err := g.Wait(); err != nil {
		startup.WithError(err).Fatal("server exited")
	}
	logger.Info("shutdown complete")
}

// runMigrations applies schema migrations for every component in
// dependency order.
func runMigrations(ctx context.Context, db *sql.DB, dialect database.Dialect) error {
	components := []struct {
		name       string
		migrations []database.Migration
	}{
		{identity.MigrationComponent, identity.Migrations()},
		{sso.MigrationComponent, sso.Migrations()},
		{booking.MigrationComponent, booking.Migrations()},
		{directory.MigrationComponent, directory.Migrations()},
		{audit.MigrationComponent, audit.Migrations()},
	}
	for _, component := range components {
		if err := database.Migrate(ctx, db, dialect, component.name, component.migrations); err != nil {
			return err
		}
	}
	return nil
}

// healthMux serves the probe and metrics endpoints on the side port
func healthMux(db *sql.DB, redisClient *redis.Client, metrics *observability.Metrics) http.Handler {
	checker := observability.NewHealthChecker(db, redisClient)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

// startCleanupJobs schedules the periodic session and invitation sweeps
func startCleanupJobs(ctx context.Context, logger *observability.Logger, server *api.Server) *cron.Cron {
	scheduler := cron.New()

	sessions := server.SSO().Sessions()
	scheduler.AddFunc("@hourly", func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		deleted, err := sessions.CleanupExpiredSessions(jobCtx)
		if err != nil {
			logger.WithError(err).Error("session cleanup failed")
			return
		}
		if deleted > 0 {
			logger.Infof("removed %d expired sessions", deleted)
		}
	})

	dir := server.Directory()
	scheduler.AddFunc("@hourly", func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		deleted, err := dir.CleanupExpiredInvitations(jobCtx)
		if err != nil {
			logger.WithError(err).Error("invitation cleanup failed")
			return
		}
		if deleted > 0 {
			logger.Infof("removed %d expired invitations", deleted)
		}
	})

	scheduler.Start()
	return scheduler
}
