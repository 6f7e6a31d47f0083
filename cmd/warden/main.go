package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	purgeOnce   = flag.Bool("purge-once", false, "Purge expired audit events once and exit")
	migrateOnly = flag.Bool("migrate-only", false, "Apply database migrations and exit")
)

// dbStatsInterval controls how often pool statistics are exported
const dbStatsInterval = 15 * time.Second

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithFormat(cfg.Observability.Level(), os.Stdout, cfg.Observability.Format()).
		WithField("service", "warden").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("warden exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelCfg := cfg.Observability.OTel()
	if otelCfg.ServiceVersion == "" {
		otelCfg.ServiceVersion = version
	}
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	primary := cm.Primary()

	if err := rbac.RunMigrations(ctx, primary); err != nil {
		cm.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if *migrateOnly {
		logger.Info("Migrations applied")
		return cm.Close()
	}

	auditLogger, err := audit.NewDBLogger(primary)
	if err != nil {
		cm.Close()
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	auditStore := audit.NewDBStore(auditLogger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	retention := audit.NewRetentionJob(auditStore, audit.RetentionPolicy{RetentionDays: cfg.Audit.RetentionDays}, metrics, logger)
	if *purgeOnce {
		removed, err := retention.Run(ctx)
		if closeErr := cm.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close database connections")
		}
		if err != nil {
			return err
		}
		logger.WithField("removed", removed).Info("Audit purge completed")
		return nil
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisEnabled() {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			cm.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis connected, role change notifications enabled")
	}

	store := rbac.NewStore(primary)
	if cfg.Bootstrap.Enabled() {
		if err := bootstrap(observability.WithLogger(ctx, logger), store, cfg.Bootstrap); err != nil {
			logger.WithError(err).Error("Failed to seed built-in roles")
		} else {
			logger.WithField("tenant_id", cfg.Bootstrap.TenantID).Info("Built-in roles seeded")
		}
	}

	var notifier rbac.Notifier = rbac.NopNotifier{}
	if redisClient != nil {
		notifier = rbac.NewRedisNotifier(redisClient)
	}

	replica := cm.Replica()
	catalog := rbac.NewSQLCatalog(replica)
	service := rbac.NewService(store, catalog,
		rbac.WithReadStore(rbac.NewStore(replica)),
		rbac.WithAuditLogger(auditLogger),
		rbac.WithNotifier(notifier),
		rbac.WithMetrics(metrics),
	)

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggerMiddleware(logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		observability.HTTPMetricsMiddleware(metrics),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
	)

	api := router.NewRoute().Subrouter()
	api.Use(middleware.NewSessionMiddleware(false).Handler)
	if cfg.RateLimit.Enabled {
		api.Use(newRateLimitMiddleware(ctx, cfg.RateLimit, redisClient).Handler)
	}
	rbac.NewHandlers(service).RegisterRoutes(api)
	audit.NewHandlers(auditStore).RegisterRoutes(api)

	adminMux := http.NewServeMux()
	checker := observability.NewHealthChecker(primary, redisClient, version).
		AddCheck("schema", true, func(ctx context.Context) error { return rbac.CheckSchema(ctx, primary) }).
		AddCheck("catalog", true, catalog.Ping)
	observability.RegisterHealthRoutes(adminMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(adminMux, registry)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "warden"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	adminServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           adminMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler := cron.New()
	if _, err := retention.Schedule(scheduler, cfg.Audit.PurgeSchedule); err != nil {
		cm.Close()
		return err
	}
	scheduler.Start()

	if cfg.Storage.ReplicaCheckInterval > 0 && len(cfg.Storage.PostgresReplicaURLs) > 0 {
		cm.StartHealthCheckRoutine(ctx, cfg.Storage.ReplicaCheckInterval)
	}
	go exportDBStats(ctx, cm, metrics, logger)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, adminServer)
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		if providers == nil {
			return nil
		}
		return providers.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc("postgres", func(context.Context) error {
		return cm.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("cron", func(ctx context.Context) error {
		stopped := scheduler.Stop()
		select {
		case <-stopped.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("background", func(context.Context) error {
		cancel()
		return nil
	})

	serve := func(name string, srv *http.Server) {
		defer observability.RecoverPanic(logger, name+" server")
		logger.WithFields(map[string]interface{}{"server": name, "addr": srv.Addr}).Info("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).WithField("server", name).Error("Server failed")
			cancel()
		}
	}
	go serve("api", apiServer)
	go serve("admin", adminServer)

	logger.WithFields(map[string]interface{}{
		"purge_schedule": cfg.Audit.PurgeSchedule,
		"rate_limit":     cfg.RateLimit.Enabled,
		"replicas":       len(cfg.Storage.PostgresReplicaURLs),
	}).Info("Warden started")

	return shutdown.WaitForShutdown(ctx)
}

// bootstrap seeds the built-in roles for the configured tenant
func bootstrap(ctx context.Context, store *rbac.Store, cfg config.BootstrapConfig) error {
	tenantID, err := uuid.Parse(cfg.TenantID)
	if err != nil {
		return fmt.Errorf("invalid bootstrap tenant id: %w", err)
	}
	userID := uuid.Nil
	if cfg.UserID != "" {
		if userID, err = uuid.Parse(cfg.UserID); err != nil {
			return fmt.Errorf("invalid bootstrap user id: %w", err)
		}
	}
	return rbac.InitializeBuiltInRoles(ctx, store, tenantID, userID)
}

// newRateLimitMiddleware shares limits through Redis when it is configured
func newRateLimitMiddleware(ctx context.Context, cfg config.RateLimitConfig, redisClient *redis.Client) *middleware.RateLimitMiddleware {
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerWindow,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.Burst,
	}
	if redisClient != nil {
		return middleware.NewRateLimitMiddleware(middleware.NewDistributedRateLimiter(redisClient, limits, ""))
	}
	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return middleware.NewRateLimitMiddleware(limiter)
}

func exportDBStats(ctx context.Context, cm *postgres.ConnectionManager, metrics *observability.Metrics, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, "db stats exporter")

	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBStats(cm.Primary().Stats())
		}
	}
}
