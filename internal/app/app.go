package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/zateckar/monitor-sub001/internal/aggregator"
	"github.com/zateckar/monitor-sub001/internal/applog"
	"github.com/zateckar/monitor-sub001/internal/auth"
	"github.com/zateckar/monitor-sub001/internal/certwatch"
	"github.com/zateckar/monitor-sub001/internal/config"
	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/failover"
	handler "github.com/zateckar/monitor-sub001/internal/handler/http"
	"github.com/zateckar/monitor-sub001/internal/identity"
	"github.com/zateckar/monitor-sub001/internal/kafkapool"
	"github.com/zateckar/monitor-sub001/internal/migrations"
	"github.com/zateckar/monitor-sub001/internal/notify"
	"github.com/zateckar/monitor-sub001/internal/probe"
	"github.com/zateckar/monitor-sub001/internal/reaper"
	"github.com/zateckar/monitor-sub001/internal/repository/postgres"
	"github.com/zateckar/monitor-sub001/internal/role"
	"github.com/zateckar/monitor-sub001/internal/scheduler"
	"github.com/zateckar/monitor-sub001/internal/syncapi"
	"github.com/zateckar/monitor-sub001/internal/syncclient"
	"github.com/zateckar/monitor-sub001/pkg/database"
	"github.com/zateckar/monitor-sub001/pkg/health"
	"github.com/zateckar/monitor-sub001/pkg/middleware"
	"github.com/zateckar/monitor-sub001/pkg/tracing"
)

const appVersion = "1.0.0"

// App wires together all dependencies and runs one monitoring instance.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool      *pgxpool.Pool
	cache     *redis.Client
	kafkaPool *kafkapool.Pool

	ident      *identity.Identity
	roles      *role.Manager
	dispatcher *notify.Dispatcher
	sched      *scheduler.Scheduler
	agg        *aggregator.Aggregator
	certWatch  *certwatch.Watcher
	reaper     *reaper.Reaper

	instances  *postgres.InstanceRepository
	endpoints  *postgres.EndpointRepository
	syncStatus *postgres.SyncStatusRepository

	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
// logger is the bootstrap logger; the returned app logs through a handler
// that also persists entries to the application log table. level is the live
// threshold shared with the runtime log-level API.
func NewApp(cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}

	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "monitor")

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Repositories.
	endpoints := postgres.NewEndpointRepository(pool)
	outcomes := postgres.NewOutcomeRepository(pool)
	instances := postgres.NewInstanceRepository(pool)
	tokens := postgres.NewTokenRepository(pool)
	configRepo := postgres.NewConfigRepository(pool)
	aggregates := postgres.NewAggregateRepository(pool)
	syncStatus := postgres.NewSyncStatusRepository(pool)
	logs := postgres.NewLogRepository(pool)

	// From here on everything logs through the persisting handler.
	log := slog.New(applog.NewHandler(logger.Handler(), logs))

	applogSvc := applog.NewService(logs, configRepo, level)
	if err := applogSvc.RestoreLevel(ctx); err != nil {
		log.Warn("restore persisted log level", slog.Any("error", err))
	}

	ident, err := identity.Bootstrap(ctx, configRepo, cfg.SharedSecret)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap identity: %w", err)
	}
	log.Info("instance identity", slog.String("instance_id", ident.InstanceID))

	roles, err := role.NewManager(ctx, configRepo, cfg.PrimarySyncURL, cfg.InstanceRole, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("resolve instance role: %w", err)
	}
	log.Info("instance role resolved", slog.String("role", string(roles.Current())))

	issuer := auth.NewIssuer(ident.JWTSecret)

	// Redis aggregate cache is optional. A monitor without it falls back to
	// reading aggregates from PostgreSQL.
	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache, err = newRedisCache(ctx, cfg)
		if err != nil {
			log.Warn("redis cache unavailable, continuing without it",
				slog.String("addr", cfg.RedisAddr),
				slog.Any("error", err),
			)
			cache = nil
		}
	}

	agg := aggregator.New(aggregates, cache, log)

	// Probe plane.
	kafkaPool := kafkapool.New(log)
	registry := probe.NewRegistry(
		probe.NewHTTPExecutor(),
		probe.NewTCPExecutor(),
		probe.NewPingExecutor(false),
		probe.NewKafkaProducerExecutor(kafkaPool),
		probe.NewKafkaConsumerExecutor(kafkaPool),
	)

	dispatcher := notify.NewDispatcher(
		[]notify.Notifier{notify.NewLogNotifier("default", log)}, log)
	if roles.Current() == role.Dependent {
		dispatcher.SetSuppressed(true)
	}

	sched := scheduler.New(registry, endpoints, outcomes, dispatcher, kafkaPool,
		ident.InstanceID, cfg.InstanceLocation, log)

	certWatcher := certwatch.NewWatcher(endpoints, func(ctx context.Context, e *domain.Endpoint, info *certwatch.CertInfo) {
		dispatcher.DispatchEvent(ctx, e, fmt.Sprintf(
			"certificate %s expires in %d days", info.Subject, info.DaysRemaining))
	}, log)

	sweeper := reaper.New(instances, outcomes, applogSvc,
		time.Duration(cfg.RetentionDays)*24*time.Hour, log)

	// HTTP surface.
	syncServer := syncapi.NewServer(instances, tokens, endpoints, outcomes,
		configRepo, agg, issuer, roles, log)

	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if cache != nil {
		healthHandler.Register("redis", func(ctx context.Context) error {
			return cache.Ping(ctx).Err()
		})
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	router := handler.NewRouter(
		handler.NewEndpointHandler(endpoints, outcomes, agg, sched, certwatch.NewRDAPClient(), log),
		handler.NewLogsHandler(applogSvc, log),
		syncServer.Routes(),
		healthHandler,
		corsCfg,
		cfg.PprofAllowedCIDRs,
		log,
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		pool:       pool,
		cache:      cache,
		kafkaPool:  kafkaPool,
		ident:      ident,
		roles:      roles,
		dispatcher: dispatcher,
		sched:      sched,
		agg:        agg,
		certWatch:  certWatcher,
		reaper:     sweeper,
		instances:  instances,
		endpoints:  endpoints,
		syncStatus: syncStatus,
		httpServer: httpServer,
	}, nil
}

// Run starts the role-appropriate subsystems and the HTTP server, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.TracingEnabled {
		shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
			ServiceName:    "monitor",
			ServiceVersion: appVersion,
			Environment:    a.cfg.Environment,
			OTLPEndpoint:   a.cfg.OTLPEndpoint,
			SampleRate:     a.cfg.TraceSampling,
			Enabled:        true,
		})
		if err != nil {
			a.logger.Warn("tracing init failed", slog.Any("error", err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracer(shutdownCtx)
			}()
		}
	}

	switch a.roles.Current() {
	case role.Dependent:
		a.startDependent(ctx)
	case role.Primary:
		a.startPrimaryDuties(ctx)
	default:
		a.startStandalone(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// startPrimaryDuties brings up everything a primary runs: the probe plane
// with consensus aggregation, cert expiry sweeps and the registry reaper.
// Also the tail end of a failover promotion.
func (a *App) startPrimaryDuties(ctx context.Context) {
	a.dispatcher.SetSuppressed(false)
	a.sched.SetSink(&aggregatorSink{agg: a.agg, logger: a.logger})

	a.registerSelf(ctx)

	if err := a.sched.StartAll(ctx); err != nil {
		a.logger.Error("start monitoring loops", slog.Any("error", err))
	}
	go a.certWatch.Run(ctx)
	go a.reaper.Run(ctx)
}

func (a *App) startStandalone(ctx context.Context) {
	if err := a.sched.StartAll(ctx); err != nil {
		a.logger.Error("start monitoring loops", slog.Any("error", err))
	}
	go a.certWatch.Run(ctx)
}

// startDependent runs the sync client against the primary and arms the
// failover watchdog. Monitoring loops are started by the client once the
// first endpoint sync lands.
func (a *App) startDependent(ctx context.Context) {
	depCtx, stopDependent := context.WithCancel(ctx)

	client := syncclient.New(syncclient.Config{
		PrimaryURL:     a.roles.PrimarySyncURL(),
		SharedSecret:   a.ident.SharedSecret,
		InstanceID:     a.ident.InstanceID,
		InstanceName:   a.cfg.InstanceName,
		Location:       a.cfg.InstanceLocation,
		Version:        appVersion,
		FailoverOrder:  a.cfg.FailoverOrder,
		PublicEndpoint: a.cfg.PublicEndpoint,
		SyncURL:        a.cfg.SyncURL,
		SyncInterval:   a.cfg.SyncInterval(),
	}, a.endpoints, a.syncStatus, a.instances, a.sched, a.logger)

	a.sched.SetSink(client)
	go func() {
		if err := client.Run(depCtx); err != nil && depCtx.Err() == nil {
			a.logger.Error("sync client stopped", slog.Any("error", err))
		}
	}()

	watchdog := failover.New(a.instances, a.roles, a.roles.PrimarySyncURL(),
		a.ident.InstanceID, a.cfg.FailoverOrder,
		func(promotedCtx context.Context) {
			stopDependent()
			a.logger.Info("assuming primary duties after failover")
			a.startPrimaryDuties(promotedCtx)
		}, a.logger)

	go func() {
		if err := watchdog.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("failover watchdog stopped", slog.Any("error", err))
		}
	}()
}

// registerSelf keeps the primary's own row in the instance registry so the
// instances API and consensus counts include this location.
func (a *App) registerSelf(ctx context.Context) {
	now := time.Now()
	err := a.instances.Upsert(ctx, &domain.Instance{
		InstanceID:     a.ident.InstanceID,
		Name:           a.cfg.InstanceName,
		Location:       a.cfg.InstanceLocation,
		SyncURL:        a.cfg.SyncURL,
		PublicEndpoint: a.cfg.PublicEndpoint,
		Version:        appVersion,
		FailoverOrder:  a.cfg.FailoverOrder,
		LastHeartbeat:  &now,
		Status:         domain.InstanceActive,
	})
	if err != nil {
		a.logger.Warn("register own instance row", slog.Any("error", err))
	}
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down monitor")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.Any("error", err))
	}

	a.sched.StopAll()
	a.kafkaPool.Close()

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("redis close error", slog.Any("error", err))
		}
	}
	a.pool.Close()

	a.logger.Info("monitor shutdown complete")
	return nil
}

// aggregatorSink feeds locally produced outcomes into consensus aggregation.
type aggregatorSink struct {
	agg    *aggregator.Aggregator
	logger *slog.Logger
}

func (s *aggregatorSink) Push(o domain.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.agg.Ingest(ctx, o); err != nil {
		s.logger.Warn("aggregate local outcome",
			slog.Int64("endpoint_id", o.EndpointID),
			slog.Any("error", err),
		)
	}
}

func newRedisCache(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	host, portStr, err := net.SplitHostPort(cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("parse redis address %q: %w", cfg.RedisAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse redis port %q: %w", portStr, err)
	}
	return database.NewRedisClient(ctx, database.RedisConfig{
		Host:     host,
		Port:     port,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
