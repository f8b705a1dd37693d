package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/internal/repositories/mergephase"
	"github.com/Ramsey-B/fern/internal/repositories/mergerun"
	"github.com/Ramsey-B/fern/internal/repositories/permission"
	"github.com/Ramsey-B/fern/internal/repositories/reference"
	"github.com/Ramsey-B/fern/internal/repositories/workspaceuser"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/merge"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	zapLogger, err := newZapLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		Version:     cfg.Version,
		Enabled:     cfg.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Headers:  exporters.ParseHeaders(cfg.OTLPHeaders),
			Timeout:  cfg.OTLPTimeout,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	app := &application{cfg: cfg, logger: logger, checker: health.NewChecker(cfg.Version)}
	deps := app.dependencies()
	if err := deps.Start(ctx); err != nil {
		return err
	}

	e := app.server()
	app.checker.SetReady(true)

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting %s on port %d", cfg.AppName, cfg.Port)
		if err := e.StartServer(app.httpServer(e)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err = <-serverErr:
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	app.checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.WithError(shutdownErr).Error("Failed to shut down http server")
	}
	if stopErr := deps.Stop(shutdownCtx); stopErr != nil {
		logger.WithError(stopErr).Error("Failed to stop dependencies")
	}
	if tracingErr := shutdownTracing(shutdownCtx); tracingErr != nil {
		logger.WithError(tracingErr).Error("Failed to flush traces")
	}
	return err
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zapConfig.Level = level
	return zapConfig.Build()
}

// application holds what the startup dependencies produce.
type application struct {
	cfg     *config.Config
	logger  ectologger.Logger
	checker *health.Checker

	db       *sqlx.DB
	redis    *redis.Client
	producer *kafka.Producer
	verifier middleware.TokenVerifier
}

func (a *application) dependencies() *startup.Startup {
	deps := startup.NewStartup(a.logger, a.cfg.StartupMaxAttempts)

	deps.Add(startup.Func{
		DependencyName: "database",
		StartFunc: func(ctx context.Context) error {
			db, err := database.Connect(ctx, a.cfg.DatabaseConfig(), a.logger)
			if err != nil {
				return err
			}
			a.db = db
			a.checker.Add("database", health.PingFunc(db.PingContext), true)
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			return a.db.Close()
		},
	})

	if a.cfg.DatabaseMigrateOnStartup {
		deps.Add(startup.Func{
			DependencyName: "migrations",
			Requires:       []string{"database"},
			StartFunc: func(ctx context.Context) error {
				service := database.NewMigrationService(a.logger, a.cfg.MigrationConfig())
				return service.MigratePostgres(a.db.DB, a.cfg.DatabaseName)
			},
		})
	}

	if a.cfg.RedisEnabled {
		deps.Add(startup.Func{
			DependencyName: "redis",
			StartFunc: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     a.cfg.RedisHost,
					Port:     a.cfg.RedisPort,
					Password: a.cfg.RedisPassword,
					DB:       a.cfg.RedisDB,
				}, a.logger)
				if err != nil {
					return err
				}
				a.redis = client
				a.checker.Add("redis", client, true)
				return nil
			},
			StopFunc: func(ctx context.Context) error {
				return a.redis.Close()
			},
		})
	}

	if a.cfg.KafkaEnabled {
		brokers := kafka.ParseBrokers(a.cfg.KafkaBrokers)
		deps.Add(startup.Func{
			DependencyName: "kafka",
			StartFunc: func(ctx context.Context) error {
				a.producer = kafka.NewProducer(kafka.Config{Brokers: brokers, Topic: a.cfg.KafkaMergeTopic}, a.logger)
				// events are best effort, so an unreachable broker only degrades health
				a.checker.Add("kafka", health.PingFunc(func(ctx context.Context) error {
					return kafka.Ping(ctx, brokers)
				}), false)
				return nil
			},
			StopFunc: func(ctx context.Context) error {
				return a.producer.Close()
			},
		})
	}

	if a.cfg.AuthEnabled {
		deps.Add(startup.Func{
			DependencyName: "auth",
			StartFunc: func(ctx context.Context) error {
				verifier, err := middleware.NewOIDCVerifier(ctx, a.cfg.AuthIssuerURL, a.cfg.AuthClientID)
				if err != nil {
					return fmt.Errorf("failed to create OIDC verifier for %s: %w", a.cfg.AuthIssuerURL, err)
				}
				a.verifier = verifier
				return nil
			},
		})
	}

	return deps
}

func (a *application) mergeService(db database.DB) *merge.Service {
	members := permission.NewRepository(db, a.logger)
	users := workspaceuser.NewRepository(db, a.logger)
	references := reference.NewRepository(db, a.logger)

	deps := merge.ServiceDeps{
		Validator: merge.NewValidator(members, users, a.logger),
		Previewer: merge.NewPreviewer(users, references, merge.DefaultCompositeTables()),
		Migrator: merge.NewMigrator(merge.DefaultTables(), references, merge.MigratorConfig{
			BatchSize:          a.cfg.MergeBatchSize,
			MaxBatchIterations: a.cfg.MergeMaxBatchIterations,
		}, a.logger),
		Phases: merge.NewPhaseRunner(merge.DefaultPhases(), mergephase.NewRepository(db, a.logger), a.logger),
		Ledger: mergerun.NewRepository(db, a.logger),
		Logger: a.logger,
	}
	if a.redis != nil {
		deps.Locker = mergeLocker{redis.NewLocker(a.redis, lockPrefix)}
	}
	if a.producer != nil {
		deps.Notifier = events.NewEmitter(a.producer, a.logger)
	}

	return merge.NewService(deps, merge.ServiceConfig{LockTTL: a.cfg.MergeLockTTL})
}

// lockPrefix namespaces the service's keys. merge.LockKey supplies the merge:{ws}:{user} part.
const lockPrefix = "fern:"

// mergeLocker hands redis locks to the merge service as leases.
type mergeLocker struct {
	*redis.Locker
}

func (l mergeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (merge.Lease, bool, error) {
	lock, ok, err := l.Locker.TryLock(ctx, key, ttl)
	if lock == nil {
		return nil, ok, err
	}
	return lock, ok, err
}

func (a *application) server() *echo.Echo {
	db := database.NewDatabaseInstance(a.db, a.logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context(!a.cfg.AuthEnabled))
	e.Use(middleware.Logger(a.logger))

	a.checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	workspaces := e.Group("/api/v1/workspaces")
	if a.verifier != nil {
		workspaces.Use(middleware.Authentication(a.logger, a.verifier))
	}

	handlers.NewMergeHandler(a.mergeService(db), a.logger).Register(workspaces)
	handlers.NewDuplicatesHandler(
		workspaceuser.NewRepository(db, a.logger),
		permission.NewRepository(db, a.logger),
		a.logger,
	).Register(workspaces)

	return e
}

func (a *application) httpServer(e *echo.Echo) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}
}
