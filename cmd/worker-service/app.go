package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"conveyor/internal/broker"
	"conveyor/internal/config"
	"conveyor/internal/constants"
	"conveyor/internal/deadletter"
	"conveyor/internal/dispatcher"
	"conveyor/internal/handlers"
	"conveyor/internal/logger"
	"conveyor/internal/producer"
	"conveyor/internal/tracking"
	"conveyor/pkg/bootstrap"
	"conveyor/pkg/cel"
	"conveyor/pkg/health"
	"conveyor/pkg/logging"
	"conveyor/pkg/metrics"
	"conveyor/pkg/migrations"
	"conveyor/pkg/models"
	"conveyor/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	redisClient *redis.Client
	mongoClient *mongo.Client

	store          tracking.Store
	dispatchers    []*dispatcher.Dispatcher
	scheduler      *dispatcher.DelayScheduler
	retryConsumers map[models.Family]broker.Consumer
	reaper         *tracking.Reaper
	families       []models.Family

	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("worker-service")
	}
	return &App{
		Base:           bootstrap.NewBase(cfg, log),
		dbConnector:    bootstrap.NewDatabaseConnector(cfg, log),
		retryConsumers: make(map[models.Family]broker.Consumer),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitProducer(); err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "worker-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterWorkerMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("postgres is required for command tracking")
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		dir := a.Config.Database.MigrationsDir
		if dir == "" {
			dir = "migrations/postgres"
		}
		if err := migrations.RunPostgres(db, dir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	if mongoClient == nil {
		return fmt.Errorf("mongodb is required for the dead-letter archive")
	}
	a.mongoClient = mongoClient

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := migrations.EnsureDeadLetterIndexes(indexCtx, a.mongoDatabase()); err != nil {
		return fmt.Errorf("failed to ensure dead-letter indexes: %w", err)
	}

	if a.Config.Database.Redis.Host != "" {
		redisClient, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			a.Logger.WarnwCtx(ctx, "Redis connection failed, duplicate guard disabled",
				"error", err,
			)
		} else {
			a.redisClient = redisClient
		}
	}

	return nil
}

func (a *App) mongoDatabase() *mongo.Database {
	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	return a.mongoClient.Database(dbName)
}

func (a *App) initPipeline(ctx context.Context) error {
	a.store = tracking.NewPostgresStore(a.db)

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	letterRepo := deadletter.NewRepository(a.mongoDatabase(), evaluator)
	sink := deadletter.NewSink(a.Producer, letterRepo, a.Logger)

	cmdProducer := producer.New(a.Producer, a.store, a.Config.Retry.MaxRetries, a.Logger)

	registry := dispatcher.NewRegistry()
	handlers.RegisterAll(registry, cmdProducer, a.Logger)

	var guard dispatcher.ProcessedGuard = dispatcher.NoopGuard{}
	if a.redisClient != nil {
		guard = dispatcher.NewCircuitBreakerGuard(dispatcher.NewRedisGuard(a.redisClient), a.Config.CircuitBreaker)
	}

	retries := dispatcher.NewRetryController(a.Producer, a.store, a.Config.Retry, a.Logger)

	families, err := configuredFamilies(a.Config.Dispatcher)
	if err != nil {
		return err
	}
	a.families = families

	for _, family := range families {
		d := dispatcher.New(family, a.Config.Broker, a.Config.Dispatcher, a.Config.Retry.MaxRetries, dispatcher.Deps{
			Registry: registry,
			DB:       a.db,
			Store:    a.store,
			Guard:    guard,
			Retries:  retries,
			Sink:     sink,
			Logger:   a.Logger,
		})
		a.dispatchers = append(a.dispatchers, d)

		groupID := fmt.Sprintf("%s-retry-%s", a.Config.Broker.Kafka.GroupID, family)
		consumer, err := broker.NewConsumer(a.Config.Broker, groupID, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create retry consumer for %s: %w", family, err)
		}
		consumer.SetServiceName(fmt.Sprintf("retry-%s", family))
		a.retryConsumers[family] = consumer
	}

	a.scheduler = dispatcher.NewDelayScheduler(a.Producer, a.Logger)
	a.reaper = tracking.NewReaper(a.store, a.Config.Reaper.Interval, a.Config.Reaper.StaleCutoff, a.Logger)

	return nil
}

func configuredFamilies(cfg config.DispatcherConfig) ([]models.Family, error) {
	if len(cfg.Families) == 0 {
		return models.Families(), nil
	}

	families := make([]models.Family, 0, len(cfg.Families))
	for _, name := range cfg.Families {
		family, ok := models.ParseFamily(name)
		if !ok {
			return nil, fmt.Errorf("unknown command family in config: %q", name)
		}
		families = append(families, family)
	}
	return families, nil
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	for _, d := range a.dispatchers {
		d := d
		g.Go(func() error {
			return d.Run(gctx)
		})
	}

	for family, consumer := range a.retryConsumers {
		family, consumer := family, consumer
		g.Go(func() error {
			retryCtx := logging.WithServiceName(gctx, "worker-service")
			a.Logger.InfowCtx(retryCtx, "Starting retry-topic consumer",
				"family", family,
				"topic", models.RetryTopic(family),
			)
			return a.scheduler.Consume(gctx, consumer, family)
		})
	}

	g.Go(func() error {
		return a.reaper.Run(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "worker-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down worker service")

	// Flush pending retry timers before the producer goes away; envelopes
	// re-enter the main topic early instead of being dropped.
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		for family, consumer := range a.retryConsumers {
			if err := consumer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("retry consumer close error (%s): %w", family, err))
			}
		}

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
