package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"networth-api/internal/aggregator"
	"networth-api/internal/cache"
	"networth-api/internal/config"
	"networth-api/internal/controllers"
	"networth-api/internal/messaging"
	"networth-api/internal/metrics"
	"networth-api/internal/repositories"
	"networth-api/internal/repositories/memory"
	mongorepo "networth-api/internal/repositories/mongo"
	sqlrepo "networth-api/internal/repositories/sql"
	"networth-api/internal/scheduler"
	"networth-api/internal/services"
	"networth-api/internal/stream"
	pkgcache "networth-api/pkg/cache"
	"networth-api/pkg/database"
)

// Options control which parts of the graph are built.
type Options struct {
	// Registerer receives the service metrics. Nil means the default registry.
	Registerer prometheus.Registerer
	// Background builds the scheduler and the ledger event consumer.
	Background bool
}

// App is the wired dependency graph shared by the server and the CLI.
type App struct {
	Config *config.Config
	Logger *logrus.Logger

	Metrics     metrics.MetricsService
	Store       cache.Store
	Rates       *aggregator.Aggregator
	Performance *services.PerformanceService
	Triggers    *services.TriggerService
	Hub         *stream.Hub
	Processor   *messaging.EventProcessor
	Consumer    *messaging.Consumer
	Scheduler   *scheduler.Scheduler

	ledgerDB *gorm.DB
	mongo    *database.MongoDB
	redis    *pkgcache.RedisClient
	closers  []func() error
}

// New connects every backing store and wires services on top of them. On
// error everything opened so far is closed.
func New(cfg *config.Config, logger *logrus.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	built, err := a.build(opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return built, nil
}

func (a *App) build(opts Options) (*App, error) {
	cfg, logger := a.Config, a.Logger

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	a.Metrics = metrics.NewPrometheusMetrics(registerer)

	perfLoc, err := cfg.Performance.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid performance timezone: %w", err)
	}

	if err := a.openLedger(); err != nil {
		return nil, err
	}
	snapshots, err := a.openSnapshots()
	if err != nil {
		return nil, err
	}
	if err := a.openCache(); err != nil {
		return nil, err
	}

	pm, err := buildProviders(cfg.Rates)
	if err != nil {
		return nil, err
	}
	a.Rates = aggregator.NewAggregator(pm, a.Store, buildPolicy(cfg.Rates), &aggregator.Config{
		ProviderTimeout: cfg.Rates.ProviderTimeout,
		MaxQuoteAge:     cfg.Rates.MaxQuoteAge,
		MaxConcurrency:  cfg.Rates.MaxConcurrency,
		Location:        perfLoc,
	}, a.Metrics, logger)

	ledger := sqlrepo.NewLedgerRepository(a.ledgerDB)
	a.Performance = services.NewPerformanceService(ledger, ledger, snapshots, a.Rates, a.Store, &services.PerformanceConfig{
		DefaultBaseCurrency: cfg.Performance.DefaultBaseCurrency,
		Location:            perfLoc,
		Scale:               cfg.Performance.Scale,
		MaxBackfillDays:     cfg.Performance.MaxBackfillDays,
		PopularLimit:        cfg.Cache.PopularLimit,
	}, a.Metrics, logger)

	a.Hub = stream.NewHub(cfg.Server.AllowedOrigins, logger)
	a.closers = append(a.closers, func() error { a.Hub.Close(); return nil })
	a.Triggers = services.NewTriggerService(a.Performance, a.Rates, a.Hub, a.Metrics, logger)
	a.Processor = messaging.NewEventProcessor(a.Triggers, a.Performance, cfg.Performance.MaxBackfillDays, a.Metrics, logger)

	if !opts.Background {
		return a, nil
	}

	if cfg.RabbitMQ.Enabled {
		a.Consumer = messaging.NewConsumer(cfg.RabbitMQ, a.Processor, logger)
	}
	if cfg.Scheduler.Enabled {
		schedLoc, err := cfg.Scheduler.Location()
		if err != nil {
			return nil, fmt.Errorf("invalid scheduler timezone: %w", err)
		}
		a.Scheduler, err = scheduler.NewScheduler(a.Triggers, scheduler.Config{
			Spec:       cfg.Scheduler.SnapshotSpec,
			Location:   schedLoc,
			Workers:    cfg.Scheduler.Workers,
			JobTimeout: cfg.Scheduler.JobTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) openLedger() error {
	db, err := database.NewSQLDB(a.Config.Ledger)
	if err != nil {
		return err
	}
	a.ledgerDB = db
	a.closers = append(a.closers, func() error { return database.CloseSQLDB(db) })

	if a.Config.Ledger.AutoMigrate {
		if err := sqlrepo.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate ledger schema: %w", err)
		}
	}
	return nil
}

func (a *App) openSnapshots() (repositories.SnapshotRepository, error) {
	if a.Config.Database.Backend == "memory" {
		a.Logger.Warn("Snapshots are kept in memory and lost on restart")
		return memory.NewSnapshotRepository(), nil
	}

	db, err := database.NewMongoDB(a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.mongo = db
	a.closers = append(a.closers, db.Disconnect)

	collection := db.Collection(a.Config.Database.SnapshotCollection)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.EnsureSnapshotIndexes(ctx, collection); err != nil {
		return nil, err
	}
	return mongorepo.NewSnapshotRepository(collection), nil
}

func (a *App) openCache() error {
	if a.Config.Cache.Backend == "memory" {
		a.Store = cache.NewMemoryStore(&cache.MemoryConfig{
			MaxSize: a.Config.Cache.MemoryMaxSize,
			TTL:     a.Config.Cache.RateTTL,
		})
		a.closers = append(a.closers, a.Store.Close)
		return nil
	}

	client, err := pkgcache.NewRedisClient(a.Config.Cache)
	if err != nil {
		return err
	}
	a.redis = client
	a.Store = cache.NewRedisStore(client, a.Config.Cache.RateTTL)
	a.closers = append(a.closers, a.Store.Close)
	return nil
}

// Router builds the HTTP surface.
func (a *App) Router() *gin.Engine {
	return controllers.NewRouter(
		controllers.RouterConfig{
			Environment:    a.Config.Server.Environment,
			AllowedOrigins: a.Config.Server.AllowedOrigins,
			SkipLogPaths:   []string{"/health", "/metrics"},
		},
		controllers.NewRatesController(a.Rates, a.Triggers, time.Duration(a.Config.Server.WriteTimeout)*time.Second, a.Logger),
		controllers.NewPerformanceController(a.Performance, a.Triggers, a.Hub, a.Logger),
		a.Health,
		a.Metrics,
		a.Logger,
	)
}

// Health pings every backing store.
func (a *App) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status := func(err error) string {
		if err != nil {
			return err.Error()
		}
		return "ok"
	}

	out := map[string]string{}
	if a.ledgerDB != nil {
		sqlDB, err := a.ledgerDB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		out["ledger"] = status(err)
	}
	if a.mongo != nil {
		out["snapshots"] = status(a.mongo.Ping(ctx))
	}
	if a.redis != nil {
		out["cache"] = status(a.redis.Ping(ctx))
	}
	return out
}

// Start launches the scheduler and the event consumer when built.
func (a *App) Start(ctx context.Context) error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
	}
	if a.Consumer != nil {
		if err := a.Consumer.Start(ctx); err != nil {
			a.Logger.WithError(err).Error("Failed to start ledger event consumer")
		}
	}
	return nil
}

// Close stops background work and releases connections in reverse order.
func (a *App) Close() {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.WithError(err).Warn("Scheduler stop failed")
		}
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(); err != nil {
			a.Logger.WithError(err).Warn("Consumer stop failed")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.WithError(err).Warn("Close failed")
		}
	}
	a.closers = nil
}
