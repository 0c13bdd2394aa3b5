package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/akriventsev/hotdeal/framework/adapters/cache"
	eventadapters "github.com/akriventsev/hotdeal/framework/adapters/events"
	"github.com/akriventsev/hotdeal/framework/adapters/repository"
	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/akriventsev/hotdeal/framework/events"
	"github.com/akriventsev/hotdeal/framework/metrics"
	"github.com/akriventsev/hotdeal/framework/observability"
	"github.com/akriventsev/hotdeal/internal/api"
	"github.com/akriventsev/hotdeal/internal/config"
	"github.com/akriventsev/hotdeal/internal/ledger"
	"github.com/akriventsev/hotdeal/internal/order"
)

func main() {
	cfg := config.Load()

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

// app компоненты сервиса в порядке запуска
type app struct {
	logger     *slog.Logger
	components []namedLifecycle
	health     *observability.HealthRegistry
}

type namedLifecycle struct {
	name string
	core.Lifecycle
}

func (a *app) add(name string, c core.Lifecycle) {
	a.components = append(a.components, namedLifecycle{name: name, Lifecycle: c})
	if hc, ok := c.(core.HealthCheckable); ok {
		a.health.Register(observability.HealthCheckFunc{CheckName: name, Fn: hc.HealthCheck})
	}
}

func (a *app) start(ctx context.Context) error {
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", c.name, err)
		}
	}
	return nil
}

// stop останавливает компоненты в обратном порядке
func (a *app) stop(ctx context.Context) error {
	var errs []error
	for i := len(a.components) - 1; i >= 0; i-- {
		c := a.components[i]
		if err := c.Stop(ctx); err != nil {
			a.logger.Error("failed to stop component", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	a := &app{logger: logger, health: observability.NewHealthRegistry(0)}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Service.ShutdownTimeout)
		defer cancel()
		if stopErr := a.stop(shutdownCtx); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	metricsProvider, err := metrics.SetupMetrics(&metrics.MetricsConfig{
		ExporterType: cfg.Metrics.Exporter,
		ResourceAttrs: map[string]string{
			"service.name":    cfg.Service.Name,
			"service.version": cfg.Service.Version,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to setup metrics: %w", err)
	}
	defer func() { _ = metricsProvider.Shutdown(context.WithoutCancel(ctx)) }()

	m, err := metrics.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	tracing, err := observability.NewTracingManager(observability.TracingConfig{
		Enabled:          cfg.Tracing.Enabled,
		ServiceName:      cfg.Service.Name,
		ServiceVersion:   cfg.Service.Version,
		Exporter:         cfg.Tracing.Exporter,
		ExporterEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:     cfg.Tracing.SamplingRate,
		Environment:      cfg.Service.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	a.add("tracing", tracing)

	pool := cache.NewPool()
	pointsRedis, err := pool.Get("points", redisConfig(cfg, cfg.Redis.PointsAddr))
	if err != nil {
		return err
	}
	stockRedis, err := pool.Get("stock", redisConfig(cfg, cfg.Redis.StockAddr))
	if err != nil {
		return err
	}
	storeRedis, err := pool.Get("store", redisConfig(cfg, cfg.Redis.StoreAddr))
	if err != nil {
		return err
	}

	origin, err := newOriginStore(ctx, cfg)
	if err != nil {
		return err
	}
	if lc, ok := origin.(core.Lifecycle); ok {
		a.add("origin-"+cfg.Origin.Driver, lc)
	}

	publisher, err := newPublisher(cfg, pool)
	if err != nil {
		return err
	}
	if lc, ok := publisher.(core.Lifecycle); ok {
		a.add("event-log-"+cfg.EventLog.Driver, lc)
	}

	// Клиенты пула закрываются после остановки транспортов
	for _, client := range pool.Clients() {
		a.add("redis-"+client.Name(), client)
	}

	points := ledger.NewPoints(pointsRedis.Client(), ledger.PointSource(origin), ledger.Config{
		Name:        "points",
		KeyPrefix:   cfg.Ledger.PointKeyPrefix,
		CallTimeout: cfg.Ledger.CallTimeout,
	}, ledger.WithMetrics(m))

	inventory := ledger.NewInventory(stockRedis.Client(), ledger.InventorySource(origin), ledger.Config{
		Name:        "inventory",
		KeyPrefix:   cfg.Ledger.StockKeyPrefix,
		CallTimeout: cfg.Ledger.CallTimeout,
	}, ledger.WithMetrics(m))

	stores := ledger.NewExistenceCache(storeRedis.Client(), ledger.StoreSource(origin), ledger.ExistenceConfig{
		KeyPrefix:   cfg.Ledger.StoreKeyPrefix,
		CallTimeout: cfg.Ledger.CallTimeout,
		NegativeTTL: cfg.Ledger.StoreNegativeTTL,
	}, ledger.WithMetrics(m))

	orchestrator := order.NewOrchestrator(stores, points, inventory,
		eventadapters.Instrument(publisher, m),
		order.WithCompensation(cfg.Order.Compensate),
		order.WithStepTimeout(cfg.Order.StepTimeout),
		order.WithLogger(logger),
		order.WithMetrics(m),
	)

	restCfg := api.DefaultRESTConfig()
	restCfg.Port = cfg.HTTP.Port
	restCfg.ServiceName = cfg.Service.Name
	restCfg.ValidateRequests = cfg.HTTP.ValidateRequests
	restCfg.ShutdownTimeout = cfg.Service.ShutdownTimeout

	rest, err := api.NewRESTAdapter(restCfg, orchestrator,
		api.WithRESTLogger(logger),
		api.WithHealth(a.health),
		api.WithMetricsHandler(metricsProvider.Handler()),
	)
	if err != nil {
		return err
	}
	a.add(rest.Name(), rest)

	if cfg.GRPC.Enabled {
		grpcCfg := api.DefaultGRPCConfig()
		grpcCfg.Port = cfg.GRPC.Port
		grpcCfg.ShutdownTimeout = cfg.Service.ShutdownTimeout

		grpcAdapter, err := api.NewGRPCAdapter(grpcCfg, orchestrator, logger)
		if err != nil {
			return err
		}
		a.add(grpcAdapter.Name(), grpcAdapter)
	}

	if err := a.start(ctx); err != nil {
		return err
	}

	logger.Info("hotdeal started",
		"event_log", cfg.EventLog.Driver,
		"origin", cfg.Origin.Driver,
		"compensation", orchestrator.CompensationEnabled(),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func redisConfig(cfg config.Config, addr string) cache.RedisConfig {
	rc := cache.DefaultRedisConfig()
	rc.Addr = addr
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	return rc
}

func newOriginStore(ctx context.Context, cfg config.Config) (repository.OriginStore, error) {
	factory := repository.NewOriginStoreFactory()

	var driverCfg interface{}
	switch cfg.Origin.Driver {
	case repository.DriverPostgres:
		pc := repository.DefaultPostgresConfig()
		pc.DSN = cfg.Origin.PostgresDSN
		driverCfg = pc
	case repository.DriverMongoDB:
		mc := repository.DefaultMongoConfig()
		mc.URI = cfg.Origin.MongoURI
		mc.Database = cfg.Origin.MongoDatabase
		driverCfg = mc
	}

	return factory.Create(ctx, cfg.Origin.Driver, driverCfg)
}

func newPublisher(cfg config.Config, pool *cache.Pool) (events.Publisher, error) {
	factory := eventadapters.NewPublisherFactory()

	var driverCfg interface{}
	switch cfg.EventLog.Driver {
	case eventadapters.DriverRedis:
		client, err := pool.Get("stream", redisConfig(cfg, cfg.Redis.StreamAddr))
		if err != nil {
			return nil, err
		}
		rc := eventadapters.DefaultRedisEventConfig()
		rc.Client = client.Client()
		rc.StreamPrefix = cfg.EventLog.StreamPrefix
		rc.StreamMaxLen = cfg.EventLog.StreamMaxLen
		rc.CallTimeout = cfg.Ledger.CallTimeout
		driverCfg = rc
	case eventadapters.DriverNATS:
		conn, err := nats.Connect(cfg.EventLog.NATSURL, nats.Name(cfg.Service.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		nc := eventadapters.DefaultNATSEventConfig()
		nc.Conn = conn
		nc.SubjectPrefix = cfg.EventLog.NATSSubjectPrefix
		nc.CallTimeout = cfg.Ledger.CallTimeout
		driverCfg = nc
	case eventadapters.DriverKafka:
		kc := eventadapters.DefaultKafkaEventConfig()
		kc.Brokers = cfg.EventLog.KafkaBrokers
		kc.TopicPrefix = cfg.EventLog.KafkaTopicPrefix
		kc.Compression = cfg.EventLog.KafkaCompression
		driverCfg = kc
	}

	return factory.Create(cfg.EventLog.Driver, driverCfg)
}
