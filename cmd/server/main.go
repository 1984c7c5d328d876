package main

import (
	"context"
	"log"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/knowledge/api/handler"
	"github.com/fastygo/knowledge/internal/authz"
	"github.com/fastygo/knowledge/internal/config"
	"github.com/fastygo/knowledge/internal/events"
	"github.com/fastygo/knowledge/internal/infrastructure/monitor"
	natsInfra "github.com/fastygo/knowledge/internal/infrastructure/nats"
	"github.com/fastygo/knowledge/internal/infrastructure/parking"
	pgInfra "github.com/fastygo/knowledge/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/knowledge/internal/infrastructure/redis"
	"github.com/fastygo/knowledge/internal/messaging"
	"github.com/fastygo/knowledge/internal/messaging/jsbroker"
	"github.com/fastygo/knowledge/internal/messaging/memory"
	"github.com/fastygo/knowledge/internal/metrics"
	"github.com/fastygo/knowledge/internal/router"
	"github.com/fastygo/knowledge/internal/services"
	"github.com/fastygo/knowledge/internal/services/lifecycle"
	"github.com/fastygo/knowledge/internal/token"
	"github.com/fastygo/knowledge/internal/workerpool"
	"github.com/fastygo/knowledge/pkg/httpcontext"
	"github.com/fastygo/knowledge/pkg/logger"
	"github.com/fastygo/knowledge/repository"
	"github.com/fastygo/knowledge/repository/postgres"
	redisRepo "github.com/fastygo/knowledge/repository/redis"
	authUC "github.com/fastygo/knowledge/usecase/auth"
	contentUC "github.com/fastygo/knowledge/usecase/content"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	appCtx, stop := manager.SignalContext(context.Background())
	defer stop()

	if err := pgInfra.RunMigrations(cfg, zapLogger); err != nil {
		zapLogger.Fatal("migrations failed", zap.Error(err))
	}

	pool, err := pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("postgres connection failed", zap.Error(err))
	}
	manager.Register("postgres", func(ctx context.Context) error {
		pgInfra.Close(pool, zapLogger)
		return nil
	})

	redisClient, err := redisInfra.NewClient(appCtx, cfg.Redis, zapLogger)
	if err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	manager.Register("redis", func(ctx context.Context) error {
		return redisClient.Close()
	})
	cache := redisRepo.NewCacheStore(redisClient, repository.DefaultRegionTTLs())

	deadLetters, err := parking.Open(cfg.DeadLetter.Path)
	if err != nil {
		zapLogger.Fatal("failed to open dead-letter store", zap.Error(err))
	}
	manager.Register("dead_letter_store", func(ctx context.Context) error {
		return deadLetters.Close()
	})

	appMetrics := metrics.New()
	topology := messaging.DefaultTopology()

	broker, err := newBroker(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("broker setup failed", zap.Error(err))
	}
	manager.Register("broker", func(ctx context.Context) error {
		return broker.Close()
	})
	if err := broker.Declare(appCtx, topology); err != nil {
		zapLogger.Fatal("topology declaration failed", zap.Error(err))
	}

	pools, err := workerpool.NewFactory(appMetrics, zapLogger).Build(workerpool.ProfilesFrom(cfg.Pools)...)
	if err != nil {
		zapLogger.Fatal("worker pools failed", zap.Error(err))
	}
	manager.Register("worker_pools", pools.Shutdown)

	registry := events.NewRegistry()
	events.RegisterDefaults(registry, cache, events.NewLogNotifier(zapLogger))

	consumeCtx, stopConsuming := context.WithCancel(appCtx)
	consumer := events.NewConsumer(broker, topology, registry, pools, appMetrics, zapLogger)
	if err := consumer.Start(consumeCtx); err != nil {
		zapLogger.Fatal("event consumers failed", zap.Error(err))
	}

	deadLetterProcessor, err := services.NewDeadLetterProcessor(deadLetters, broker, topology, appMetrics, zapLogger,
		services.DeadLetterConfig{
			Retention:     cfg.DeadLetter.Retention,
			SweepInterval: cfg.DeadLetter.SweepInterval,
			ReplayBatch:   cfg.DeadLetter.ReplayBatch,
		})
	if err != nil {
		zapLogger.Fatal("dead-letter processor setup failed", zap.Error(err))
	}
	if err := deadLetterProcessor.Start(consumeCtx); err != nil {
		zapLogger.Fatal("dead-letter processor failed", zap.Error(err))
	}
	manager.Register("consumers", func(ctx context.Context) error {
		stopConsuming()
		deadLetterProcessor.Stop(ctx)
		return nil
	})

	mon := monitor.New(monitor.Targets{
		Postgres:   pool,
		Redis:      cache,
		Broker:     broker,
		DeadLetter: deadLetters,
	}, 0, zapLogger)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	producer := events.NewProducer(broker, topology, appMetrics, zapLogger, events.ProducerConfig{
		MaxRetry:         cfg.Broker.MaxRetry,
		PublishTimeout:   cfg.Broker.PublishTimeout,
		BreakerFailures:  cfg.Broker.BreakerFailures,
		BreakerOpenDelay: cfg.Broker.BreakerOpenDelay,
	})

	tokens := token.NewService(token.Config{
		Secret:        cfg.JWT.Secret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		RefreshWindow: cfg.JWT.RefreshWindow,
	})

	userRepo := postgres.NewUserRepository(pool)
	articleRepo := postgres.NewArticleRepository(pool)

	authUseCase := authUC.New(userRepo, cache, tokens, zapLogger)
	contentUseCase := contentUC.New(articleRepo, cache, producer, zapLogger)

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	var metricsSource *metrics.Metrics
	if cfg.HTTP.EnableMetrics {
		metricsSource = appMetrics
	}
	handlers := router.Handlers{
		Auth:       apiHandler.NewAuthHandler(authUseCase, ctxAdapter, zapLogger),
		Content:    apiHandler.NewContentHandler(contentUseCase, ctxAdapter, zapLogger),
		DeadLetter: apiHandler.NewDeadLetterHandler(deadLetterProcessor, ctxAdapter, zapLogger),
		Health:     apiHandler.NewHealthHandler(mon, producer, metricsSource, ctxAdapter, zapLogger),
	}

	r := router.New(handlers)
	server := &fasthttp.Server{
		Handler: router.Handler(r, router.Security{
			Tokens:        tokens,
			Resolver:      authUseCase,
			Policy:        authz.DefaultPolicy(),
			LookupTimeout: cfg.Context.RequestTimeout,
			CORSOrigins:   cfg.HTTP.CORSOrigins,
			Metrics:       appMetrics,
			Logger:        zapLogger,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	manager.Go("http_server", func() error {
		zapLogger.Info("server started", zap.String("address", cfg.Address()))
		return server.ListenAndServe(cfg.Address())
	})
	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})

	select {
	case <-appCtx.Done():
	case err := <-manager.Errors():
		zapLogger.Error("component failure, shutting down", zap.Error(err))
	}

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}

func newBroker(cfg *config.Config, zapLogger *zap.Logger) (messaging.Broker, error) {
	if cfg.Broker.Kind == "memory" {
		zapLogger.Warn("using in-process broker, events are lost on restart")
		return memory.New(memory.WithLogger(zapLogger)), nil
	}
	nc, err := natsInfra.NewConnection(cfg.Broker, cfg.AppName, zapLogger)
	if err != nil {
		return nil, err
	}
	// two spare deliveries past the retry budget before JetStream itself
	// dead-letters a message the consumer never settled
	broker, err := jsbroker.New(nc, jsbroker.Config{MaxDeliver: cfg.Broker.MaxRetry + 2}, zapLogger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return broker, nil
}
