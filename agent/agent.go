package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mlodash/autoflow/action"
	"github.com/mlodash/autoflow/analytics"
	"github.com/mlodash/autoflow/config"
	"github.com/mlodash/autoflow/engine"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/metadata"
	"github.com/mlodash/autoflow/metrics"
	"github.com/mlodash/autoflow/persistence"
	"github.com/mlodash/autoflow/persistence/memory"
	pgstore "github.com/mlodash/autoflow/persistence/postgres"
	rdstore "github.com/mlodash/autoflow/persistence/redis"
	"github.com/mlodash/autoflow/ratelimit"
	"github.com/mlodash/autoflow/rest"
	"github.com/mlodash/autoflow/signature"
	"github.com/mlodash/autoflow/webhook"
	"go.uber.org/zap"
)

const STARTUP_TIMEOUT = 30 * time.Second

type Agent struct {
	Config          config.Config
	redisClient     rd.UniversalClient
	pgPool          *pgxpool.Pool
	executionStore  persistence.ExecutionStore
	metadataStorage metadata.MetadataStorage
	metadataService *metadata.MetadataService
	actions         *action.Registry
	engine          *engine.Engine
	limiter         *ratelimit.Limiter
	gate            *webhook.Gate
	httpServer      *rest.Server
	stopMetrics     func() error
	shutdown        bool
	shutdowns       chan struct{}
	shutdownLock    sync.Mutex
	wg              sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupLogger,
		a.setupAnalytics,
		a.setupMetrics,
		a.setupStorage,
		a.setupMetadataService,
		a.setupEngine,
		a.setupGate,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			a.closeStorage()
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupLogger() error {
	return logger.Init(a.Config.LogConfig)
}

func (a *Agent) setupAnalytics() error {
	return analytics.InitDataCollector(a.Config.AnalyticsConfig)
}

func (a *Agent) setupMetrics() error {
	if err := metrics.Register(); err != nil {
		return err
	}
	if a.Config.MetricsPeriod <= 0 {
		a.stopMetrics = func() error { return nil }
		return nil
	}
	stop, err := metrics.StartLogExporter(a.Config.MetricsPeriod)
	if err != nil {
		return err
	}
	a.stopMetrics = stop
	return nil
}

func (a *Agent) setupStorage() error {
	ctx, cancel := context.WithTimeout(context.Background(), STARTUP_TIMEOUT)
	defer cancel()

	if a.Config.SharedRedis() {
		a.redisClient = rdstore.NewClient(rdstore.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
			Password:  a.Config.RedisConfig.Password,
			PoolSize:  a.Config.RedisConfig.PoolSize,
		})
	}

	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis is not reachable: %w", err)
		}
		ns := a.Config.RedisConfig.Namespace
		a.executionStore = rdstore.NewRedisExecutionStore(a.redisClient, ns)
		a.metadataStorage = rdstore.NewRedisMetadataStorage(a.redisClient, ns)
	case config.STORAGE_TYPE_POSTGRES:
		pool, err := pgxpool.New(ctx, a.Config.PostgresConfig.DSN)
		if err != nil {
			return fmt.Errorf("error connecting to postgres: %w", err)
		}
		a.pgPool = pool
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return err
		}
		a.executionStore = pgstore.NewPostgresExecutionStore(pool)
		a.metadataStorage = pgstore.NewPostgresMetadataStorage(pool)
	default:
		a.executionStore = memory.NewExecutionStore()
		a.metadataStorage = metadata.NewInMemoryStorage()
	}
	logger.Info("storage ready", zap.String("impl", string(a.Config.StorageType)))
	return nil
}

func (a *Agent) setupMetadataService() error {
	a.actions = action.NewRegistry(action.LoggingSink{})
	a.metadataService = metadata.NewMetadataService(a.metadataStorage, a.actions, metadata.DEFAULT_CACHE_TTL)
	if a.Config.DefinitionsFile == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), STARTUP_TIMEOUT)
	defer cancel()
	n, err := a.metadataService.LoadFile(ctx, a.Config.DefinitionsFile)
	if err != nil {
		return err
	}
	logger.Info("workflow definitions loaded", zap.String("file", a.Config.DefinitionsFile), zap.Int("count", n))
	return nil
}

func (a *Agent) setupEngine() error {
	conf := engine.Config{
		Workers:        a.Config.EngineConfig.Workers,
		QueueSize:      a.Config.EngineConfig.QueueSize,
		SweepInterval:  a.Config.EngineConfig.SweepInterval,
		RecoverRunning: a.Config.EngineConfig.RecoverRunning,
	}
	a.engine = engine.NewEngine(conf, a.executionStore, a.metadataService, a.actions, &a.wg)
	a.engine.Start()

	ctx, cancel := context.WithTimeout(context.Background(), STARTUP_TIMEOUT)
	defer cancel()
	n, err := a.engine.Recover(ctx)
	if err != nil {
		_ = a.engine.Stop()
		return err
	}
	logger.Info("executions recovered", zap.Int("count", n))
	return nil
}

func (a *Agent) setupGate() error {
	var shared ratelimit.Counter
	if a.redisClient != nil {
		counter := ratelimit.NewRedisCounter(a.redisClient, a.Config.RedisConfig.Namespace)
		ctx, cancel := context.WithTimeout(context.Background(), STARTUP_TIMEOUT)
		if err := counter.Ping(ctx); err != nil {
			logger.Warn("shared rate limit store not reachable at startup", zap.Error(err))
		}
		cancel()
		shared = counter
	}
	a.limiter = ratelimit.NewLimiter(ratelimit.Config{
		Limit:         a.Config.RateLimitConfig.Limit,
		Window:        a.Config.RateLimitConfig.Window,
		RecheckInterval: a.Config.RateLimitConfig.RecheckInterval,
	}, shared)
	secrets := &signature.StaticSecrets{
		Default:     a.Config.WebhookConfig.Secret,
		PerWorkflow: a.Config.WebhookConfig.WorkflowSecrets,
	}
	verifier := signature.NewVerifier(a.Config.WebhookConfig.MaxSkew)
	a.gate = webhook.NewGate(a.Config.WebhookConfig.MaxBodyBytes, a.limiter, verifier, secrets, a.engine)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(rest.ServerConfig{
		HttpPort:      a.Config.HttpPort,
		Gate:          a.gate,
		Executions:    a.engine,
		Workflows:     a.metadataService,
		Authenticator: rest.NewTokenAuthenticator(a.Config.OperatorTokens),
	})
	if err != nil {
		_ = a.engine.Stop()
		return err
	}
	if len(a.Config.OperatorTokens) == 0 {
		logger.Warn("no operator tokens configured, operator endpoints will reject every request")
	}
	return nil
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	return nil
}

// Done is closed once Shutdown has begun.
func (a *Agent) Done() <-chan struct{} {
	return a.shutdowns
}

func (a *Agent) closeStorage() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logger.Error("error closing redis client", zap.Error(err))
		}
		a.redisClient = nil
	}
	if a.pgPool != nil {
		a.pgPool.Close()
		a.pgPool = nil
	}
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		a.httpServer.Stop,
		a.engine.Stop,
		a.stopMetrics,
		analytics.Close,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	a.closeStorage()
	_ = logger.Sync()
	return nil
}
