// Package app wires prosecheck's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	grpchealth "google.golang.org/grpc/health"

	"github.com/felixgeelhaar/prosecheck/internal/checker/builtin"
	"github.com/felixgeelhaar/prosecheck/internal/checker/cache"
	"github.com/felixgeelhaar/prosecheck/internal/checker/health"
	"github.com/felixgeelhaar/prosecheck/internal/checker/module"
	"github.com/felixgeelhaar/prosecheck/internal/checker/registry"
	"github.com/felixgeelhaar/prosecheck/internal/checker/runtime"
	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/service"
	"github.com/felixgeelhaar/prosecheck/internal/feedback"
	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/database/postgres" // Register PostgreSQL driver
	_ "github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/database/sqlite"   // Register SQLite driver
	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/prosecheck/pkg/config"
	"github.com/felixgeelhaar/prosecheck/pkg/observability"
)

// EngineHealthPrefix prefixes engine names in the gRPC health service.
const EngineHealthPrefix = "prosecheck.engine."

// Option customizes container construction.
type Option func(*options)

type options struct {
	version    string
	strategies []module.Strategy
	completer  builtin.Completer
	publisher  eventbus.Publisher
}

// WithVersion sets the version reported by the checker.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithStrategies replaces the configured module load strategies.
func WithStrategies(s ...module.Strategy) Option {
	return func(o *options) { o.strategies = s }
}

// WithCompleter registers the assistant engine over c regardless of the API
// key setting.
func WithCompleter(c builtin.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithPublisher overrides the feedback event publisher.
func WithPublisher(p eventbus.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Checking
	Registry *registry.Registry
	Loader   *module.Loader
	Cache    *cache.Cache
	Monitor  *health.Monitor
	Metrics  *runtime.MetricsCollector
	Health   *grpchealth.Server
	Learned  *builtin.Learned
	Checker  *service.Service

	// Feedback
	DBConn        database.Connection
	FeedbackStore feedback.Store
	Learner       *feedback.Learner
	Feedback      *feedback.Service

	// Infrastructure
	RedisClient    *redis.Client
	EventPublisher eventbus.Publisher
	Bus            *eventbus.InProcessBus
	Probes         *observability.Probes

	impressions *feedback.Impressions
}

// NewContainer builds every component. Optional infrastructure (Redis,
// RabbitMQ) falls back to in-process replacements in development.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Container, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: runtime.NewMetricsCollector(),
		Health:  grpchealth.NewServer(),
		Probes:  observability.NewProbes(0),
	}

	if err := c.initRedis(ctx); err != nil {
		c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	c.initChecker(o)
	if err := c.initFeedback(ctx, o); err != nil {
		c.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	logger.Info("container ready",
		"engines", c.Registry.Names(),
		"feedback_store", storeKind(c.DBConn),
		"slow_cache", c.RedisClient != nil,
	)
	return c, nil
}

func (c *Container) initRedis(ctx context.Context) error {
	cfg := c.Config
	if cfg.RedisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		if !cfg.IsDevelopment() {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		c.Logger.Warn("invalid Redis URL, slow cache tier will use memory", "error", err)
		return nil
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if !cfg.IsDevelopment() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, slow cache tier will use memory", "error", err)
		return nil
	}
	c.RedisClient = client
	c.Probes.Register("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	c.Logger.Info("connected to Redis")
	return nil
}

func (c *Container) initChecker(o options) {
	cfg := c.Config
	logger := c.Logger

	policy, err := module.ParseSelfTestPolicy(cfg.SelfTestPolicy)
	if err != nil {
		logger.Warn("unknown self-test policy, using warn", "policy", cfg.SelfTestPolicy)
		policy = module.SelfTestWarn
	}
	strategies := o.strategies
	if strategies == nil {
		strategies = module.BuildStrategies(StrategyConfig(cfg), c.Metrics, logger)
	}
	c.Loader = module.NewLoader(strategies, logger.With("component", "module"),
		module.WithSelfTestPolicy(policy),
		module.WithRecorder(c.Metrics),
	)

	cacheCfg := cache.DefaultConfig()
	cacheCfg.TTL = cfg.CacheTTL
	cacheCfg.FastCapacity = cfg.CacheFastCapacity
	cacheCfg.PromotionThreshold = cfg.CachePromotionThreshold
	var cacheOpts []cache.Option
	switch {
	case c.RedisClient != nil:
		cacheOpts = append(cacheOpts, cache.WithSlowTier(cache.NewRedisTier(c.RedisClient, "")))
	case cfg.CacheSlowCapacity > 0:
		cacheOpts = append(cacheOpts, cache.WithSlowTier(cache.NewMemoryTier("slow", cfg.CacheSlowCapacity)))
	}
	c.Cache = cache.New(cacheCfg, logger.With("component", "cache"), cacheOpts...)

	healthCfg := health.DefaultConfig()
	if cfg.HealthFailingThreshold > 0 {
		healthCfg.FailingThreshold = cfg.HealthFailingThreshold
		healthCfg.DegradedThreshold = min(healthCfg.DegradedThreshold, cfg.HealthFailingThreshold)
	}
	healthCfg.CriticalEngines = cfg.HealthCriticalEngines
	sink := health.NewGRPCSink(c.Health, EngineHealthPrefix)
	c.Monitor = health.NewMonitor(healthCfg, logger.With("component", "health"), health.WithSink(sink))

	c.Registry = registry.NewRegistry(logger.With("component", "registry"))
	c.impressions = &feedback.Impressions{}
	c.Learned = builtin.NewLearned(c.impressions)
	engines := []sdk.Checker{builtin.NewGrammar(c.Loader), builtin.NewStyle(), c.Learned}
	if spelling, err := builtin.NewSpelling(nil); err != nil {
		logger.Error("spelling engine disabled", "error", err)
	} else {
		engines = append(engines, spelling)
	}
	switch {
	case o.completer != nil:
		engines = append(engines, builtin.NewAssistant(o.completer))
	case cfg.AssistantEnabled():
		engines = append(engines, builtin.NewAssistant(builtin.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AssistantModel)))
	}
	for _, e := range engines {
		if err := c.Registry.Register(e); err != nil {
			logger.Error("engine registration failed", "engine", e.Name(), "error", err)
		}
	}

	c.Checker = service.New(c.Registry, c.Cache, c.Monitor, logger.With("component", "checker"),
		service.WithCheckTimeout(cfg.CheckTimeout),
		service.WithLoader(c.Loader),
		service.WithVersion(o.version),
		service.WithMetrics(c.Metrics),
	)
	sink.Sync(c.Monitor)
}

func (c *Container) initFeedback(ctx context.Context, o options) error {
	cfg := c.Config
	logger := c.Logger.With("component", "feedback")

	if cfg.PersistentFeedback() {
		conn, err := database.Open(ctx, database.Config{URL: cfg.DatabaseURL, SQLitePath: cfg.SQLitePath})
		if err != nil {
			return fmt.Errorf("failed to open feedback database: %w", err)
		}
		store, err := feedback.NewSQLStore(ctx, conn, cfg.FeedbackCapacity)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to prepare feedback store: %w", err)
		}
		c.DBConn = conn
		c.FeedbackStore = store
		c.Probes.Register("database", true, conn.Ping)
	} else {
		c.FeedbackStore = feedback.NewMemoryStore(cfg.FeedbackCapacity)
	}

	learnerCfg := feedback.DefaultLearnerConfig()
	learnerCfg.CycleThreshold = cfg.FeedbackCycleThreshold
	learnerCfg.LearningRate = cfg.FeedbackLearningRate
	c.Learner = feedback.NewLearner(c.FeedbackStore, learnerCfg, logger,
		feedback.WithImpressions(c.impressions),
		feedback.WithRuleSink(c.Learned),
	)
	if err := c.Learner.Restore(ctx); err != nil {
		return err
	}
	c.Checker.SetAdjuster(c.Learner.Adjuster())

	c.Bus = eventbus.NewInProcessBus(logger)
	if !cfg.FeedbackAutoLearn {
		if err := c.Bus.Subscribe(feedback.NewRecordedHandler(c.Learner, logger)); err != nil {
			return err
		}
	}
	c.EventPublisher = o.publisher
	if c.EventPublisher == nil {
		c.EventPublisher = c.newPublisher()
	}

	c.Feedback = feedback.NewService(c.FeedbackStore, feedback.NewAnonymizer(cfg.FeedbackSalt), c.Learner, logger,
		feedback.WithPublisher(c.EventPublisher),
		feedback.WithAutoLearn(cfg.FeedbackAutoLearn),
	)
	return nil
}

// newPublisher returns the RabbitMQ publisher when configured, else the
// in-process bus.
func (c *Container) newPublisher() eventbus.Publisher {
	if c.Config.RabbitMQURL == "" {
		return c.Bus
	}
	publisher, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Logger)
	if err != nil {
		c.Logger.Warn("RabbitMQ not available, using in-process bus", "error", err)
		return c.Bus
	}
	c.Probes.Register("rabbitmq", false, func(context.Context) error {
		if publisher.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	})
	return publisher
}

// StrategyConfig maps configuration onto module load strategies.
func StrategyConfig(cfg *config.Config) module.StrategyConfig {
	return module.StrategyConfig{
		BundledPath:       cfg.ModulePath,
		AlternatePath:     cfg.ModuleAltPath,
		Checksum:          cfg.ModuleChecksum,
		PluginPath:        cfg.ModulePlugin,
		PluginChecksum:    cfg.ModulePluginChecksum,
		RemoteURL:         cfg.ModuleURL,
		OAuthClientID:     cfg.OAuthClientID,
		OAuthClientSecret: cfg.OAuthClientSecret,
		OAuthTokenURL:     cfg.OAuthTokenURL,
		WebDAVURL:         cfg.WebDAVURL,
		WebDAVPath:        cfg.WebDAVPath,
		WebDAVUser:        cfg.WebDAVUser,
		WebDAVPassword:    cfg.WebDAVPassword,
	}
}

func storeKind(conn database.Connection) string {
	if conn == nil {
		return "memory"
	}
	return string(conn.Driver())
}

// Close cleans up all resources.
func (c *Container) Close(ctx context.Context) {
	if c.Checker != nil {
		if err := c.Checker.Close(ctx); err != nil {
			c.Logger.Warn("failed to shut down checker", "error", err)
		}
	}
	if c.Feedback != nil {
		if err := c.Feedback.Close(); err != nil {
			c.Logger.Warn("failed to close feedback service", "error", err)
		}
	} else if c.FeedbackStore != nil {
		// The SQL store owns DBConn.
		if err := c.FeedbackStore.Close(); err != nil {
			c.Logger.Warn("failed to close feedback store", "error", err)
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("failed to close Redis client", "error", err)
		}
	}
	c.Health.Shutdown()
}
