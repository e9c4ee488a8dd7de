package bootstrap

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"finanalyst/internal/adapters/adk"
	"finanalyst/internal/adapters/ai"
	chclient "finanalyst/internal/adapters/clickhouse"
	"finanalyst/internal/adapters/config"
	"finanalyst/internal/adapters/embeddings"
	errnoop "finanalyst/internal/adapters/errors/noop"
	"finanalyst/internal/adapters/errors/sentry"
	"finanalyst/internal/adapters/kafka"
	pgclient "finanalyst/internal/adapters/postgres"
	redisclient "finanalyst/internal/adapters/redis"
	"finanalyst/internal/adapters/telegram"
	"finanalyst/internal/agents"
	"finanalyst/internal/api"
	"finanalyst/internal/api/health"
	"finanalyst/internal/consumers"
	"finanalyst/internal/crew"
	"finanalyst/internal/document"
	domaindoc "finanalyst/internal/domain/document"
	"finanalyst/internal/events"
	"finanalyst/internal/metrics"
	chrepo "finanalyst/internal/repository/clickhouse"
	pgrepo "finanalyst/internal/repository/postgres"
	analysissvc "finanalyst/internal/services/analysis"
	"finanalyst/internal/tools"
	"finanalyst/internal/tools/shared"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects the configured data stores. A store with
// no host configured stays nil; a configured store that cannot be reached
// is fatal.
func (c *Container) MustInitInfrastructure() {
	var err error

	if c.Config.Postgres.Enabled() {
		c.Log.Info("Connecting to PostgreSQL...")
		ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
		c.PG, err = pgclient.NewClient(ctx, c.Config.Postgres)
		cancel()
		if err != nil {
			c.Log.Fatalf("failed to connect postgres: %v", err)
		}
		c.Log.Info("✓ PostgreSQL connected")
	}

	if c.Config.ClickHouse.Enabled() {
		c.Log.Info("Connecting to ClickHouse...")
		ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
		c.CH, err = chclient.NewClient(ctx, c.Config.ClickHouse)
		if err == nil {
			err = c.CH.EnsureSchema(ctx)
		}
		cancel()
		if err != nil {
			c.Log.Fatalf("failed to init clickhouse: %v", err)
		}
		c.Log.Info("✓ ClickHouse connected")
	}

	if c.Config.Redis.Enabled() {
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(c.Config.Redis)
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Log.Info("✓ Redis connected")
	}
}

// redisConn returns the raw client for components that speak go-redis directly.
func (c *Container) redisConn() *goredis.Client {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Client()
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories initializes the repositories of the enabled stores
func (c *Container) MustInitRepositories() {
	if c.PG != nil {
		c.Repos.Analysis = pgrepo.NewAnalysisRepository(c.PG.DB())
		c.Repos.Chunks = pgrepo.NewChunkRepository(c.PG.DB())
	}
	if c.CH != nil {
		c.Repos.Stats = chrepo.NewStatsRepository(c.CH.Conn())
	}
	c.Log.Infow("✓ Repositories initialized",
		"postgres", c.PG != nil,
		"clickhouse", c.CH != nil,
	)
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters initializes Kafka, AI providers and embeddings
func (c *Container) MustInitAdapters() {
	cfg := c.Config

	if cfg.Kafka.Enabled() {
		c.Adapters.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
		c.Adapters.Publisher = events.NewPublisher(c.Adapters.KafkaProducer, c.Log)

		switch c.Mode {
		case ModeWorker:
			readers := max(cfg.Worker.Concurrency, 1)
			for range readers {
				c.Adapters.AnalysisSource = append(c.Adapters.AnalysisSource,
					provideKafkaConsumer(cfg, kafka.TopicAnalysisRequested, cfg.Kafka.GroupID+".workers", c.Log))
			}
		case ModeServe:
			if cfg.Telegram.Enabled() {
				c.Adapters.NotifySource = provideKafkaConsumer(cfg, kafka.TopicAnalysisCompleted, cfg.Kafka.GroupID+".telegram", c.Log)
			}
		}
		c.Log.Info("✓ Kafka initialized")
	}

	registry, err := ai.BuildRegistry(cfg.AI, c.redisConn())
	if err != nil {
		c.Log.Fatalf("failed to build AI registry: %v", err)
	}
	c.Adapters.AIProviders = registry

	c.Adapters.Embeddings = provideEmbeddings(cfg, c.Log)

	if c.Repos.Stats != nil {
		c.Adapters.ToolUsage = chrepo.NewToolUsageWriter(c.Repos.Stats, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval)
	}

	c.Log.Info("✓ Adapters initialized")
}

// ========================================
// Phase 5: Business Logic
// ========================================

// MustInitBusiness builds the document service, tools, agents, crew and the
// analysis service
func (c *Container) MustInitBusiness() {
	cfg := c.Config

	defs, err := provideDefinitions(cfg)
	if err != nil {
		c.Log.Fatalf("failed to load crew definitions: %v", err)
	}
	c.Business.Definitions = defs

	c.Business.Documents, err = c.provideDocuments()
	if err != nil {
		c.Log.Fatalf("failed to init document service: %v", err)
	}

	c.Business.Tools, err = c.provideToolRegistry()
	if err != nil {
		c.Log.Fatalf("failed to register tools: %v", err)
	}

	c.Business.Guard = c.provideCostGuard()

	c.Business.Factory, err = c.provideAgentFactory()
	if err != nil {
		c.Log.Fatalf("failed to init agents: %v", err)
	}

	c.Business.Crew, err = crew.New(crew.Config{
		Definitions: defs,
		Factory:     c.Business.Factory,
		Guard:       c.Business.Guard,
		TaskTimeout: cfg.Crew.TaskTimeout,
		Log:         c.Log,
	})
	if err != nil {
		c.Log.Fatalf("failed to init crew: %v", err)
	}

	c.Business.Analysis, err = c.provideAnalysisService()
	if err != nil {
		c.Log.Fatalf("failed to init analysis service: %v", err)
	}

	c.Log.Infow("✓ Business logic initialized",
		"agents", len(defs.Agents),
		"tasks", len(defs.Tasks),
		"searchable", c.Business.Documents.Searchable(),
		"queued", c.Business.Analysis.Queued(),
	)
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication builds the HTTP server and, in serve mode, the API
// routes and the Telegram bot. Workers only expose probes and metrics.
func (c *Container) MustInitApplication() {
	cfg := c.Config

	c.Application.HealthHandler = c.provideHealth()

	var handler *api.Handler
	if c.Mode == ModeServe {
		hcfg := api.HandlerConfig{
			Analyzer:    c.Business.Analysis,
			Definitions: c.Business.Definitions,
			UploadDir:   cfg.Document.UploadDir,
			MaxUploadMB: cfg.HTTP.MaxUploadMB,
			Log:         c.Log,
		}
		if c.Repos.Stats != nil {
			hcfg.Stats = c.Repos.Stats
		}
		handler = api.NewHandler(hcfg)

		if cfg.Telegram.Enabled() {
			bot, tgHandler, err := c.provideTelegram()
			if err != nil {
				c.Log.Fatalf("failed to init telegram bot: %v", err)
			}
			c.Application.TelegramBot = bot
			c.Application.TelegramHandler = tgHandler
		}
	}

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Addr:        cfg.HTTP.Addr(),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	}, c.Application.HealthHandler, handler, c.Log)

	metrics.Init()
	metrics.RegisterCustomCollector(c.provideCollector())
	c.Log.Info("✓ Application layer initialized")
}

// ========================================
// Phase 7: Background Processing
// ========================================

// MustInitBackground initializes workers and consumers for the mode
func (c *Container) MustInitBackground() {
	switch c.Mode {
	case ModeServe:
		c.Background.WorkerScheduler = provideWorkers(c.Config, c.Repos.Analysis, c.Log)
		if h := c.Application.HealthHandler; h != nil {
			h.Register("workers", c.Background.WorkerScheduler.Check)
		}

		if c.Adapters.NotifySource != nil && c.Application.TelegramBot != nil {
			c.Background.NotificationConsumer = consumers.NewNotificationConsumer(
				c.Adapters.NotifySource,
				telegram.NewNotifier(c.Application.TelegramBot, c.Log),
				c.Log,
			)
		}

	case ModeWorker:
		if len(c.Adapters.AnalysisSource) == 0 || !c.Business.Analysis.Queued() {
			c.Log.Warn("Worker mode without Kafka and Postgres has nothing to consume")
			return
		}
		sources := make([]consumers.MessageSource, 0, len(c.Adapters.AnalysisSource))
		for _, s := range c.Adapters.AnalysisSource {
			sources = append(sources, s)
		}
		c.Background.AnalysisConsumer = consumers.NewAnalysisConsumer(
			sources,
			c.Business.Analysis,
			c.Config.Worker.RunTimeout,
			c.Log,
		)
	}

	c.Log.Info("✓ Background processing initialized")
}

// ========================================
// Helper Provider Functions
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(sentry.Options{
		DSN:         cfg.ErrorTracking.SentryDSN,
		Environment: cfg.ErrorTracking.Environment,
		Release:     cfg.App.Name + "@" + cfg.App.Version,
		Debug:       cfg.App.Debug,
	})
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideKafkaConsumer(cfg *config.Config, topic, groupID string, log *logger.Logger) *kafka.Consumer {
	log.Infow("Initializing Kafka consumer", "topic", topic, "group", groupID)
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: groupID,
		Topic:   topic,
	})
}

// provideEmbeddings returns nil when no key is configured; documents are
// then read whole and never indexed.
func provideEmbeddings(cfg *config.Config, log *logger.Logger) embeddings.Provider {
	key := cfg.AI.EmbeddingKey
	if key == "" {
		key = cfg.AI.OpenAIKey
	}

	provider, err := embeddings.NewProvider(embeddings.Config{
		APIKey:  key,
		Model:   cfg.AI.EmbeddingModel,
		BaseURL: cfg.AI.EmbeddingBaseURL,
	})
	if errors.Is(err, errors.ErrUnavailable) {
		log.Info("Embeddings disabled, document search unavailable")
		return nil
	}
	if err != nil {
		log.Fatalf("failed to init embeddings: %v", err)
	}
	return provider
}

// indexingEmbedder returns p when its vectors fit the chunk table, nil
// otherwise. Documents are then read whole and never indexed.
func indexingEmbedder(p embeddings.Provider, dimensions int, log *logger.Logger) embeddings.Provider {
	if p == nil {
		return nil
	}
	if p.Dimensions() != dimensions {
		log.Warnw("Embedding model does not fit the chunk table, document search disabled",
			"model", p.Name(),
			"model_dimensions", p.Dimensions(),
			"table_dimensions", dimensions,
		)
		return nil
	}
	return p
}

func provideDefinitions(cfg *config.Config) (*agents.Definitions, error) {
	if cfg.Crew.ConfigDir != "" {
		return agents.LoadDefinitionsDir(cfg.Crew.ConfigDir)
	}
	return agents.DefaultDefinitions()
}

func (c *Container) provideDocuments() (*document.Service, error) {
	var cache document.Cache = document.NoopCache{}
	if c.Redis != nil {
		cache = document.NewRedisCache(c.Redis, c.Config.Document.CacheTTL)
	}

	var indexer *document.Indexer
	embedder := indexingEmbedder(c.Adapters.Embeddings, pgrepo.EmbeddingDimensions, c.Log)
	if c.Repos.Chunks != nil && embedder != nil {
		chunker, err := document.NewChunker(c.Config.Document.ChunkSize, c.Config.Document.ChunkOverlap)
		if err != nil {
			return nil, err
		}
		indexer = document.NewIndexer(embedder, domaindoc.NewService(c.Repos.Chunks), chunker)
		if c.Redis != nil {
			indexer.WithLocker(c.Redis)
		}
	}

	return document.NewService(document.NewReader(), cache, indexer), nil
}

func (c *Container) provideToolRegistry() (*tools.Registry, error) {
	deps := shared.Deps{
		Documents:   c.Business.Documents,
		DefaultPath: c.Config.Document.DefaultPath,
		Log:         c.Log,
	}
	// Typed nil pointers must not leak into the interface.
	if c.Adapters.ToolUsage != nil {
		deps.Stats = c.Adapters.ToolUsage
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterAllTools(registry, deps); err != nil {
		return nil, err
	}
	return registry, nil
}

func (c *Container) provideCostGuard() *agents.CostGuard {
	var cache agents.CostCache
	if rdb := c.redisConn(); rdb != nil {
		cache = agents.NewRedisCostCache(rdb)
	} else if c.Config.Crew.DailyUserCostUSD > 0 {
		c.Log.Warn("CREW_DAILY_USER_COST_USD is set but Redis is not configured; daily budgets are off")
	}

	return agents.NewCostGuard(
		decimal.NewFromFloat(c.Config.Crew.MaxCostUSD),
		decimal.NewFromFloat(c.Config.Crew.DailyUserCostUSD),
		cache,
	)
}

func (c *Container) provideAgentFactory() (*agents.Factory, error) {
	cfg := c.Config.AI

	ctx, cancel := context.WithTimeout(c.Context, 15*time.Second)
	defer cancel()

	chat, info, err := c.Adapters.AIProviders.ResolveRef(ctx, cfg.Model, cfg.DefaultProvider)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve model %s", cfg.Model)
	}
	c.Log.Infow("✓ Model resolved", "provider", info.Provider, "model", info.Name)

	return agents.NewFactory(agents.FactoryDeps{
		Model:     adk.NewModelAdapter(chat, info.Name, adk.WithTemperature(cfg.Temperature), adk.WithMaxTokens(cfg.MaxTokens)),
		ModelName: info.Ref(),
		Tools:     c.Business.Tools,
		Costs:     agents.NewCostTracker(info),
		Guard:     c.Business.Guard,
		Log:       c.Log,
	})
}

func (c *Container) provideAnalysisService() (*analysissvc.Service, error) {
	svcCfg := analysissvc.Config{
		Crew:      c.Business.Crew,
		Documents: c.Business.Documents,
		Tracker:   c.ErrorTracker,
		Log:       c.Log,
	}
	if c.Repos.Analysis != nil {
		svcCfg.Repository = c.Repos.Analysis
	}
	if c.Adapters.Publisher != nil {
		svcCfg.Publisher = c.Adapters.Publisher
	}
	if c.Redis != nil {
		svcCfg.Cache = analysissvc.NewResultCache(c.Redis, c.Config.Crew.ResultCacheTTL)
	}
	return analysissvc.NewService(svcCfg)
}

func (c *Container) provideHealth() *health.Handler {
	h := health.New(c.Log, c.Config.App.Name, c.Config.App.Version)
	if c.PG != nil {
		h.Register("postgres", c.PG.Health)
	}
	if c.CH != nil {
		h.Register("clickhouse", c.CH.Health)
	}
	if c.Redis != nil {
		h.Register("redis", c.Redis.Health)
	}
	return h
}

func (c *Container) provideTelegram() (*telegram.Bot, *telegram.Handler, error) {
	cfg := c.Config

	bot, err := telegram.NewBot(telegram.Config{
		Token: cfg.Telegram.BotToken,
		Debug: cfg.Telegram.Debug,
	}, c.Log)
	if err != nil {
		return nil, nil, err
	}

	hcfg := telegram.HandlerConfig{
		Sender:       bot,
		Analyzer:     c.Business.Analysis,
		Definitions:  c.Business.Definitions,
		UploadDir:    cfg.Document.UploadDir,
		MaxUploadMB:  int(cfg.HTTP.MaxUploadMB),
		AllowedUsers: cfg.Telegram.AllowedUsers,
		Log:          c.Log,
	}
	if c.Business.Guard != nil {
		hcfg.Budget = c.Business.Guard
	}

	handler, err := telegram.NewHandler(hcfg)
	if err != nil {
		return nil, nil, err
	}
	bot.SetHandler(handler.HandleUpdate)

	c.Log.Infow("✓ Telegram bot initialized", "allowed_users", len(cfg.Telegram.AllowedUsers))
	return bot, handler, nil
}

func (c *Container) provideCollector() *metrics.CustomCollector {
	var (
		db   *sqlx.DB
		conn driver.Conn
	)
	if c.PG != nil {
		db = c.PG.DB()
	}
	if c.CH != nil {
		conn = c.CH.Conn()
	}
	return metrics.NewCustomCollector(c.Log, db, conn, c.redisConn())
}
