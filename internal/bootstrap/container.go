package bootstrap

import (
	"context"
	"sync"

	"finanalyst/internal/adapters/ai"
	chclient "finanalyst/internal/adapters/clickhouse"
	"finanalyst/internal/adapters/config"
	"finanalyst/internal/adapters/embeddings"
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
	"finanalyst/internal/events"
	chrepo "finanalyst/internal/repository/clickhouse"
	pgrepo "finanalyst/internal/repository/postgres"
	analysissvc "finanalyst/internal/services/analysis"
	"finanalyst/internal/tools"
	"finanalyst/internal/workers"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// Mode selects which surfaces a process runs.
type Mode string

const (
	// ModeCLI runs a single analysis in-process.
	ModeCLI Mode = "cli"
	// ModeServe runs the HTTP API, the Telegram bot and housekeeping workers.
	ModeServe Mode = "serve"
	// ModeWorker consumes queued analyses.
	ModeWorker Mode = "worker"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order.
type Container struct {
	Mode Mode

	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure. Each is nil when not configured.
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Business    *Business
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups all repositories
type Repositories struct {
	Analysis *pgrepo.AnalysisRepository
	Chunks   *pgrepo.ChunkRepository
	Stats    *chrepo.StatsRepository
}

// Adapters groups all external adapters
type Adapters struct {
	KafkaProducer  *kafka.Producer
	Publisher      *events.Publisher
	AnalysisSource []*kafka.Consumer
	NotifySource   *kafka.Consumer

	AIProviders *ai.ProviderRegistry
	Embeddings  embeddings.Provider
	ToolUsage   *chrepo.ToolUsageWriter
}

// Business groups the crew and the services around it
type Business struct {
	Definitions *agents.Definitions
	Documents   *document.Service
	Tools       *tools.Registry
	Guard       *agents.CostGuard
	Factory     *agents.Factory
	Crew        *crew.Crew
	Analysis    *analysissvc.Service
}

// Application groups the user-facing surfaces
type Application struct {
	HTTPServer      *api.Server
	HealthHandler   *health.Handler
	TelegramBot     *telegram.Bot
	TelegramHandler *telegram.Handler
}

// Background groups all background processing components
type Background struct {
	WorkerScheduler      *workers.Scheduler
	AnalysisConsumer     *consumers.AnalysisConsumer
	NotificationConsumer *consumers.NotificationConsumer
}

// NewContainer creates a new dependency container
func NewContainer(mode Mode) *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Mode:        mode,
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Business:    &Business{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order.
// Panics on any initialization error (fail-fast at startup).
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitBusiness()
	if c.Mode != ModeCLI {
		c.MustInitApplication()
	}
	c.MustInitBackground()
}

// Start starts every background component of the mode.
func (c *Container) Start() error {
	c.Log.Infow("Starting", "mode", c.Mode)

	if w := c.Adapters.ToolUsage; w != nil {
		w.Start(c.Context)
	}

	switch c.Mode {
	case ModeServe:
		c.goRun("http", func(context.Context) error { return c.Application.HTTPServer.Start() })
		if bot := c.Application.TelegramBot; bot != nil {
			c.goRun("telegram", bot.Start)
		}
		if nc := c.Background.NotificationConsumer; nc != nil {
			c.goRun("notifications", nc.Start)
		}
		if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
			return errors.Wrap(err, "failed to start workers")
		}

	case ModeWorker:
		if c.Background.AnalysisConsumer == nil {
			return errors.Wrap(errors.ErrUnavailable, "worker mode needs Kafka and Postgres")
		}
		c.goRun("http", func(context.Context) error { return c.Application.HTTPServer.Start() })
		c.goRun("analysis_consumer", c.Background.AnalysisConsumer.Start)
	}

	c.Log.Info("✓ All systems operational")
	return nil
}

// goRun runs a blocking component. A component that fails outside shutdown
// takes the process down with it.
func (c *Container) goRun(name string, run func(context.Context) error) {
	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := run(c.Context); err != nil && c.Context.Err() == nil {
			c.Log.Errorw("Component failed", "component", name, "error", err)
			c.Cancel()
		}
	}()
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")
	c.Cancel()

	c.Lifecycle.Shutdown(Components{
		WG:              c.WG,
		HTTPServer:      c.Application.HTTPServer,
		TelegramBot:     c.Application.TelegramBot,
		WorkerScheduler: c.Background.WorkerScheduler,
		Consumers:       c.kafkaConsumers(),
		KafkaProducer:   c.Adapters.KafkaProducer,
		ToolUsage:       c.Adapters.ToolUsage,
		PG:              c.PG,
		CH:              c.CH,
		Redis:           c.Redis,
		ErrorTracker:    c.ErrorTracker,
	}, c.Log)
}

func (c *Container) kafkaConsumers() map[string]*kafka.Consumer {
	out := make(map[string]*kafka.Consumer)
	for i, src := range c.Adapters.AnalysisSource {
		out["analysis_"+itoa(i)] = src
	}
	if c.Adapters.NotifySource != nil {
		out["notifications"] = c.Adapters.NotifySource
	}
	return out
}
