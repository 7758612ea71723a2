package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/teranos/courseforge/ai/gateway"
	"github.com/teranos/courseforge/ai/provider"
	"github.com/teranos/courseforge/ai/tracker"
	"github.com/teranos/courseforge/am"
	"github.com/teranos/courseforge/batch"
	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/credits"
	"github.com/teranos/courseforge/db"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/generation"
	"github.com/teranos/courseforge/internal/httpclient"
	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/metrics"
	"github.com/teranos/courseforge/notify"
	"github.com/teranos/courseforge/pulse/async"
	"github.com/teranos/courseforge/pulse/budget"
	"github.com/teranos/courseforge/research"
)

// app is the wired core shared by serve and the operator commands
type app struct {
	cfg      *am.Config
	dbPath   string
	db       *sql.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	jobs     *async.Queue
	ledger   *credits.Ledger
	content  *content.Store
	budget   *budget.Tracker
	models   *gateway.Gateway
	research *research.Gateway
	redis    redis.UniversalClient
	hub      *notify.Hub
	orch     *generation.Orchestrator
	batches  *batch.Coordinator
}

type appOptions struct {
	dbPath string
	hub    bool // websocket hub as a notification sink (serve only)
}

// openApp loads configuration, opens the database and wires every component.
// Callers must Close it.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	a := &app{cfg: cfg, dbPath: opts.dbPath}
	a.db, a.dbPath, err = openDatabase(opts.dbPath)
	if err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewMetrics(a.registry)

	a.jobs = async.NewQueue(a.db)
	a.ledger = credits.NewLedger(a.db, cfg.Credits.DefaultGrant).WithMetrics(a.metrics)
	a.content = content.NewStore(a.db)
	a.budget = budget.NewTracker(a.db, budgetConfig(cfg))
	a.models = a.newModels()
	a.research = a.newResearch()

	if err := a.connectRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if opts.hub {
		a.hub = notify.NewHub(cfg.Server.AllowedOrigins, logger.ComponentLogger("hub"), a.metrics)
	}

	sink := a.notifier()
	a.orch = generation.New(generation.Deps{
		Jobs:     a.jobs,
		Ledger:   a.ledger,
		Content:  a.content,
		Models:   a.models,
		Research: a.research,
		Notifier: sink,
		Metrics:  a.metrics,
	})
	a.batches = batch.NewCoordinator(ctx, a.jobs, a.ledger, a.orch, sink, batchConfig(cfg)).
		WithMetrics(a.metrics)
	return a, nil
}

func (a *app) newModels() *gateway.Gateway {
	cfg := a.cfg
	clientCfg := provider.ClientConfig{
		Tracker:       tracker.NewUsageTracker(a.db),
		Logger:        logger.ComponentLogger("provider"),
		OperationType: "generation",
	}
	chosen := provider.DetermineProvider(cfg)
	if p, err := provider.ParseProvider(cfg.AI.Provider); err == nil && p != provider.ProviderAuto {
		chosen = p
	}

	var cache *gateway.Cache
	if cfg.Cache.Enabled {
		cache = gateway.NewCache(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}
	var limiter *budget.Limiter
	if cfg.AI.RequestsPerMinute > 0 {
		limiter = budget.NewLimiter(cfg.AI.RequestsPerMinute)
	}

	return gateway.New(gateway.Config{
		Chat:         provider.NewAIClientWithProvider(cfg, chosen, clientCfg),
		Images:       provider.NewImageClient(cfg, clientCfg),
		Cache:        cache,
		Budget:       a.budget,
		Limiter:      limiter,
		Metrics:      a.metrics,
		Logger:       logger.ComponentLogger("gateway"),
		ProviderName: string(chosen),
	})
}

// newResearch returns a gateway with no searcher when research is off, which
// the orchestrator treats as disabled
func (a *app) newResearch() *research.Gateway {
	rc := a.cfg.Research
	var searcher research.Searcher
	if rc.Enabled {
		searcher = research.NewHTTPSearcher(rc.BaseURL, rc.APIKey, time.Duration(rc.TimeoutSeconds)*time.Second)
	}
	return research.New(research.Config{
		Searcher:   searcher,
		Models:     a.models,
		MaxSources: rc.MaxSources,
		Logger:     logger.ComponentLogger("research"),
	})
}

func (a *app) connectRedis(ctx context.Context) error {
	rc := a.cfg.Notify.Redis
	if !rc.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return errors.WithHint(
			errors.Wrapf(err, "failed to reach redis at %s", rc.Addr),
			"Disable notify.redis.enabled or start redis",
		)
	}
	a.redis = client
	return nil
}

// notifier fans completions out to every configured sink
func (a *app) notifier() notify.Notifier {
	nc := a.cfg.Notify
	var sinks notify.Multi
	if nc.Log {
		sinks = append(sinks, notify.NewLogNotifier(logger.ComponentLogger("notify"), a.metrics))
	}
	if nc.WebhookURL != "" {
		timeout := time.Duration(nc.WebhookTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = notify.DefaultWebhookTimeout
		}
		sinks = append(sinks, notify.NewWebhookNotifier(nc.WebhookURL, nc.WebhookSecret, a.metrics).
			WithClient(httpclient.NewSaferClient(timeout)))
	}
	if a.redis != nil {
		sinks = append(sinks, notify.NewStreamNotifier(a.redis, nc.Redis.Stream, nc.Redis.MaxLen, a.metrics))
	}
	if a.hub != nil {
		sinks = append(sinks, a.hub)
	}
	if len(sinks) == 0 {
		return notify.Nop{}
	}
	return sinks
}

// applyReload pushes the runtime-safe settings of a reloaded config
func (a *app) applyReload(cfg *am.Config) error {
	if err := a.budget.UpdateDailyBudget(cfg.Pulse.DailyBudgetUSD); err != nil {
		return err
	}
	if err := a.budget.UpdateMonthlyBudget(cfg.Pulse.MonthlyBudgetUSD); err != nil {
		return err
	}
	logger.Infow("Applied reloaded budget limits",
		"daily_usd", cfg.Pulse.DailyBudgetUSD,
		"monthly_usd", cfg.Pulse.MonthlyBudgetUSD)
	return nil
}

// Close stops background batches and releases connections
func (a *app) Close() {
	if a.batches != nil {
		a.batches.Stop()
	}
	if a.orch != nil {
		a.orch.Flush()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func budgetConfig(cfg *am.Config) budget.Config {
	return budget.Config{
		DailyBudgetUSD:   cfg.Pulse.DailyBudgetUSD,
		WeeklyBudgetUSD:  cfg.Pulse.WeeklyBudgetUSD,
		MonthlyBudgetUSD: cfg.Pulse.MonthlyBudgetUSD,
	}
}

func batchConfig(cfg *am.Config) batch.Config {
	delay := time.Duration(cfg.Batch.WindowDelayMS) * time.Millisecond
	if cfg.Batch.WindowDelayMS == 0 {
		delay = -1 // configured as no pause
	}
	return batch.Config{
		WindowSize:  cfg.Batch.WindowSize,
		WindowDelay: delay,
		MaxItems:    cfg.Batch.MaxItems,
	}
}

// resolveDBPath returns the configured database path, defaulting to
// courseforge.db in the working directory
func resolveDBPath() (string, error) {
	path, err := am.GetDatabasePath()
	if err != nil {
		return "", errors.Wrap(err, "failed to get database path")
	}
	if path == "" {
		path = "courseforge.db"
	}
	return path, nil
}

// openDatabase opens and migrates the database, resolving the path from
// configuration when dbPath is empty. Returns the path actually used.
func openDatabase(dbPath string) (*sql.DB, string, error) {
	if dbPath == "" {
		resolved, err := resolveDBPath()
		if err != nil {
			return nil, "", err
		}
		dbPath = resolved
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, dbPath, nil
}
