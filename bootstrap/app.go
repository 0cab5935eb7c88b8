// Package bootstrap assembles the defense layer: configuration,
// logging, the rate limiter, the session guard, the event pipeline with
// its correlation and compliance consumers, alerting, storage, and the
// operational API.
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"bastion/api"
	"bastion/compliance"
	"bastion/config"
	"bastion/core"
	"bastion/correlate"
	"bastion/notify"
	"bastion/pipeline"
	"bastion/ratelimit"
	"bastion/session"
	"bastion/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App represents the defense layer with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Monitor    *ratelimit.Monitor
	Limiter    *ratelimit.HierarchicalLimiter
	Registry   *session.Registry
	Guard      *session.Guard
	Correlator *correlate.Correlator
	Generator  *compliance.Generator
	Pipeline   *pipeline.Pipeline
	Notifier   *notify.Notifier
	AuditStore *storage.AuditStore
	APIServer  *api.API

	redisClient *redis.Client
	connections atomic.Int64
}

// NewApp creates a new application instance and initializes all
// components. Invalid configuration fails fast.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Bastion defense layer starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	app.Monitor = ratelimit.NewMonitor(ratelimit.MonitorConfig{
		MemoryLimitBytes: uint64(cfg.Resource.MemoryLimitMB) << 20,
		SampleInterval:   cfg.Resource.SampleInterval,
		Connections:      app.connectionCounts,
	}, sugar)

	limiter, err := ratelimit.NewHierarchicalLimiter(limiterConfig(cfg), app.Monitor, sugar)
	if err != nil {
		return nil, err
	}
	app.Limiter = limiter

	if cfg.Redis.Enabled {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := app.redisClient.Ping(ctx).Err(); err != nil {
			sugar.Warnw("Redis unreachable at startup, rate limits fall back to local windows",
				"addr", cfg.Redis.Addr, "error", err)
		}
		limiter.SetRedis(ratelimit.NewRedisWindows(app.redisClient, "", sugar))
		sugar.Infow("Distributed rate limiting enabled", "addr", cfg.Redis.Addr)
	}

	app.Registry = session.NewRegistry(session.RegistryConfig{
		Retention:  cfg.Session.Retention,
		GCInterval: cfg.Session.GCInterval,
	}, sugar)

	scorer, err := session.NewScorer(scorerConfig(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.Storage.Enabled {
		store, err := storage.Open(storage.Config{
			Enabled:    true,
			SQLitePath: cfg.Storage.SQLitePath,
			QueueSize:  cfg.Storage.QueueSize,
		}, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		app.AuditStore = store
	}

	var rules []correlate.RulePattern
	if cfg.Correlation.PatternsFile != "" {
		rules, err = correlate.LoadPatterns(cfg.Correlation.PatternsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load correlation patterns: %w", err)
		}
		sugar.Infow("Correlation patterns loaded", "path", cfg.Correlation.PatternsFile, "count", len(rules))
	} else {
		rules = correlate.DefaultPatterns()
		sugar.Infow("Using built-in correlation patterns", "count", len(rules))
	}

	correlator, err := correlate.NewCorrelator(correlate.Config{
		BufferSize:      cfg.Correlation.BufferSize,
		Window:          cfg.Correlation.Window,
		MaxGroups:       cfg.Correlation.MaxGroups,
		GroupTTL:        cfg.Correlation.GroupTTL,
		CleanupInterval: time.Minute,
	}, rules, sugar)
	if err != nil {
		return nil, err
	}
	app.Correlator = correlator

	var writer compliance.EvidenceWriter
	if app.AuditStore != nil {
		writer = app.AuditStore
	}
	app.Generator = compliance.NewGenerator(cfg.Frameworks(), writer, sugar)

	notifier, err := notify.NewNotifier(notify.Config{
		Enabled:     cfg.Notify.Enabled,
		WebhookURL:  cfg.Notify.WebhookURL,
		Method:      cfg.Notify.Method,
		MinSeverity: cfg.Notify.MinSeverity,
		QueueSize:   cfg.Notify.QueueSize,
		Timeout:     cfg.Notify.Timeout,
	}, sugar)
	if err != nil {
		return nil, err
	}
	app.Notifier = notifier

	app.Pipeline = pipeline.New(cfg.Pipeline.QueueSize, sugar)
	app.Pipeline.Register(pipeline.ConsumerFunc("correlator", app.correlateEvent))
	app.Pipeline.Register(pipeline.ConsumerFunc("compliance", app.classifyEvent))

	limiter.SetEventSink(app.Pipeline)
	app.Guard = session.NewGuard(app.Registry, scorer, app.Pipeline, sugar)

	app.APIServer = api.NewAPI(reporterAdapter{app.Generator}, app.statsSources(), sugar)

	return app, nil
}

// Submit feeds a security event into the asynchronous pipeline. Hosts
// embedding the layer call this for events they raise themselves.
func (a *App) Submit(event *core.SecurityEvent) {
	a.Pipeline.Submit(event)
}

// correlateEvent runs one event through the correlator and routes any
// resulting alerts to the notifier and the audit trail.
func (a *App) correlateEvent(event *core.SecurityEvent) {
	for _, alert := range a.Correlator.Process(event) {
		a.Sugar.Infow("Security alert generated",
			"alert_id", alert.AlertID,
			"threat_type", alert.ThreatType,
			"severity", alert.Severity,
			"confidence", alert.Confidence)
		a.Notifier.Publish(alert)
		if a.AuditStore != nil {
			a.AuditStore.SaveAlert(alert)
		}
	}
}

// classifyEvent derives compliance evidence from one event.
func (a *App) classifyEvent(event *core.SecurityEvent) {
	a.Generator.Classify(event)
}

// ConnectionOpened and ConnectionClosed let the host report transport
// connections so the resource monitor can score saturation.
func (a *App) ConnectionOpened() { a.connections.Add(1) }
func (a *App) ConnectionClosed() { a.connections.Add(-1) }

func (a *App) connectionCounts() (int, int) {
	return int(a.connections.Load()), a.Config.Resource.MaxConnections
}

// Start launches the pipeline, the notifier, and the API server.
func (a *App) Start(ctx context.Context) error {
	a.Pipeline.Start()
	a.Notifier.Start()

	addr := net.JoinHostPort(a.Config.API.Host, strconv.Itoa(a.Config.API.Port))
	go func() {
		a.Sugar.Infow("API server listening", "addr", addr)
		if err := a.APIServer.Start(addr); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("API server failed", "error", err)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully stops all components: the API first, then the
// pipeline (drained into its consumers), then everything downstream.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.APIServer.Stop(ctx); err != nil {
		a.Sugar.Warnw("API server shutdown error", "error", err)
	}

	a.Pipeline.Stop()
	a.Correlator.Stop()
	a.Registry.Stop()
	a.Notifier.Stop()

	if a.AuditStore != nil {
		if err := a.AuditStore.Close(); err != nil {
			a.Sugar.Warnw("audit store close error", "error", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Sugar.Warnw("redis close error", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

// reporterAdapter narrows the generator to the API's Reporter interface.
type reporterAdapter struct {
	gen *compliance.Generator
}

func (r reporterAdapter) Report(framework core.Framework, start, end time.Time) (any, error) {
	return r.gen.Report(framework, start, end)
}

func (a *App) statsSources() []api.StatsSource {
	return []api.StatsSource{
		{Name: "rate_limit", Stats: func() any { return a.Limiter.Stats() }},
		{Name: "sessions", Stats: func() any { return a.Registry.Stats() }},
		{Name: "correlation", Stats: func() any { return a.Correlator.Stats() }},
		{Name: "pipeline", Stats: func() any { return a.Pipeline.Stats() }},
		{Name: "compliance", Stats: func() any { return a.Generator.EvidenceCount() }},
	}
}

func limiterConfig(cfg *config.Config) ratelimit.LimiterConfig {
	tiers := make(map[core.Tier]ratelimit.TierLimit, len(cfg.RateLimit.Tiers))
	for name, tl := range cfg.RateLimit.Tiers {
		tier, _ := core.ParseTier(name)
		tiers[tier] = ratelimit.TierLimit{Limit: tl.Limit, Window: tl.Window}
	}
	return ratelimit.LimiterConfig{
		Tiers: tiers,
		Pressure: ratelimit.PressureThresholds{
			Memory:          cfg.RateLimit.Pressure.Memory,
			CPU:             cfg.RateLimit.Pressure.CPU,
			Connections:     cfg.RateLimit.Pressure.Connections,
			ReductionFactor: cfg.RateLimit.Pressure.ReductionFactor,
		},
		MaxKeys: cfg.RateLimit.MaxKeys,
		IdleTTL: cfg.RateLimit.IdleTTL,
	}
}

func scorerConfig(cfg *config.Config) session.ScorerConfig {
	sc := session.DefaultScorerConfig()
	sc.HighRiskThreshold = cfg.Session.HighRiskThreshold
	sc.MediumRiskThreshold = cfg.Session.MediumRiskThreshold
	sc.ActivityFreshness = cfg.Session.ActivityFreshness
	sc.MultiplicityThreshold = cfg.Session.MultiplicityThreshold
	sc.RapidCreationCount = cfg.Session.RapidCreationCount
	sc.RapidCreationWindow = cfg.Session.RapidCreationWindow
	return sc
}
