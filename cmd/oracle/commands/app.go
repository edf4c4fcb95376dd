package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/F1J197/flow-oracle-sub007/internal/brain"
	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/data/repos"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/internal/engineconfig"
	"github.com/F1J197/flow-oracle-sub007/internal/metrics"
	"github.com/F1J197/flow-oracle-sub007/internal/provider"
	"github.com/F1J197/flow-oracle-sub007/internal/scheduler"
	"github.com/F1J197/flow-oracle-sub007/internal/scheduler/jobs"
	"github.com/F1J197/flow-oracle-sub007/pkg/config"
	"github.com/F1J197/flow-oracle-sub007/pkg/database"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
	"github.com/F1J197/flow-oracle-sub007/pkg/redis"
)

const mirrorPrefix = "oracle"

// app is the wired process: config, engines, orchestrator and optional stores
type app struct {
	cfg          *config.Config
	log          *logger.Logger
	provider     contracts.SnapshotProvider
	manifest     *engineconfig.Manifest
	registry     *engine.Registry
	engines      *engineconfig.Engines
	cache        *cache.Cache
	recorder     *metrics.Recorder
	orchestrator *brain.Orchestrator
	mirror       *brain.RedisMirror
	outputs      *repos.OutputRepository
	closers      []func()
}

// loadConfig applies the global flags on top of the environment
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if env != "" {
		switch env {
		case "development", "staging", "production":
			cfg.Env = env
		default:
			return nil, fmt.Errorf("--env must be one of: development, staging, production")
		}
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

// newLogger writes to logOut when given, else to stdout per config
func newLogger(cfg *config.Config, logOut io.Writer) *logger.Logger {
	if logOut != nil {
		return logger.NewWithWriter(logOut, cfg.LogLevel)
	}
	return logger.New(cfg)
}

// buildRegistry loads the manifest and registers its engines
func buildRegistry(cfg *config.Config, memo *cache.Cache, log *logger.Logger) (*engineconfig.Manifest, *engine.Registry, *engineconfig.Engines, error) {
	manifest, err := engineconfig.LoadOrDefault(cfg.Engine.ManifestPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load engine manifest: %w", err)
	}

	registry := engine.NewRegistry(log)
	built, err := engineconfig.Build(manifest, registry, memo, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build engines: %w", err)
	}
	if err := registry.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("engine configuration: %w", err)
	}

	return manifest, registry, built, nil
}

// newApp wires every component the commands need
func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	// 1. Load config
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	// 2. Initialize logger
	log := newLogger(cfg, logOut)
	a := &app{cfg: cfg, log: log}

	// 3. Snapshot provider
	a.provider, err = provider.New(cfg.Snapshot, log)
	if err != nil {
		return nil, fmt.Errorf("create snapshot provider: %w", err)
	}

	// 4. Metrics + result cache
	var cacheOpts []cache.Option
	if cfg.MetricsEnabled {
		a.recorder = metrics.New()
		cacheOpts = append(cacheOpts, cache.WithObserver(a.recorder))
	}
	a.cache = cache.New(cfg.Engine.CacheTTL, log, cacheOpts...)

	// 5. Engines
	a.manifest, a.registry, a.engines, err = buildRegistry(cfg, a.cache, log)
	if err != nil {
		return nil, err
	}

	// 6. Redis last-known-good mirror
	opts := brain.Options{CacheTTL: cfg.Engine.CacheTTL}
	if a.recorder != nil {
		opts.Recorder = a.recorder
	}
	if cfg.Redis.Enabled {
		client, err := redis.New(cfg)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.mirror = brain.NewRedisMirror(client, mirrorPrefix, redis.TTLLong)
		opts.Mirror = a.mirror
		log.Info("Connected to redis")
	}

	// 7. Output persistence
	if cfg.PersistEnabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		a.outputs = repos.NewOutputRepository(db.Pool)
		if err := a.outputs.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("ensure output schema: %w", err)
		}
		log.Info("Connected to database")
	}

	// 8. Orchestrator
	a.orchestrator = brain.NewOrchestrator(a.registry, a.cache, opts, log)

	return a, nil
}

// close releases connections in reverse order
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newScheduler registers the refresh, sweep and (with persistence) prune jobs
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log, scheduler.Options{
		MaxRetries: a.cfg.Engine.JobRetries,
		RetryDelay: a.cfg.Engine.JobRetryDelay,
	})

	jobList := []scheduler.Job{
		jobs.NewRefreshJob(a.provider, a.orchestrator, a.cfg.Engine.RefreshSchedule, a.log),
		jobs.NewCacheSweepJob(a.cache, a.cfg.Engine.CacheSweepSchedule, a.log),
	}
	if a.outputs != nil {
		jobList = append(jobList, jobs.NewOutputPruneJob(a.outputs, a.cfg.Engine.OutputRetention, a.log))
	}

	for _, job := range jobList {
		if err := sched.AddJob(job); err != nil {
			return nil, fmt.Errorf("add job: %w", err)
		}
	}

	return sched, nil
}

// recordCycle exports, persists and mirrors one completed cycle.
// Store failures are logged; they never fail the cycle.
func (a *app) recordCycle(ctx context.Context, ev brain.CycleEvent) {
	log := a.log.WithCycle(ev.CycleID)

	if a.recorder != nil {
		for _, res := range ev.Results {
			a.recorder.RecordResult(res, engine.IntegrityEngineID)
		}
	}

	if a.outputs != nil {
		if err := a.outputs.SaveCycle(ctx, ev.CycleID, ev.Results); err != nil {
			log.WithError(err).Error("Failed to persist cycle outputs")
		}
	}

	if a.mirror != nil {
		if err := a.mirror.SaveCycle(ctx, ev); err != nil {
			log.WithError(err).Warn("Failed to mirror cycle summary")
		}
	}
}

// startCycleSink records every cycle until ctx is canceled
func (a *app) startCycleSink(ctx context.Context) {
	events, cancel := a.orchestrator.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.recordCycle(ctx, ev)
			}
		}
	}()
}
