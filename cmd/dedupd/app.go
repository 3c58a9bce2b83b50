package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dedupd/internal/config"
	dbRedis "github.com/kailas-cloud/dedupd/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/dedupd/internal/db/sqlite"
	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
	"github.com/kailas-cloud/dedupd/internal/domain/gatemode"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
	"github.com/kailas-cloud/dedupd/internal/metrics"
	documentrepo "github.com/kailas-cloud/dedupd/internal/repository/document"
	"github.com/kailas-cloud/dedupd/internal/repository/runlog"
	"github.com/kailas-cloud/dedupd/internal/repository/seen"
	"github.com/kailas-cloud/dedupd/internal/repository/snapshot"
	analyzeruc "github.com/kailas-cloud/dedupd/internal/usecase/analyzer"
	cleanupuc "github.com/kailas-cloud/dedupd/internal/usecase/cleanup"
	gateuc "github.com/kailas-cloud/dedupd/internal/usecase/gate"
	healthuc "github.com/kailas-cloud/dedupd/internal/usecase/health"
	scheduleruc "github.com/kailas-cloud/dedupd/internal/usecase/scheduler"
)

const appName = "dedupd"

// documentStore is what the engine needs from either backend.
type documentStore interface {
	Put(ctx context.Context, doc domdoc.Document) error
	Scan(ctx context.Context, batchSize int, fn func([]domdoc.Document) error) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	ExistsURL(ctx context.Context, url string) (bool, error)
}

// app is the composition root shared by every subcommand.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	docs      documentStore
	cache     gateuc.SeenCache
	runlog    scheduleruc.RunLog
	health    *healthuc.Service
	snapshots *snapshot.File
	analyzer  *analyzeruc.Service
	cleaner   *cleanupuc.Service
	closers   []func()
}

// newApp connects the configured backend and builds the analyzer and cleanup engine.
// The gate and scheduler are built on demand because only some commands need them.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	metrics.RegisterMetrics()

	a := &app{cfg: cfg, logger: logger}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}

	snapPath := cfg.Gate.SnapshotPath
	if snapPath == "" {
		snapPath = snapshot.DefaultPath(appName)
	}
	a.snapshots = snapshot.NewFile(snapPath)

	a.analyzer = analyzeruc.New(a.docs, analyzeruc.Config{
		BatchSize:        cfg.Analysis.BatchSize,
		MinContentLength: cfg.Analysis.MinContentLength,
		Thresholds:       cfg.Analysis.Thresholds,
	}, logger)

	a.cleaner = cleanupuc.New(a.analyzer, a.docs, cleanupuc.Config{
		SimilarMinLength: cfg.Cleanup.SimilarMinLength,
		SimilarWindow:    cfg.Cleanup.SimilarWindow,
		DeletesPerSecond: cfg.Cleanup.DeletesPerSecond,
		DeleteBurst:      cfg.Cleanup.DeleteBurst,
	}, cleanupuc.Metrics{
		Removed:  metrics.CleanupRemovedTotal,
		Errors:   metrics.CleanupErrorsTotal,
		Duration: metrics.CleanupDuration,
	}, logger)
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	dbCfg := a.cfg.Database
	switch dbCfg.Driver {
	case config.DriverRedis, config.DriverValkey:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    dbCfg.Addrs,
			Password: dbCfg.Password,
		})
		if err != nil {
			return fmt.Errorf("create %s store: %w", dbCfg.Driver, err)
		}
		a.closers = append(a.closers, store.Close)

		if err := store.WaitForReady(ctx, time.Duration(dbCfg.ReadinessTimeout)*time.Second); err != nil {
			a.Close()
			return fmt.Errorf("database not ready: %w", err)
		}
		prefix := a.cfg.Storage.KeyPrefix
		a.docs = documentrepo.New(store, prefix)
		a.cache = seen.New(store, prefix, a.cfg.Gate.SeenTTL(), metrics.SeenCacheTotal, a.logger)
		a.runlog = runlog.New(store, prefix, a.cfg.Schedule.HistoryKeep)
		a.health = healthuc.New(store, nil)

	case config.DriverSQLite:
		path := dbCfg.SQLitePath
		if path == "" {
			path = filepath.Join(xdg.DataHome, appName, "dedupd.db")
		}
		store, err := dbSQLite.Open(path)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.docs = store
		a.runlog = store.RunLog(a.cfg.Schedule.HistoryKeep)
		a.health = healthuc.New(store, nil)

	default:
		return fmt.Errorf("unknown database driver %q", dbCfg.Driver)
	}

	a.logger.Info("Connected to document store", zap.String("driver", dbCfg.Driver))
	return nil
}

func (a *app) gateConfig() gateuc.Config {
	g := a.cfg.Gate
	return gateuc.Config{
		Mode:           gatemode.Mode(g.Mode),
		Capacity:       g.Capacity,
		ErrorRate:      g.ErrorRate,
		LookupTimeout:  g.LookupTimeout(),
		RecentCapacity: g.RecentCapacity,
		SaturationWarn: g.SaturationWarn,
	}
}

// newGate builds the gate, restoring the filter snapshot when one matches the config
// and warming from the store when configured to.
func (a *app) newGate(ctx context.Context) (*gateuc.Gate, error) {
	cfg := a.gateConfig()
	deps := gateuc.Deps{
		Store:  a.docs,
		Cache:  a.cache,
		Logger: a.logger,
		Metrics: gateuc.Metrics{
			Decisions:  metrics.GateDecisionsTotal,
			Degraded:   metrics.GateDegradedTotal,
			Saturation: metrics.GateFilterSaturation,
			Inserted:   metrics.GateFilterInserted,
		},
	}

	restored := false
	if cfg.Mode.UsesFilter() {
		data, err := a.snapshots.Load(ctx)
		switch {
		case errors.Is(err, snapshot.ErrNotFound):
		case err != nil:
			a.logger.Warn("Filter snapshot unreadable", zap.String("path", a.snapshots.Path()), zap.Error(err))
		default:
			f, err := gateuc.RestoreFilter(data, cfg)
			if err != nil {
				a.logger.Warn("Filter snapshot discarded", zap.Error(err))
				break
			}
			deps.Filter = f
			restored = true
			a.logger.Info("Filter snapshot restored",
				zap.String("path", a.snapshots.Path()),
				zap.Uint64("inserted", f.Inserted()),
			)
		}
	}

	g, err := gateuc.New(cfg, deps)
	if err != nil {
		return nil, err
	}
	if a.cfg.Gate.WarmOnStart && !restored {
		if _, err := g.Warm(ctx, a.docs); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// loadSchedule reads the schedule file, or the built-in schedule when none is configured.
func (a *app) loadSchedule() (*schedule.Config, error) {
	if a.cfg.Schedule.File == "" {
		return schedule.DefaultConfig(), nil
	}
	return schedule.Load(a.cfg.Schedule.File)
}

func (a *app) newScheduler() (*scheduleruc.Scheduler, error) {
	sched, err := a.loadSchedule()
	if err != nil {
		return nil, err
	}
	return scheduleruc.New(sched, scheduleruc.Deps{
		Analyzer: a.analyzer,
		Cleaner:  a.cleaner,
		RunLog:   a.runlog,
		Logger:   a.logger,
		Metrics: scheduleruc.Metrics{
			Runs:    metrics.SchedulerRunsTotal,
			Skipped: metrics.SchedulerSkippedTotal,
		},
	})
}

// Close releases the backend connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
