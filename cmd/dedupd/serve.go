package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	chiTransport "github.com/kailas-cloud/dedupd/internal/transport/chi"
	scheduleruc "github.com/kailas-cloud/dedupd/internal/usecase/scheduler"
	"github.com/kailas-cloud/dedupd/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management API and the cleanup scheduler",
	Long: `Starts the HTTP API (gate, analysis, cleanup, schedule) and, when schedule.enabled
is set, the cleanup scheduler. The membership filter snapshot is rewritten every
gate.snapshot_interval_sec while it has changes. SIGHUP reloads the schedule file;
SIGINT or SIGTERM stop both and save the snapshot one last time.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	logger.Info("Starting dedupd",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.Int("http_port", a.cfg.HTTP.Port),
		zap.String("db_driver", a.cfg.Database.Driver),
		zap.String("gate_mode", a.cfg.Gate.Mode),
	)

	gate, err := a.newGate(ctx)
	if err != nil {
		return fmt.Errorf("build gate: %w", err)
	}

	// Pass a nil interface, not a typed nil pointer, when the scheduler is off.
	var sched *scheduleruc.Scheduler
	var schedAPI chiTransport.Scheduler
	if a.cfg.Schedule.Enabled {
		if sched, err = a.newScheduler(); err != nil {
			return fmt.Errorf("build scheduler: %w", err)
		}
		schedAPI = sched
	}

	server := chiTransport.NewServer(chiTransport.Deps{
		Analyzer:  a.analyzer,
		Cleaner:   a.cleaner,
		Gate:      gate,
		Scheduler: schedAPI,
		Health:    a.health,
		Snapshots: a.snapshots,
		Documents: a.docs,
		APIKeys:   a.cfg.Auth.APIKeys,
		Logger:    logger,
	})

	addr := fmt.Sprintf(":%d", a.cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadTimeout:       time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(
			context.WithoutCancel(egCtx), time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	eg.Go(func() error { return gate.RunSnapshots(egCtx, a.snapshots, a.cfg.Gate.SnapshotInterval()) })
	if sched != nil {
		eg.Go(func() error { return sched.Run(egCtx) })
		eg.Go(func() error { return reloadOnHangup(egCtx, a, sched) })
	}

	runErr := eg.Wait()

	if err := gate.SaveSnapshot(context.WithoutCancel(ctx), a.snapshots); err != nil {
		logger.Error("Failed to save filter snapshot", zap.Error(err))
	} else if gate.Mode().UsesFilter() {
		logger.Info("Filter snapshot saved", zap.String("path", a.snapshots.Path()))
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("dedupd stopped gracefully")
	return nil
}

// reloadOnHangup re-reads the schedule file on SIGHUP. A broken file keeps the current schedule.
func reloadOnHangup(ctx context.Context, a *app, sched *scheduleruc.Scheduler) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			cfg, err := a.loadSchedule()
			if err == nil {
				err = sched.Reload(cfg)
			}
			if err != nil {
				a.logger.Error("Schedule reload rejected", zap.Error(err))
			}
		}
	}
}
