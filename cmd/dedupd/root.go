package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dedupd/internal/config"
	logpkg "github.com/kailas-cloud/dedupd/internal/logger"
	"github.com/kailas-cloud/dedupd/internal/version"
)

var (
	configPath string
	envName    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "dedupd",
	Short: "Duplicate prevention, detection and cleanup for crawler document stores",
	Long: `dedupd keeps a crawler's document store free of duplicates.

It decides which discovered URLs still need fetching, measures URL and content
duplication in the store, removes redundant documents under a retention strategy,
and runs analysis and cleanup unattended on a schedule.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default: config/<env>.yaml)")
	flags.StringVar(&envName, "env", "", "environment: local, dev, prod (default: $ENV or local)")
	flags.StringVar(&logLevel, "log-level", "", "override logging.level")
}

func currentEnv() string {
	if envName != "" {
		return envName
	}
	return config.GetEnv()
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load(currentEnv())
}

// setup loads the configuration, builds the logger and connects the backend.
func setup(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logpkg.NewLogger(currentEnv(), level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("Configuration loaded",
		zap.String("version", version.Version),
		zap.String("env", currentEnv()),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("gate_mode", cfg.Gate.Mode),
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	a.closers = append([]func(){func() { _ = logger.Sync() }}, a.closers...)
	return a, nil
}
