package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	"github.com/kailas-cloud/dedupd/internal/domain/gatemode"
)

// Database drivers.
const (
	DriverRedis  = "redis"
	DriverValkey = "valkey"
	DriverSQLite = "sqlite"
)

// Config holds the dedupd service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Gate     GateConfig     `yaml:"gate"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds document store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey, sqlite (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	SQLitePath       string   `yaml:"sqlite_path"` // default: XDG data dir
}

// StorageConfig holds key layout settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// GateConfig holds deduplication gate settings.
type GateConfig struct {
	Mode                string  `yaml:"mode"` // filter, store, filter_and_store, cache_and_store
	Capacity            uint64  `yaml:"capacity"`
	ErrorRate           float64 `yaml:"error_rate"`
	LookupTimeoutMS     int     `yaml:"lookup_timeout_ms"`
	RecentCapacity      int     `yaml:"recent_capacity"`
	SaturationWarn      float64 `yaml:"saturation_warn"`
	SeenTTLSec          int     `yaml:"seen_ttl_sec"` // 0 = keep forever
	SnapshotPath        string  `yaml:"snapshot_path"`
	SnapshotIntervalSec int     `yaml:"snapshot_interval_sec"` // negative = only on shutdown
	WarmOnStart         bool    `yaml:"warm_on_start"`
}

// LookupTimeout returns the per-URL network lookup bound.
func (g GateConfig) LookupTimeout() time.Duration {
	return time.Duration(g.LookupTimeoutMS) * time.Millisecond
}

// SnapshotInterval returns how often a changed filter is written to its snapshot file.
// Zero disables the periodic writes.
func (g GateConfig) SnapshotInterval() time.Duration {
	if g.SnapshotIntervalSec < 0 {
		return 0
	}
	return time.Duration(g.SnapshotIntervalSec) * time.Second
}

// SeenTTL returns the seen cache entry lifetime.
func (g GateConfig) SeenTTL() time.Duration {
	return time.Duration(g.SeenTTLSec) * time.Second
}

// AnalysisConfig holds analyzer settings and recommendation thresholds.
type AnalysisConfig struct {
	BatchSize        int                 `yaml:"batch_size"`
	MinContentLength int                 `yaml:"min_content_length"`
	Thresholds       analysis.Thresholds `yaml:"thresholds"`
}

// CleanupConfig holds cleanup engine settings.
type CleanupConfig struct {
	SimilarMinLength int     `yaml:"similar_min_length"`
	SimilarWindow    int     `yaml:"similar_window"`
	DeletesPerSecond float64 `yaml:"deletes_per_second"` // 0 = unthrottled
	DeleteBurst      int     `yaml:"delete_burst"`
}

// ScheduleConfig points at the scheduler file.
type ScheduleConfig struct {
	Enabled     bool   `yaml:"enabled"`
	File        string `yaml:"file"` // empty: built-in default schedule
	HistoryKeep int    `yaml:"history_keep"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Live cleanups answer synchronously.
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverRedis
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "dedupd:"
	}

	if c.Gate.Mode == "" {
		c.Gate.Mode = string(gatemode.FilterAndStore)
	}
	if c.Gate.Capacity == 0 {
		c.Gate.Capacity = 1_000_000
	}
	if c.Gate.ErrorRate == 0 {
		c.Gate.ErrorRate = 0.1
	}
	if c.Gate.LookupTimeoutMS <= 0 {
		c.Gate.LookupTimeoutMS = 200
	}
	if c.Gate.RecentCapacity <= 0 {
		c.Gate.RecentCapacity = 100_000
	}
	if c.Gate.SaturationWarn == 0 {
		c.Gate.SaturationWarn = 0.9
	}
	if c.Gate.SnapshotIntervalSec == 0 {
		c.Gate.SnapshotIntervalSec = 30
	}

	def := analysis.DefaultThresholds()
	if c.Analysis.BatchSize <= 0 {
		c.Analysis.BatchSize = 500
	}
	if c.Analysis.MinContentLength <= 0 {
		c.Analysis.MinContentLength = 50
	}
	if c.Analysis.Thresholds.AlarmPercent <= 0 {
		c.Analysis.Thresholds.AlarmPercent = def.AlarmPercent
	}
	if c.Analysis.Thresholds.WarnPercent <= 0 {
		c.Analysis.Thresholds.WarnPercent = def.WarnPercent
	}
	if c.Analysis.Thresholds.RapidWindow <= 0 {
		c.Analysis.Thresholds.RapidWindow = def.RapidWindow
	}
	if c.Analysis.Thresholds.TopURLs <= 0 {
		c.Analysis.Thresholds.TopURLs = def.TopURLs
	}

	if c.Cleanup.SimilarMinLength <= 0 {
		c.Cleanup.SimilarMinLength = 100
	}
	if c.Cleanup.SimilarWindow <= 0 {
		c.Cleanup.SimilarWindow = 50
	}
	if c.Schedule.HistoryKeep <= 0 {
		c.Schedule.HistoryKeep = 100
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case DriverRedis, DriverValkey:
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be redis, valkey or sqlite, got %q", c.Database.Driver)
	}

	mode := gatemode.Mode(c.Gate.Mode)
	if !mode.IsValid() {
		return fmt.Errorf("gate.mode %q is not supported", c.Gate.Mode)
	}
	if mode.UsesCache() && c.Database.Driver == DriverSQLite {
		return fmt.Errorf("gate.mode %s needs a shared cache; driver sqlite has none", mode)
	}
	if c.Gate.ErrorRate <= 0 || c.Gate.ErrorRate >= 1 {
		return fmt.Errorf("gate.error_rate must be in (0, 1), got %v", c.Gate.ErrorRate)
	}
	if c.Gate.SaturationWarn < 0 || c.Gate.SaturationWarn > 1 {
		return fmt.Errorf("gate.saturation_warn must be in [0, 1], got %v", c.Gate.SaturationWarn)
	}
	if c.Gate.SeenTTLSec < 0 {
		return fmt.Errorf("gate.seen_ttl_sec must not be negative")
	}
	if c.Analysis.Thresholds.WarnPercent > c.Analysis.Thresholds.AlarmPercent {
		return fmt.Errorf("analysis.thresholds.warn_percent must not exceed alarm_percent")
	}
	if c.Cleanup.DeletesPerSecond < 0 {
		return fmt.Errorf("cleanup.deletes_per_second must not be negative")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
