package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.HTTP.Port = 70000 },
			wantErr: "http.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "mongo" },
			wantErr: `database.driver must be redis, valkey or sqlite, got "mongo"`,
		},
		{
			name:    "missing addrs",
			mutate:  func(c *Config) { c.Database.Addrs = nil },
			wantErr: `database.addrs is required for driver "redis"`,
		},
		{
			name: "sqlite needs no addrs",
			mutate: func(c *Config) {
				c.Database.Driver = DriverSQLite
				c.Database.Addrs = nil
			},
		},
		{
			name: "cache mode on sqlite",
			mutate: func(c *Config) {
				c.Database.Driver = DriverSQLite
				c.Gate.Mode = "cache_and_store"
			},
			wantErr: "gate.mode cache_and_store needs a shared cache; driver sqlite has none",
		},
		{
			name:    "unknown gate mode",
			mutate:  func(c *Config) { c.Gate.Mode = "hybrid" },
			wantErr: `gate.mode "hybrid" is not supported`,
		},
		{
			name:    "error rate of one",
			mutate:  func(c *Config) { c.Gate.ErrorRate = 1 },
			wantErr: "gate.error_rate must be in (0, 1), got 1",
		},
		{
			name:    "saturation above one",
			mutate:  func(c *Config) { c.Gate.SaturationWarn = 1.5 },
			wantErr: "gate.saturation_warn must be in [0, 1], got 1.5",
		},
		{
			name:    "negative ttl",
			mutate:  func(c *Config) { c.Gate.SeenTTLSec = -1 },
			wantErr: "gate.seen_ttl_sec must not be negative",
		},
		{
			name: "warn above alarm",
			mutate: func(c *Config) {
				c.Analysis.Thresholds.WarnPercent = 60
				c.Analysis.Thresholds.AlarmPercent = 50
			},
			wantErr: "analysis.thresholds.warn_percent must not exceed alarm_percent",
		},
		{
			name:    "negative delete rate",
			mutate:  func(c *Config) { c.Cleanup.DeletesPerSecond = -2 },
			wantErr: "cleanup.deletes_per_second must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %q", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port: expected 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Database.Driver != DriverRedis {
		t.Errorf("Database.Driver: expected redis, got %q", cfg.Database.Driver)
	}
	if cfg.Storage.KeyPrefix != "dedupd:" {
		t.Errorf("Storage.KeyPrefix: expected dedupd:, got %q", cfg.Storage.KeyPrefix)
	}
	if cfg.Gate.Mode != "filter_and_store" {
		t.Errorf("Gate.Mode: expected filter_and_store, got %q", cfg.Gate.Mode)
	}
	if cfg.Gate.Capacity != 1_000_000 {
		t.Errorf("Gate.Capacity: expected 1000000, got %d", cfg.Gate.Capacity)
	}
	if cfg.Gate.ErrorRate != 0.1 {
		t.Errorf("Gate.ErrorRate: expected 0.1, got %v", cfg.Gate.ErrorRate)
	}
	if cfg.Gate.LookupTimeout() != 200*time.Millisecond {
		t.Errorf("Gate.LookupTimeout: expected 200ms, got %v", cfg.Gate.LookupTimeout())
	}
	if cfg.Gate.SnapshotInterval() != 30*time.Second {
		t.Errorf("Gate.SnapshotInterval: expected 30s, got %v", cfg.Gate.SnapshotInterval())
	}
	if cfg.Analysis.BatchSize != 500 {
		t.Errorf("Analysis.BatchSize: expected 500, got %d", cfg.Analysis.BatchSize)
	}
	if cfg.Analysis.Thresholds.AlarmPercent != 50 || cfg.Analysis.Thresholds.WarnPercent != 20 {
		t.Errorf("Analysis.Thresholds: unexpected %+v", cfg.Analysis.Thresholds)
	}
	if cfg.Cleanup.SimilarMinLength != 100 || cfg.Cleanup.SimilarWindow != 50 {
		t.Errorf("Cleanup: unexpected %+v", cfg.Cleanup)
	}
	if cfg.Schedule.HistoryKeep != 100 {
		t.Errorf("Schedule.HistoryKeep: expected 100, got %d", cfg.Schedule.HistoryKeep)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:    HTTPConfig{Port: 9090},
		Gate:    GateConfig{Mode: "store", Capacity: 42, ErrorRate: 0.01},
		Cleanup: CleanupConfig{SimilarWindow: 7},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 9090 {
		t.Errorf("HTTP.Port: expected 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Gate.Mode != "store" || cfg.Gate.Capacity != 42 || cfg.Gate.ErrorRate != 0.01 {
		t.Errorf("Gate overridden: %+v", cfg.Gate)
	}
	if cfg.Cleanup.SimilarWindow != 7 {
		t.Errorf("Cleanup.SimilarWindow: expected 7, got %d", cfg.Cleanup.SimilarWindow)
	}
}

func TestGateConfig_SnapshotInterval(t *testing.T) {
	tests := []struct {
		sec  int
		want time.Duration
	}{
		{sec: 5, want: 5 * time.Second},
		{sec: -1, want: 0},
	}
	for _, tt := range tests {
		cfg := Config{Gate: GateConfig{SnapshotIntervalSec: tt.sec}}
		cfg.ApplyDefaults()
		if got := cfg.Gate.SnapshotInterval(); got != tt.want {
			t.Errorf("snapshot_interval_sec %d: got %v, want %v", tt.sec, got, tt.want)
		}
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("DEDUPD_TEST_ADDR", "cache:6380")

	cfg, err := Parse([]byte(`
database:
  addrs: ["${DEDUPD_TEST_ADDR}"]
  password: "${DEDUPD_TEST_UNSET:-fallback}"
analysis:
  thresholds:
    rapid_window: 2m
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Database.Addrs; len(got) != 1 || got[0] != "cache:6380" {
		t.Errorf("Addrs: got %v", got)
	}
	if cfg.Database.Password != "fallback" {
		t.Errorf("Password: expected fallback, got %q", cfg.Database.Password)
	}
	if cfg.Analysis.Thresholds.RapidWindow != 2*time.Minute {
		t.Errorf("RapidWindow: expected 2m, got %v", cfg.Analysis.Thresholds.RapidWindow)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: mongo\n"))
	if err == nil || !strings.HasPrefix(err.Error(), "invalid config:") {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedupd.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: sqlite\ngate:\n  mode: filter\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Gate.Mode != "filter" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_LocalConfig(t *testing.T) {
	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("Load(local): %v", err)
	}
	if cfg.HTTP.Port == 0 {
		t.Error("expected a port")
	}
}
