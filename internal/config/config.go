// Package config loads the process configuration and the durable settings
// document shared between the agent process and the approver process.
//
// DESIGN: Two layers with different owners:
//   - Config (bouncer.yaml, YAML): static per-process options such as the
//     data directory, logging and barrier backend. Read once at start.
//   - Settings (settings.json, JSON): policy-wide switches (panic mode,
//     barrier mode, thresholds, price overrides). Written by one process and
//     read by others, so the cross-process flags are re-read on every check.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/compresr/apibouncer/internal/monitoring"
)

// Barrier backends.
const (
	BarrierBackendFile   = "file"
	BarrierBackendSQLite = "sqlite"
)

// Config is the process configuration.
type Config struct {
	DataDir   string                  `yaml:"data_dir"`
	Logging   monitoring.LoggerConfig `yaml:"logging"`
	Audit     monitoring.AuditConfig  `yaml:"audit"`
	Barrier   BarrierConfig           `yaml:"barrier"`
	Dashboard DashboardConfig         `yaml:"dashboard"`
	Metrics   MetricsConfig           `yaml:"metrics"`
}

// BarrierConfig controls the human-approval queue.
type BarrierConfig struct {
	Backend       string        `yaml:"backend"`        // file (default) or sqlite
	PollInterval  time.Duration `yaml:"poll_interval"`  // requester poll interval
	Timeout       time.Duration `yaml:"timeout"`        // 0 = wait forever
	PurgeSchedule string        `yaml:"purge_schedule"` // cron spec for "bouncer serve"
}

// MetricsConfig controls the Prometheus endpoint of "bouncer serve".
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a Config with every field populated.
func Default() *Config {
	return &Config{
		Logging: monitoring.LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Audit: monitoring.AuditConfig{
			Enabled: true,
			Path:    AuditFileName,
		},
		Barrier: BarrierConfig{
			Backend:       BarrierBackendFile,
			PollInterval:  DefaultBarrierPollInterval,
			Timeout:       DefaultBarrierTimeout,
			PurgeSchedule: DefaultBarrierPurgeSchedule,
		},
		Dashboard: DashboardConfig{
			Addr:           DefaultDashboardAddr,
			RefreshSeconds: DefaultDashboardRefresh,
			Currency:       "$",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// DataDir resolves the data directory: $APIBOUNCER_HOME, then
// <user config dir>/apibouncer, then ./.apibouncer.
func DataDir() string {
	if override := strings.TrimSpace(os.Getenv("APIBOUNCER_HOME")); override != "" {
		return expandPath(override)
	}
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return filepath.Join(".", "."+AppDirName)
	}
	return filepath.Join(base, AppDirName)
}

// Load reads bouncer.yaml from path (or from the data dir when path is empty).
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(DataDir(), ConfigFileName)
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML config content on top of the defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	normalize(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Barrier.Backend {
	case BarrierBackendFile, BarrierBackendSQLite:
	default:
		return fmt.Errorf("barrier.backend must be %q or %q, got %q", BarrierBackendFile, BarrierBackendSQLite, c.Barrier.Backend)
	}
	if c.Barrier.PollInterval <= 0 {
		return fmt.Errorf("barrier.poll_interval must be > 0, got %s", c.Barrier.PollInterval)
	}
	if c.Barrier.Timeout < 0 {
		return fmt.Errorf("barrier.timeout must be >= 0, got %s", c.Barrier.Timeout)
	}
	return c.Dashboard.Validate()
}

// Path returns the location of a document inside the data directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.DataDir, name)
}

// EnsureDataDir creates the data directory with owner-only permissions.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir %s: %w", c.DataDir, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv("APIBOUNCER_HOME")); raw != "" {
		cfg.DataDir = raw
	}
	if raw := strings.TrimSpace(os.Getenv("APIBOUNCER_LOG_LEVEL")); raw != "" {
		cfg.Logging.Level = raw
	}
	if raw := strings.TrimSpace(os.Getenv("APIBOUNCER_BARRIER_BACKEND")); raw != "" {
		cfg.Barrier.Backend = raw
	}
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DataDir()
	}
	cfg.DataDir = expandPath(cfg.DataDir)
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = AuditFileName
	}
	cfg.Audit.Path = expandPath(cfg.Audit.Path)
	if !filepath.IsAbs(cfg.Audit.Path) {
		cfg.Audit.Path = filepath.Join(cfg.DataDir, cfg.Audit.Path)
	}
	cfg.Barrier.Backend = strings.ToLower(strings.TrimSpace(cfg.Barrier.Backend))
	if cfg.Barrier.Backend == "" {
		cfg.Barrier.Backend = BarrierBackendFile
	}
	if cfg.Barrier.PurgeSchedule == "" {
		cfg.Barrier.PurgeSchedule = DefaultBarrierPurgeSchedule
	}
	if cfg.Dashboard.Addr == "" {
		cfg.Dashboard.Addr = DefaultDashboardAddr
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// expandPath expands ${VAR} references and a leading "~/".
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
