package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/nanobrain/internal/engine"
	"github.com/lazypower/nanobrain/internal/scheduler"
)

// Config holds all nanobrain configuration.
//
// Values are layered: Default(), then the YAML file, then a .env file in
// the working directory, then NANOBRAIN_* environment variables.
type Config struct {
	Memory    MemoryConfig    `yaml:"memory"`
	Credit    CreditConfig    `yaml:"credit"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Summary   SummaryConfig   `yaml:"summary"`
	Server    ServerConfig    `yaml:"server"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Hooks     HooksConfig     `yaml:"hooks"`
	Log       LogConfig       `yaml:"log"`
}

type MemoryConfig struct {
	Dir    string `yaml:"dir" env:"NANOBRAIN_MEMORY_DIR"`
	DBPath string `yaml:"db_path" env:"NANOBRAIN_DB"` // default <dir>/engine.db
}

type CreditConfig struct {
	Alpha        float64 `yaml:"alpha" env:"NANOBRAIN_CREDIT_ALPHA"`
	InitialScore float64 `yaml:"initial_score" env:"NANOBRAIN_CREDIT_INITIAL_SCORE"`
	DecayRate    float64 `yaml:"decay_rate" env:"NANOBRAIN_CREDIT_DECAY_RATE"`
}

type LifecycleConfig struct {
	PruneThreshold    float64  `yaml:"prune_threshold" env:"NANOBRAIN_PRUNE_THRESHOLD"`
	PromoteThreshold  float64  `yaml:"promote_threshold" env:"NANOBRAIN_PROMOTE_THRESHOLD"`
	PromoteTransfer   float64  `yaml:"promote_transfer" env:"NANOBRAIN_PROMOTE_TRANSFER"`
	ProtectedPrefixes []string `yaml:"protected_prefixes" env:"NANOBRAIN_PROTECTED_PREFIXES" envSeparator:","`
}

type SummaryConfig struct {
	MaxTokens int  `yaml:"max_tokens" env:"NANOBRAIN_SUMMARY_MAX_TOKENS"`
	Watch     bool `yaml:"watch" env:"NANOBRAIN_SUMMARY_WATCH"` // re-render on file changes while serving
}

type ServerConfig struct {
	Bind string `yaml:"bind" env:"NANOBRAIN_BIND"`
	Port int    `yaml:"port" env:"NANOBRAIN_PORT"`
}

type ScheduleConfig struct {
	Enabled       bool          `yaml:"enabled" env:"NANOBRAIN_SCHEDULE_ENABLED"`
	Consolidation string        `yaml:"consolidation" env:"NANOBRAIN_SCHEDULE_CONSOLIDATION"`
	Pruning       string        `yaml:"pruning" env:"NANOBRAIN_SCHEDULE_PRUNING"`
	Decay         string        `yaml:"decay" env:"NANOBRAIN_SCHEDULE_DECAY"`
	CheckInterval time.Duration `yaml:"check_interval" env:"NANOBRAIN_SCHEDULE_CHECK_INTERVAL"`
}

type HooksConfig struct {
	URL     string        `yaml:"url" env:"NANOBRAIN_URL"` // default http://<bind>:<port>
	Timeout time.Duration `yaml:"timeout" env:"NANOBRAIN_HOOK_TIMEOUT"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"NANOBRAIN_LOG_LEVEL"` // debug, info, warn, error
}

// Default returns a Config with sensible defaults.
func Default() Config {
	sched := scheduler.DefaultConfig()
	return Config{
		Memory: MemoryConfig{
			Dir: "~/.nanobrain/memory",
		},
		Credit: CreditConfig{
			Alpha:        0.1,
			InitialScore: 0.5,
			DecayRate:    0.01,
		},
		Lifecycle: LifecycleConfig{
			PruneThreshold:    0.2,
			PromoteThreshold:  0.7,
			PromoteTransfer:   0.25,
			ProtectedPrefixes: []string{"entity-people-"},
		},
		Summary: SummaryConfig{
			MaxTokens: 5000,
			Watch:     true,
		},
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Schedule: ScheduleConfig{
			Enabled:       true,
			Consolidation: sched.Consolidation,
			Pruning:       sched.Pruning,
			Decay:         sched.Decay,
			CheckInterval: 15 * time.Minute,
		},
		Hooks: HooksConfig{
			Timeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the config file location, honoring NANOBRAIN_CONFIG.
func DefaultPath() string {
	if p := os.Getenv("NANOBRAIN_CONFIG"); p != "" {
		return p
	}
	return "~/.nanobrain/config.yaml"
}

// Load builds a Config from defaults, the YAML file at path (missing is
// fine), a .env file in the working directory and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// A missing .env is normal; real variables always win over it.
	_ = godotenv.Load()

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	cfg.Memory.Dir = ExpandHome(cfg.Memory.Dir)
	cfg.Memory.DBPath = ExpandHome(cfg.Memory.DBPath)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and cron expressions.
func (c *Config) Validate() error {
	var errs []error
	if c.Memory.Dir == "" {
		errs = append(errs, errors.New("memory.dir is required"))
	}
	if c.Credit.Alpha <= 0 || c.Credit.Alpha > 1 {
		errs = append(errs, fmt.Errorf("credit.alpha must be in (0, 1], got %g", c.Credit.Alpha))
	}
	if c.Credit.DecayRate < 0 {
		errs = append(errs, fmt.Errorf("credit.decay_rate must be >= 0, got %g", c.Credit.DecayRate))
	}
	if c.Lifecycle.PromoteTransfer < 0 {
		errs = append(errs, fmt.Errorf("lifecycle.promote_transfer must be >= 0, got %g", c.Lifecycle.PromoteTransfer))
	}
	if c.Summary.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("summary.max_tokens must be positive, got %d", c.Summary.MaxTokens))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Schedule.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("schedule.check_interval must be positive, got %s", c.Schedule.CheckInterval))
	}
	if err := c.SchedulerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// SchedulerConfig returns the cron expressions for the scheduler.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Consolidation: c.Schedule.Consolidation,
		Pruning:       c.Schedule.Pruning,
		Decay:         c.Schedule.Decay,
	}
}

// EngineOptions converts the tuning sections into engine options.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Tracker: engine.TrackerConfig{
			Alpha:        c.Credit.Alpha,
			InitialScore: c.Credit.InitialScore,
			DecayRate:    c.Credit.DecayRate,
		},
		Lifecycle: engine.LifecycleConfig{
			PruneThreshold:    c.Lifecycle.PruneThreshold,
			PromoteThreshold:  c.Lifecycle.PromoteThreshold,
			PromoteTransfer:   c.Lifecycle.PromoteTransfer,
			ProtectedPrefixes: c.Lifecycle.ProtectedPrefixes,
		},
		SummaryTokens: c.Summary.MaxTokens,
	}
}

// DBPath returns the ledger location.
func (c *Config) DBPath() string {
	if c.Memory.DBPath != "" {
		return c.Memory.DBPath
	}
	return filepath.Join(c.Memory.Dir, "engine.db")
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// ServerURL returns the base URL hooks talk to.
func (c *Config) ServerURL() string {
	if c.Hooks.URL != "" {
		return strings.TrimRight(c.Hooks.URL, "/")
	}
	return "http://" + c.ListenAddr()
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
		return filepath.Join(home, path[2:])
	}
	return home
}
