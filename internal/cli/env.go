package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/lazypower/nanobrain/internal/config"
	"github.com/lazypower/nanobrain/internal/engine"
	"github.com/lazypower/nanobrain/internal/memstore"
	"github.com/lazypower/nanobrain/internal/store"
)

// loadConfig resolves --config, then $NANOBRAIN_CONFIG, then the default.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openEngine is a helper that opens the memory directory and ledger for
// CLI commands. The returned close func releases the ledger.
func openEngine() (*engine.Engine, config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, nil, err
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	mem, err := memstore.New(cfg.Memory.Dir, memstore.WithLogger(logger))
	if err != nil {
		return nil, cfg, nil, fmt.Errorf("open memory dir: %w", err)
	}
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, cfg, nil, fmt.Errorf("open database: %w", err)
	}

	opts := cfg.EngineOptions()
	opts.Logger = logger
	eng := engine.New(cfg.Memory.Dir, db, mem, opts)
	return eng, cfg, func() { db.Close() }, nil
}
