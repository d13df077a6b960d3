// Package scheduler decides when the lifecycle passes are due. Each task
// has a cron expression; its last run is persisted in a small JSON state
// file so restarts do not re-run work that already happened.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
)

// StateFileName is the scheduler state kept in the memory directory.
const StateFileName = "scheduler-state.json"

// Task names a scheduled lifecycle job.
type Task string

const (
	TaskConsolidation Task = "consolidation"
	TaskPruning       Task = "pruning"
	TaskDecay         Task = "decay"
)

// Tasks lists every task in the order they run.
var Tasks = []Task{TaskConsolidation, TaskPruning, TaskDecay}

// Config holds one cron expression per task.
type Config struct {
	Consolidation string `yaml:"consolidation"`
	Pruning       string `yaml:"pruning"`
	Decay         string `yaml:"decay"`
}

// DefaultConfig runs consolidation and decay daily and pruning weekly.
func DefaultConfig() Config {
	return Config{
		Consolidation: "0 3 * * *",
		Pruning:       "0 4 * * 0",
		Decay:         "0 2 * * *",
	}
}

func (c Config) expr(t Task) string {
	switch t {
	case TaskConsolidation:
		return c.Consolidation
	case TaskPruning:
		return c.Pruning
	case TaskDecay:
		return c.Decay
	}
	return ""
}

// Validate checks every expression parses.
func (c Config) Validate() error {
	g := gronx.New()
	for _, t := range Tasks {
		if expr := c.expr(t); !g.IsValid(expr) {
			return fmt.Errorf("schedule %s: invalid cron expression %q", t, expr)
		}
	}
	return nil
}

// State is the last successful run of each task, in unix milliseconds.
// Zero means never.
type State struct {
	ConsolidationLastRun int64 `json:"consolidationLastRun"`
	PruningLastRun       int64 `json:"pruningLastRun"`
	DecayLastRun         int64 `json:"decayLastRun"`
}

func (s *State) lastRun(t Task) *int64 {
	switch t {
	case TaskConsolidation:
		return &s.ConsolidationLastRun
	case TaskPruning:
		return &s.PruningLastRun
	default:
		return &s.DecayLastRun
	}
}

// Callbacks are the jobs run when a task is due. RunDecay receives the
// fractional days elapsed since the previous decay run.
type Callbacks struct {
	RunConsolidation func(ctx context.Context) error
	RunPruning       func(ctx context.Context) error
	RunDecay         func(ctx context.Context, days float64) error
}

// Scheduler checks due tasks against persisted state.
type Scheduler struct {
	statePath string
	cfg       Config
	Now       func() time.Time
	Logger    *slog.Logger
}

// New returns a Scheduler persisting state at statePath.
func New(statePath string, cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		statePath: statePath,
		cfg:       cfg,
		Now:       time.Now,
		Logger:    slog.Default(),
	}, nil
}

// StatePath returns the state file location for a memory directory.
func StatePath(memoryDir string) string {
	return filepath.Join(memoryDir, StateFileName)
}

// Due reports whether task is due at now given its last run. A task that
// never ran is always due; otherwise it is due once the first cron tick
// after the last run has passed.
func (s *Scheduler) Due(task Task, lastRun int64, now time.Time) (bool, error) {
	if lastRun <= 0 {
		return true, nil
	}
	next, err := gronx.NextTickAfter(s.cfg.expr(task), time.UnixMilli(lastRun), false)
	if err != nil {
		return false, fmt.Errorf("next tick for %s: %w", task, err)
	}
	return !now.Before(next), nil
}

// CheckAndRun runs every due task in order and saves the state. A failing
// task keeps its previous last-run so it is retried on the next check; the
// other tasks still run. The returned error joins all task failures.
func (s *Scheduler) CheckAndRun(ctx context.Context, cb Callbacks) ([]Task, error) {
	state, err := s.LoadState()
	if err != nil {
		return nil, err
	}
	now := s.Now()

	var ran []Task
	var errs []error
	for _, task := range Tasks {
		last := state.lastRun(task)
		due, err := s.Due(task, *last, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !due {
			continue
		}

		if err := s.run(ctx, task, *last, now, cb); err != nil {
			s.Logger.Error("scheduler: task failed", "task", task, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", task, err))
			continue
		}
		*last = now.UnixMilli()
		ran = append(ran, task)
	}

	if len(ran) > 0 {
		if err := s.SaveState(state); err != nil {
			errs = append(errs, err)
		}
	}
	return ran, errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, task Task, lastRun int64, now time.Time, cb Callbacks) error {
	switch task {
	case TaskConsolidation:
		if cb.RunConsolidation != nil {
			return cb.RunConsolidation(ctx)
		}
	case TaskPruning:
		if cb.RunPruning != nil {
			return cb.RunPruning(ctx)
		}
	case TaskDecay:
		if cb.RunDecay != nil {
			return cb.RunDecay(ctx, elapsedDays(lastRun, now))
		}
	}
	return nil
}

// elapsedDays returns the fractional days since lastRun, or 1 for a first
// run. The last-run time moves to now after each decay, so consecutive runs
// cover the whole timeline once. A clock that went backwards yields 0.
func elapsedDays(lastRun int64, now time.Time) float64 {
	if lastRun <= 0 {
		return 1
	}
	return math.Max(0, now.Sub(time.UnixMilli(lastRun)).Hours()/24)
}

// Run checks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, cb Callbacks) {
	check := func() {
		if ran, err := s.CheckAndRun(ctx, cb); err != nil {
			s.Logger.Error("scheduler: check failed", "error", err)
		} else if len(ran) > 0 {
			s.Logger.Info("scheduler: ran tasks", "tasks", ran)
		}
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}

// LoadState reads the state file. A missing file is a fresh state.
func (s *Scheduler) LoadState() (State, error) {
	var state State
	raw, err := os.ReadFile(s.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read scheduler state: %w", err)
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		s.Logger.Warn("scheduler: ignoring corrupt state", "path", s.statePath, "error", err)
		return State{}, nil
	}
	return state, nil
}

// SaveState writes the state file.
func (s *Scheduler) SaveState(state State) error {
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}
	if err := os.WriteFile(s.statePath, raw, 0644); err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}
	return nil
}
