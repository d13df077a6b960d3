package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lazypower/nanobrain/internal/scheduler"
	"github.com/lazypower/nanobrain/internal/store"
)

// Engine ties the tracker, lifecycle passes, ranker and summary renderer to
// one memory directory.
type Engine struct {
	Dir       string
	DB        *store.DB
	Store     MemoryStore
	Tracker   *Tracker
	Lifecycle *Lifecycle
	Ranker    *Ranker
	Logger    *slog.Logger

	// SummaryTokens bounds the rendered MEMORY.md.
	SummaryTokens int

	// passMu serializes lifecycle passes, decay and summary writes.
	passMu sync.Mutex

	// turnMu makes the pending check and the new turn in SessionContext
	// one step.
	turnMu sync.Mutex

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Options configures New.
type Options struct {
	Tracker       TrackerConfig
	Lifecycle     LifecycleConfig
	SummaryTokens int
	Logger        *slog.Logger
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Tracker:       DefaultTrackerConfig(),
		Lifecycle:     DefaultLifecycleConfig(),
		SummaryTokens: 5000,
	}
}

// New creates an Engine over a ledger and memory store rooted at dir.
func New(dir string, db *store.DB, mem MemoryStore, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracker := NewTracker(db, opts.Tracker)
	tracker.Logger = logger
	lc := NewLifecycle(mem, tracker, opts.Lifecycle)
	lc.Logger = logger

	return &Engine{
		Dir:           dir,
		DB:            db,
		Store:         mem,
		Tracker:       tracker,
		Lifecycle:     lc,
		Ranker:        NewRanker(mem, tracker),
		Logger:        logger,
		SummaryTokens: opts.SummaryTokens,
	}
}

// Compact runs consolidate, promote and prune and refreshes the summary.
func (e *Engine) Compact(ctx context.Context) (Report, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	report, err := e.Lifecycle.Compact(ctx)
	e.refreshSummary(ctx)
	return report, err
}

// Consolidate runs only the consolidate pass.
func (e *Engine) Consolidate(ctx context.Context) (Report, error) {
	return e.pass(ctx, e.Lifecycle.Consolidate)
}

// Promote runs only the promote pass.
func (e *Engine) Promote(ctx context.Context) (Report, error) {
	return e.pass(ctx, e.Lifecycle.Promote)
}

// Prune runs only the prune pass.
func (e *Engine) Prune(ctx context.Context) (Report, error) {
	return e.pass(ctx, e.Lifecycle.Prune)
}

func (e *Engine) pass(ctx context.Context, fn func(context.Context) (Report, error)) (Report, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	report, err := fn(ctx)
	e.refreshSummary(ctx)
	return report, err
}

// Decay applies days of credit decay.
func (e *Engine) Decay(ctx context.Context, days float64) (int, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	n, err := e.Tracker.ApplyDecay(ctx, days)
	if err == nil && n > 0 {
		e.refreshSummary(ctx)
	}
	return n, err
}

// WriteSummary renders MEMORY.md into the memory directory. It waits for
// any running lifecycle pass so the file never reflects a half-applied pass.
func (e *Engine) WriteSummary(ctx context.Context) (string, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	return e.writeSummary(ctx)
}

func (e *Engine) writeSummary(ctx context.Context) (string, error) {
	return WriteSummary(ctx, e.Dir, e.Store, e.Tracker, e.SummaryTokens)
}

// Summary renders the summary without writing it.
func (e *Engine) Summary(ctx context.Context) (string, error) {
	return RenderSummary(ctx, e.Store, e.Tracker, e.SummaryTokens)
}

// SessionContext renders the summary for a session. When sessionID is set
// and the session has no pending turn, the memories shown are recorded as
// its pending turn so later outcomes credit them. It returns the document
// and the ids of the turn it opened, if any.
func (e *Engine) SessionContext(ctx context.Context, sessionID string) (string, []string, error) {
	doc, ids, err := renderSummary(ctx, e.Store, e.Tracker, e.SummaryTokens)
	if err != nil || sessionID == "" || len(ids) == 0 {
		return doc, nil, err
	}

	e.turnMu.Lock()
	defer e.turnMu.Unlock()
	pending, err := e.Tracker.PendingTurn(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	if pending != nil {
		return doc, nil, nil
	}
	if err := e.Tracker.RecordRetrieval(ctx, sessionID, ids); err != nil {
		return "", nil, err
	}
	e.Logger.Debug("context: turn opened", "session", sessionID, "memories", len(ids))
	return doc, ids, nil
}

func (e *Engine) refreshSummary(ctx context.Context) {
	if e.Dir == "" {
		return
	}
	if _, err := e.writeSummary(ctx); err != nil {
		e.Logger.Warn("summary: refresh failed", "error", err)
	}
}

// Callbacks returns the scheduler jobs backed by this engine. The
// consolidation job runs consolidate then promote.
func (e *Engine) Callbacks() scheduler.Callbacks {
	return scheduler.Callbacks{
		RunConsolidation: func(ctx context.Context) error {
			e.passMu.Lock()
			defer e.passMu.Unlock()
			if _, err := e.Lifecycle.Consolidate(ctx); err != nil {
				return err
			}
			_, err := e.Lifecycle.Promote(ctx)
			e.refreshSummary(ctx)
			return err
		},
		RunPruning: func(ctx context.Context) error {
			_, err := e.Prune(ctx)
			return err
		},
		RunDecay: func(ctx context.Context, days float64) error {
			_, err := e.Decay(ctx, days)
			return err
		},
	}
}

// StartScheduler checks the schedule now and then every interval in the
// background until Stop.
func (e *Engine) StartScheduler(s *scheduler.Scheduler, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		s.Run(ctx, interval, e.Callbacks())
	}()
	return nil
}

// Stop shuts down background goroutines and waits for them to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
	})
	e.wg.Wait()
}
