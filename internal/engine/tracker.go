package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/lazypower/nanobrain/internal/memstore"
	"github.com/lazypower/nanobrain/internal/store"
)

// Signal is a session-level outcome that carries a fixed reward.
type Signal string

const (
	SignalTaskCompleted    Signal = "task_completed"
	SignalPositiveFeedback Signal = "positive_feedback"
	SignalToolSuccess      Signal = "tool_success"
	SignalUserCorrection   Signal = "user_correction"
	SignalSessionAbandoned Signal = "session_abandoned"
)

var signalRewards = map[Signal]float64{
	SignalTaskCompleted:    0.5,
	SignalPositiveFeedback: 0.3,
	SignalToolSuccess:      0.1,
	SignalUserCorrection:   -0.4,
	SignalSessionAbandoned: -0.2,
}

// ErrUnknownSignal is returned for outcome names outside the reward table.
var ErrUnknownSignal = fmt.Errorf("%w: unknown outcome signal", memstore.ErrInvalidInput)

// Reward returns the fixed reward for s.
func (s Signal) Reward() (float64, bool) {
	r, ok := signalRewards[s]
	return r, ok
}

// ParseSignal validates an outcome name.
func ParseSignal(s string) (Signal, error) {
	sig := Signal(strings.TrimSpace(s))
	if _, ok := sig.Reward(); !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownSignal, s)
	}
	return sig, nil
}

// Score limits for TopScored.
const (
	minTopLimit = 1
	maxTopLimit = 1000
)

// TrackerConfig tunes score updates.
type TrackerConfig struct {
	Alpha        float64 // EMA step toward the per-turn reward
	InitialScore float64 // score of a freshly created record
	DecayRate    float64 // per-day exponential decay rate for new records
}

// DefaultTrackerConfig returns the standard tuning.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{Alpha: 0.1, InitialScore: 0.5, DecayRate: 0.01}
}

// Tracker assigns, updates and decays per-memory credit scores.
type Tracker struct {
	DB     *store.DB
	Config TrackerConfig
	Now    func() time.Time
	Logger *slog.Logger
}

// NewTracker creates a Tracker over the given ledger.
func NewTracker(db *store.DB, cfg TrackerConfig) *Tracker {
	return &Tracker{
		DB:     db,
		Config: cfg,
		Now:    time.Now,
		Logger: slog.Default(),
	}
}

func (t *Tracker) nowMillis() int64 {
	return t.Now().UnixMilli()
}

// EnsureRecord returns the record for id, creating it at the initial score
// on first touch. Repeat calls leave an existing record untouched.
func (t *Tracker) EnsureRecord(ctx context.Context, id string) (*store.CreditRecord, error) {
	return t.DB.EnsureCredit(ctx, id, t.Config.InitialScore, t.Config.DecayRate, t.nowMillis())
}

// GetScore returns the current score for id, creating the record if needed.
func (t *Tracker) GetScore(ctx context.Context, id string) (float64, error) {
	rec, err := t.EnsureRecord(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.Score, nil
}

// RecordRetrieval stores a pending turn holding the retrieved ids, in first
// occurrence order with duplicates removed. Empty input is a no-op.
func (t *Tracker) RecordRetrieval(ctx context.Context, sessionID string, ids []string) error {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return nil
	}
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", memstore.ErrInvalidInput)
	}

	now := t.nowMillis()
	return t.DB.WithTx(ctx, func(l store.Ledger) error {
		for _, id := range unique {
			if _, err := l.EnsureCredit(ctx, id, t.Config.InitialScore, t.Config.DecayRate, now); err != nil {
				return err
			}
		}
		_, err := l.InsertTurn(ctx, sessionID, unique, now)
		return err
	})
}

// ScoreChange is one memory's score movement within an outcome.
type ScoreChange struct {
	ID       string  `json:"id"`
	OldScore float64 `json:"old_score"`
	NewScore float64 `json:"new_score"`
}

// OutcomeResult reports what ApplyOutcome did. Applied is false when the
// session had no pending turn.
type OutcomeResult struct {
	Applied bool          `json:"applied"`
	TurnID  int64         `json:"turn_id,omitempty"`
	Signal  Signal        `json:"signal"`
	Reward  float64       `json:"reward"`
	Delta   float64       `json:"delta"`
	Changes []ScoreChange `json:"changes,omitempty"`
}

// ApplyOutcome attributes signal to the most recent unresolved turn of the
// session. Older unresolved turns are left alone for good. Every score,
// event and the turn resolution commit together or not at all.
func (t *Tracker) ApplyOutcome(ctx context.Context, sessionID string, signal Signal) (OutcomeResult, error) {
	reward, ok := signal.Reward()
	if !ok {
		return OutcomeResult{}, fmt.Errorf("%w %q", ErrUnknownSignal, signal)
	}

	res := OutcomeResult{Signal: signal, Reward: reward}
	now := t.nowMillis()
	alpha := t.Config.Alpha

	err := t.DB.WithTx(ctx, func(l store.Ledger) error {
		turn, err := l.LatestOpenTurn(ctx, sessionID)
		if err != nil {
			return err
		}
		if turn == nil {
			return nil
		}

		n := max(1, len(turn.RetrievedMemoryIDs))
		delta := reward / math.Sqrt(float64(n))
		changes := make([]ScoreChange, 0, len(turn.RetrievedMemoryIDs))

		for _, id := range turn.RetrievedMemoryIDs {
			rec, err := l.EnsureCredit(ctx, id, t.Config.InitialScore, t.Config.DecayRate, now)
			if err != nil {
				return err
			}
			newScore := (1-alpha)*rec.Score + alpha*delta
			if err := l.RecordAccess(ctx, id, newScore, now); err != nil {
				return err
			}
			if err := l.InsertEvent(ctx, store.CreditEvent{
				MemoryID:  id,
				EventType: string(signal),
				Reward:    reward,
				OldScore:  rec.Score,
				NewScore:  newScore,
				SessionID: sessionID,
				CreatedAt: now,
			}); err != nil {
				return err
			}
			changes = append(changes, ScoreChange{ID: id, OldScore: rec.Score, NewScore: newScore})
		}

		if err := l.ResolveTurn(ctx, turn.ID, string(signal)); err != nil {
			return err
		}

		res.Applied = true
		res.TurnID = turn.ID
		res.Delta = delta
		res.Changes = changes
		return nil
	})
	if err != nil {
		return OutcomeResult{}, fmt.Errorf("apply outcome %s for %s: %w", signal, sessionID, err)
	}

	if res.Applied {
		t.Logger.Info("credit: outcome applied", "session", sessionID, "signal", signal, "memories", len(res.Changes))
	}
	return res, nil
}

// TopScored returns records by descending score; limit is clamped to
// [1, 1000].
func (t *Tracker) TopScored(ctx context.Context, limit int) ([]store.CreditRecord, error) {
	limit = min(max(limit, minTopLimit), maxTopLimit)
	return t.DB.TopCredits(ctx, limit)
}

// Below returns records scoring strictly under threshold, lowest first.
func (t *Tracker) Below(ctx context.Context, threshold float64) ([]store.CreditRecord, error) {
	return t.DB.CreditsBelow(ctx, threshold)
}

// SetScore overwrites the score for id, creating the record if needed.
func (t *Tracker) SetScore(ctx context.Context, id string, score float64) error {
	if _, err := t.EnsureRecord(ctx, id); err != nil {
		return err
	}
	return t.DB.SetScore(ctx, id, score)
}

// Forget physically deletes the record for id. Its events remain.
func (t *Tracker) Forget(ctx context.Context, id string) error {
	return t.DB.DeleteCredit(ctx, id)
}

// Events returns the audit trail for a memory.
func (t *Tracker) Events(ctx context.Context, memoryID string) ([]store.CreditEvent, error) {
	return t.DB.EventsFor(ctx, memoryID)
}

// PendingTurn returns the turn an outcome for sessionID would resolve, or
// nil if there is none.
func (t *Tracker) PendingTurn(ctx context.Context, sessionID string) (*store.TurnRecord, error) {
	return t.DB.LatestOpenTurn(ctx, sessionID)
}

// Log appends a lifecycle log entry.
func (t *Tracker) Log(ctx context.Context, action string, ids []string, details string) error {
	return t.DB.AppendLifecycle(ctx, action, ids, details, t.nowMillis())
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
