package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/nanobrain/internal/scheduler"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	mem := testMemStore(t)
	e := New(mem.Dir(), testDB(t), mem, DefaultOptions())
	e.Tracker.Now = func() time.Time { return testNow }
	return e
}

func TestEngineCompactRefreshesSummary(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	ref, err := e.Store.StoreEntity(ctx, "people", "alice", "Lead", nil, false)
	require.NoError(t, err)
	require.NoError(t, e.Tracker.SetScore(ctx, ref.ID, 0.9))

	_, err = e.Compact(ctx)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(e.Dir, SummaryFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "### alice")
}

func TestEngineDecay(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Tracker.SetScore(ctx, "m", 0.5))

	n, err := e.Decay(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.Decay(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngineCallbacksRunPasses(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	ref, err := e.Store.StoreEntity(ctx, "projects", "stale", "x", nil, false)
	require.NoError(t, err)
	require.NoError(t, e.Tracker.SetScore(ctx, ref.ID, 0.05))

	cb := e.Callbacks()
	require.NoError(t, cb.RunConsolidation(ctx))
	require.NoError(t, cb.RunDecay(ctx, 2))
	require.NoError(t, cb.RunPruning(ctx))

	_, err = e.Store.Retrieve(ctx, ref.ID)
	assert.Error(t, err, "pruned by the pruning job")
}

func TestEngineSchedulerLifecycle(t *testing.T) {
	e := testEngine(t)
	s, err := scheduler.New(scheduler.StatePath(e.Dir), scheduler.DefaultConfig())
	require.NoError(t, err)

	require.Error(t, e.StartScheduler(s, 0))
	require.NoError(t, e.StartScheduler(s, time.Hour))

	require.Eventually(t, func() bool {
		st, err := s.LoadState()
		return err == nil && st.PruningLastRun != 0
	}, 2*time.Second, 10*time.Millisecond)

	e.Stop()
	e.Stop()
}

func TestSessionContextOpensOneTurn(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	doc, ids, err := e.SessionContext(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, doc, "No memories yet")
	assert.Empty(t, ids, "nothing shown, nothing recorded")

	alice, err := e.Store.StoreEntity(ctx, "people", "alice", "Lead", nil, false)
	require.NoError(t, err)
	note, err := e.Store.StoreEntity(ctx, "misc", "note", "Not sectioned", nil, false)
	require.NoError(t, err)
	require.NoError(t, e.Tracker.SetScore(ctx, alice.ID, 0.8))
	require.NoError(t, e.Tracker.SetScore(ctx, note.ID, 0.9))

	_, ids, err = e.SessionContext(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{alice.ID}, ids, "only memories in the document")

	pending, err := e.Tracker.PendingTurn(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, []string{alice.ID}, pending.RetrievedMemoryIDs)

	_, ids, err = e.SessionContext(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	turns, err := e.DB.TurnsForSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	_, ids, err = e.SessionContext(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
