package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/nanobrain/internal/memstore"
	"github.com/lazypower/nanobrain/internal/store"
)

func TestParseSignal(t *testing.T) {
	sig, err := ParseSignal(" task_completed ")
	require.NoError(t, err)
	assert.Equal(t, SignalTaskCompleted, sig)

	_, err = ParseSignal("great_job")
	assert.ErrorIs(t, err, ErrUnknownSignal)
	assert.ErrorIs(t, err, memstore.ErrInvalidInput)
}

func TestEnsureRecordIdempotent(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	rec, err := tr.EnsureRecord(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Score)
	assert.Equal(t, 0.01, rec.DecayRate)
	assert.Equal(t, 0, rec.AccessCount)

	require.NoError(t, tr.SetScore(ctx, "m1", 0.8))
	rec, err = tr.EnsureRecord(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, rec.Score)
}

func TestRecordRetrievalDedupes(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordRetrieval(ctx, "s1", []string{"b", "a", "b", "c", "a"}))
	turn, err := tr.PendingTurn(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, []string{"b", "a", "c"}, turn.RetrievedMemoryIDs)

	for _, id := range []string{"a", "b", "c"} {
		rec, err := tr.DB.GetCredit(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, rec, "record for %s", id)
	}
}

func TestRecordRetrievalEmptyIsNoop(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordRetrieval(ctx, "s1", nil))
	turn, err := tr.PendingTurn(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, turn)
}

func TestApplyOutcomeUserCorrection(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordRetrieval(ctx, "s1", []string{"m1"}))
	res, err := tr.ApplyOutcome(ctx, "s1", SignalUserCorrection)
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.InDelta(t, -0.4, res.Delta, 1e-12)

	score, err := tr.GetScore(ctx, "m1")
	require.NoError(t, err)
	assert.InDelta(t, 0.41, score, 1e-12)

	rec, err := tr.DB.GetCredit(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AccessCount)
	assert.Equal(t, testNow.UnixMilli(), rec.LastAccessed)

	events, err := tr.Events(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "user_correction", events[0].EventType)
	assert.Equal(t, -0.4, events[0].Reward)
	assert.Equal(t, 0.5, events[0].OldScore)
	assert.InDelta(t, 0.41, events[0].NewScore, 1e-12)
	assert.Equal(t, "s1", events[0].SessionID)
}

func TestApplyOutcomeNormalizesByBatchSize(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d"}

	require.NoError(t, tr.RecordRetrieval(ctx, "s1", ids))
	res, err := tr.ApplyOutcome(ctx, "s1", SignalTaskCompleted)
	require.NoError(t, err)
	require.Len(t, res.Changes, 4)

	// delta = 0.5 / sqrt(4) = 0.25
	want := 0.9*0.5 + 0.1*0.25
	for _, c := range res.Changes {
		assert.InDelta(t, want, c.NewScore, 1e-12, c.ID)
	}
}

func TestApplyOutcomeStepIsBounded(t *testing.T) {
	ctx := context.Background()
	for sig, reward := range signalRewards {
		for _, n := range []int{1, 2, 5, 9} {
			tr := testTracker(t)
			ids := make([]string, n)
			for i := range ids {
				ids[i] = string(rune('a' + i))
				require.NoError(t, tr.SetScore(ctx, ids[i], 0.1*float64(i)))
			}
			require.NoError(t, tr.RecordRetrieval(ctx, "s", ids))

			res, err := tr.ApplyOutcome(ctx, "s", sig)
			require.NoError(t, err)

			bound := tr.Config.Alpha * (math.Abs(reward)/math.Sqrt(float64(n)) + 1)
			for _, c := range res.Changes {
				step := math.Abs(c.NewScore - c.OldScore)
				assert.LessOrEqual(t, step, bound+1e-12, "%s n=%d id=%s", sig, n, c.ID)
				// The move is an EMA step toward delta.
				assert.InDelta(t, tr.Config.Alpha*(res.Delta-c.OldScore), c.NewScore-c.OldScore, 1e-12)
			}
		}
	}
}

func TestApplyOutcomeWithoutTurnIsNoop(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	_, err := tr.EnsureRecord(ctx, "m1")
	require.NoError(t, err)

	res, err := tr.ApplyOutcome(ctx, "nobody", SignalTaskCompleted)
	require.NoError(t, err)
	assert.False(t, res.Applied)

	rec, err := tr.DB.GetCredit(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Score)
	assert.Equal(t, 0, rec.AccessCount)

	events, err := tr.Events(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestApplyOutcomeSingleHop(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordRetrieval(ctx, "s1", []string{"old"}))
	require.NoError(t, tr.RecordRetrieval(ctx, "s1", []string{"new"}))

	res, err := tr.ApplyOutcome(ctx, "s1", SignalTaskCompleted)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "new", res.Changes[0].ID)

	// The second outcome falls to the older turn, which is still open.
	res, err = tr.ApplyOutcome(ctx, "s1", SignalToolSuccess)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "old", res.Changes[0].ID)

	res, err = tr.ApplyOutcome(ctx, "s1", SignalToolSuccess)
	require.NoError(t, err)
	assert.False(t, res.Applied)
}

func TestApplyOutcomeUnknownSignal(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.RecordRetrieval(ctx, "s1", []string{"m1"}))

	_, err := tr.ApplyOutcome(ctx, "s1", Signal("meh"))
	require.ErrorIs(t, err, ErrUnknownSignal)

	turn, err := tr.PendingTurn(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, turn, "turn must stay open")
}

func TestApplyDecay(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()
	for id, s := range map[string]float64{"a": 0.9, "b": 0.5, "c": 0.05} {
		require.NoError(t, tr.SetScore(ctx, id, s))
	}

	for _, days := range []float64{0, -3} {
		n, err := tr.ApplyDecay(ctx, days)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	score, err := tr.GetScore(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0.9, score)

	n, err := tr.ApplyDecay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	factor := math.Exp(-0.01 * 10)
	for id, before := range map[string]float64{"a": 0.9, "b": 0.5, "c": 0.05} {
		after, err := tr.GetScore(ctx, id)
		require.NoError(t, err)
		assert.InDelta(t, before*factor, after, 1e-12, id)
		assert.Less(t, after, before, id)
	}

	entries, err := tr.DB.LifecycleEntries(ctx, store.ActionDecay)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, entries[0].TargetIDs)
}

func TestTopScoredClampsLimit(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.SetScore(ctx, "lo", 0.1))
	require.NoError(t, tr.SetScore(ctx, "hi", 0.9))

	top, err := tr.TopScored(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "hi", top[0].ID)

	top, err = tr.TopScored(ctx, 5000)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}
