package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lazypower/nanobrain/internal/memstore"
	"github.com/lazypower/nanobrain/internal/store"
)

var testNow = time.Date(2025, 5, 20, 15, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker(testDB(t), DefaultTrackerConfig())
	tr.Now = func() time.Time { return testNow }
	return tr
}

func testMemStore(t *testing.T) *memstore.Store {
	t.Helper()
	s, err := memstore.New(t.TempDir(), memstore.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return s
}

type fixture struct {
	mem     *memstore.Store
	tracker *Tracker
	lc      *Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := testMemStore(t)
	tr := testTracker(t)
	lc := NewLifecycle(mem, tr, DefaultLifecycleConfig())
	n := 0
	lc.suffix = func() string {
		n++
		return []string{"aaaaaaaa", "bbbbbbbb", "cccccccc", "dddddddd"}[(n-1)%4]
	}
	return &fixture{mem: mem, tracker: tr, lc: lc}
}

func (f *fixture) episode(t *testing.T, slug, content string, tags []string, at time.Time) string {
	t.Helper()
	ref, err := f.mem.StoreEpisode(context.Background(), slug, content, tags, false, at)
	require.NoError(t, err)
	return ref.ID
}

func (f *fixture) entity(t *testing.T, category, name, content string, pinned bool) string {
	t.Helper()
	ref, err := f.mem.StoreEntity(context.Background(), category, name, content, nil, pinned)
	require.NoError(t, err)
	return ref.ID
}

func (f *fixture) score(t *testing.T, id string, s float64) {
	t.Helper()
	require.NoError(t, f.tracker.SetScore(context.Background(), id, s))
}

func (f *fixture) scoreOf(t *testing.T, id string) float64 {
	t.Helper()
	s, err := f.tracker.GetScore(context.Background(), id)
	require.NoError(t, err)
	return s
}
