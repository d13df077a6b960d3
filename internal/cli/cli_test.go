package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestCLIMemoryEconomyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("NANOBRAIN_CONFIG", filepath.Join(dir, "missing.yaml"))
	t.Setenv("NANOBRAIN_MEMORY_DIR", filepath.Join(dir, "memory"))
	t.Setenv("NANOBRAIN_LOG_LEVEL", "error")

	out := execute(t, "remember", "entity", "people", "alice", "Lead", "engineer")
	assert.Contains(t, out, "stored entity-people-alice (score 0.500)")

	out = execute(t, "search", "alice", "--session", "s1")
	assert.Contains(t, out, "entity-people-alice")
	assert.Contains(t, out, "session: s1")

	out = execute(t, "outcome", "s1", "task_completed")
	assert.Contains(t, out, "task_completed (reward +0.50)")
	assert.Contains(t, out, "entity-people-alice")

	out = execute(t, "outcome", "s1", "task_completed")
	assert.Contains(t, out, "no pending retrieval")

	out = execute(t, "top")
	assert.Contains(t, out, "entity-people-alice")

	out = execute(t, "credit", "entity-people-alice")
	assert.Contains(t, out, "task_completed")

	out = execute(t, "get", "entity-people-alice")
	assert.Contains(t, out, "Lead engineer")

	out = execute(t, "render", "--stdout")
	assert.Contains(t, out, "## People\n\n### alice")

	out = execute(t, "decay", "2")
	assert.Contains(t, out, "decayed 1 record(s) by 2 day(s)")

	out = execute(t, "compact")
	assert.Contains(t, out, "consolidated: 0  promoted: 0  pruned: 0")

	out = execute(t, "forget", "entity-people-alice")
	assert.Contains(t, out, "archived entity-people-alice")
}

func TestCLIVersion(t *testing.T) {
	out := execute(t, "version")
	assert.Contains(t, out, "nanobrain dev")
}
