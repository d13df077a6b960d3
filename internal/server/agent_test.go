package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/nanobrain/internal/hooks"
)

// runHook drives one agent hook against a live server.
func runHook(t *testing.T, url, event, stdin string) string {
	t.Helper()
	var out bytes.Buffer
	client := hooks.NewClient(url, time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hooks.Handle(context.Background(), event, strings.NewReader(stdin), &out, client, logger)
	return out.String()
}

func TestAgentSessionCreditsSummaryMemories(t *testing.T) {
	srv := testServer(t)
	ctx := context.Background()

	if _, err := srv.engine.Store.StoreEntity(ctx, "people", "alice", "Lead engineer", nil, false); err != nil {
		t.Fatalf("StoreEntity: %v", err)
	}
	if err := srv.engine.Tracker.SetScore(ctx, "entity-people-alice", 0.6); err != nil {
		t.Fatalf("SetScore: %v", err)
	}

	ts := httptest.NewServer(srv)
	defer ts.Close()

	out := runHook(t, ts.URL, "start", `{"session_id":"agent-1","hook_event_name":"SessionStart"}`)
	if !strings.Contains(out, "### alice") {
		t.Fatalf("start output missing summary: %s", out)
	}

	// A neutral prompt keeps the turn opened at start.
	runHook(t, ts.URL, "submit", `{"session_id":"agent-1","prompt":"rename the flag"}`)
	runHook(t, ts.URL, "stop", `{"session_id":"agent-1"}`)

	turns, err := srv.engine.DB.TurnsForSession(ctx, "agent-1")
	if err != nil {
		t.Fatalf("TurnsForSession: %v", err)
	}
	if len(turns) != 1 || turns[0].Outcome != "task_completed" {
		t.Fatalf("turns = %+v, want one task_completed turn", turns)
	}

	score, err := srv.engine.Tracker.GetScore(ctx, "entity-people-alice")
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	// 0.9 * 0.6 + 0.1 * 0.5
	if want := 0.59; score < want-1e-9 || score > want+1e-9 {
		t.Errorf("score = %v, want %v", score, want)
	}

	// The next prompt opens a fresh turn; ending before a stop abandons it.
	runHook(t, ts.URL, "submit", `{"session_id":"agent-1","prompt":"now the docs"}`)
	runHook(t, ts.URL, "end", `{"session_id":"agent-1","reason":"other"}`)

	turns, err = srv.engine.DB.TurnsForSession(ctx, "agent-1")
	if err != nil {
		t.Fatalf("TurnsForSession: %v", err)
	}
	if len(turns) != 2 || turns[1].Outcome != "session_abandoned" {
		t.Fatalf("turns = %+v, want a second session_abandoned turn", turns)
	}
}
