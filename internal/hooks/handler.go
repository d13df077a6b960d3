// Package hooks translates agent lifecycle events into nanobrain calls.
//
// A session's pending turn holds the memories shown in its summary. Session
// start opens the first turn and injects the summary. A user prompt that
// corrects or praises the previous answer resolves the pending turn, then
// opens a new one if none is left pending. Stop resolves it as completed
// and session end resolves whatever is still pending as abandoned.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
)

// Events are the hook names accepted by Handle.
var Events = []string{"start", "submit", "stop", "end"}

// Handle reads HookInput from stdin, dispatches on event and writes any
// hook response to stdout. Failures are logged and swallowed: a hook must
// never break the agent session.
func Handle(ctx context.Context, event string, stdin io.Reader, stdout io.Writer, client *Client, logger *slog.Logger) {
	if err := handle(ctx, event, stdin, stdout, client); err != nil {
		logger.Warn("hook: failed", "event", event, "error", err)
	}
}

func handle(ctx context.Context, event string, stdin io.Reader, stdout io.Writer, client *Client) error {
	var input HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		// Stdin may be empty or garbled; start must still answer.
		if event == "start" {
			return errors.Join(fmt.Errorf("decode stdin: %w", err), WriteSessionStartOutput(stdout, ""))
		}
		return fmt.Errorf("decode stdin: %w", err)
	}

	if !client.Healthy(ctx) {
		if event == "start" {
			return WriteSessionStartOutput(stdout, "")
		}
		return nil
	}

	switch event {
	case "start":
		return handleStart(ctx, client, &input, stdout)
	case "submit":
		return handleSubmit(ctx, client, &input)
	case "stop":
		return handleStop(ctx, client, &input)
	case "end":
		return handleEnd(ctx, client, &input)
	default:
		return fmt.Errorf("unknown hook event: %s", event)
	}
}

// sendOutcome reports signal for the session. Sessions without a pending
// retrieval are fine; the server answers applied=false.
func sendOutcome(ctx context.Context, client *Client, sessionID, signal string) error {
	if sessionID == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"signal": signal})
	if err != nil {
		return err
	}
	_, err = client.Post(ctx, sessionPath(sessionID, "outcome"), body)
	return err
}

// openTurn asks the server to record the current summary as the session's
// pending turn. The server leaves an already pending turn in place.
func openTurn(ctx context.Context, client *Client, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	_, err := client.Post(ctx, sessionPath(sessionID, "turn"), nil)
	return err
}

func sessionPath(sessionID, action string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/" + action
}
