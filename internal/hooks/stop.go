package hooks

import "context"

func handleStop(ctx context.Context, client *Client, input *HookInput) error {
	// A stop hook re-entering the agent would credit the same task twice.
	if input.StopHookActive {
		return nil
	}
	return sendOutcome(ctx, client, input.SessionID, "task_completed")
}
