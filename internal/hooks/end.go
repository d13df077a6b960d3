package hooks

import "context"

// handleEnd marks whatever retrieval is still pending as abandoned. A turn
// already resolved by stop is untouched.
func handleEnd(ctx context.Context, client *Client, input *HookInput) error {
	return sendOutcome(ctx, client, input.SessionID, "session_abandoned")
}
