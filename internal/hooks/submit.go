package hooks

import (
	"context"
	"strings"
)

// internalSentinel prefixes prompts nanobrain itself sends through an agent.
// Those must not be scored as user feedback.
const internalSentinel = "[nanobrain-internal]"

// correctionTriggers mark a prompt that pushes back on the previous answer.
var correctionTriggers = []string{
	"that's wrong", "that is wrong", "that's not right", "that is not right",
	"incorrect", "not what i asked", "not what i meant",
	"you forgot", "you missed", "try again", "undo that", "revert that",
}

// correctionOpeners only count at the start of a prompt.
var correctionOpeners = []string{"no,", "no.", "nope", "wrong"}

// positiveTriggers mark a prompt that approves the previous answer.
var positiveTriggers = []string{
	"thank you", "thanks", "perfect", "exactly", "great job", "well done",
	"nice work", "that worked", "works now", "looks good", "lgtm",
}

// isInternalPrompt returns true if the prompt carries the internal sentinel
// as a prefix.
func isInternalPrompt(prompt string) bool {
	return strings.HasPrefix(prompt, internalSentinel)
}

// classifyPrompt maps a user prompt to an outcome signal, or "" when the
// prompt carries no feedback. Corrections win over praise.
func classifyPrompt(prompt string) string {
	lower := strings.ToLower(strings.TrimSpace(prompt))
	switch {
	case lower == "":
		return ""
	case lower == "no" || hasAnyPrefix(lower, correctionOpeners) || containsAny(lower, correctionTriggers):
		return "user_correction"
	case containsAny(lower, positiveTriggers):
		return "positive_feedback"
	}
	return ""
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func handleSubmit(ctx context.Context, client *Client, input *HookInput) error {
	if isInternalPrompt(input.Prompt) {
		return nil
	}
	if signal := classifyPrompt(input.Prompt); signal != "" {
		if err := sendOutcome(ctx, client, input.SessionID, signal); err != nil {
			return err
		}
	}
	return openTurn(ctx, client, input.SessionID)
}
