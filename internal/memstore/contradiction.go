package memstore

import "strings"

var negationWords = []string{"not", "never", "no", "cannot", "can't", "won't", "without"}

// Contradiction describes a likely conflict between new content and an
// existing memory.
type Contradiction struct {
	ConflictingID string `json:"conflicting_id"`
	Suggestion    string `json:"suggestion"`
}

// DetectContradiction flags the first existing memory whose negation
// polarity differs from content. It is a cheap heuristic and reports
// candidates for review, not proven conflicts.
func DetectContradiction(content string, existing []Memory) *Contradiction {
	negated := hasNegation(content)
	for _, m := range existing {
		if hasNegation(m.Content) != negated {
			return &Contradiction{
				ConflictingID: m.ID,
				Suggestion:    "Review both entries and reconcile the conflicting claim.",
			}
		}
	}
	return nil
}

func hasNegation(content string) bool {
	lower := strings.ToLower(content)
	for _, w := range negationWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
