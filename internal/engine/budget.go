package engine

import (
	"sort"
	"unicode/utf8"
)

// CharsPerToken is the fixed heuristic used to estimate token cost.
const CharsPerToken = 4

// BudgetEntry is a candidate for the bounded summary.
type BudgetEntry struct {
	ID      string
	Score   float64
	Content string
}

// EstimateTokens returns ceil(characters / 4).
func EstimateTokens(content string) int {
	n := utf8.RuneCountInString(content)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// AllocateBudget picks entries in descending score order, taking each one
// whose cost still fits and skipping the rest without stopping. Zero-cost
// entries are never selected. This is greedy, not an optimal packing: a
// high-score entry that fits is always taken even if two smaller ones
// would use the budget better.
func AllocateBudget(entries []BudgetEntry, maxTokens int) []BudgetEntry {
	if maxTokens <= 0 {
		return nil
	}

	sorted := make([]BudgetEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	var selected []BudgetEntry
	used := 0
	for _, e := range sorted {
		cost := EstimateTokens(e.Content)
		if cost <= 0 || used+cost > maxTokens {
			continue
		}
		selected = append(selected, e)
		used += cost
	}
	return selected
}
