package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateBudgetGreedySkipsAndContinues(t *testing.T) {
	entries := []BudgetEntry{
		{ID: "a", Score: 0.9, Content: strings.Repeat("x", 200)},
		{ID: "b", Score: 0.7, Content: strings.Repeat("x", 120)},
		{ID: "c", Score: 0.8, Content: strings.Repeat("x", 160)},
	}

	got := AllocateBudget(entries, 80)
	assert.Equal(t, []string{"a", "b"}, budgetIDs(got))
}

func TestAllocateBudgetNonPositive(t *testing.T) {
	entries := []BudgetEntry{{ID: "a", Score: 1, Content: "abc"}}
	assert.Empty(t, AllocateBudget(entries, 0))
	assert.Empty(t, AllocateBudget(entries, -10))
}

func TestAllocateBudgetSkipsZeroCost(t *testing.T) {
	entries := []BudgetEntry{
		{ID: "empty", Score: 1, Content: ""},
		{ID: "a", Score: 0.5, Content: "abcd"},
	}
	assert.Equal(t, []string{"a"}, budgetIDs(AllocateBudget(entries, 10)))
}

func TestAllocateBudgetNeverExceeds(t *testing.T) {
	var entries []BudgetEntry
	for i := 1; i <= 40; i++ {
		entries = append(entries, BudgetEntry{
			ID:      string(rune('A' + i)),
			Score:   float64((i*37)%11) / 10,
			Content: strings.Repeat("y", (i*53)%97),
		})
	}
	for _, budget := range []int{1, 7, 50, 123, 400} {
		used := 0
		for _, e := range AllocateBudget(entries, budget) {
			used += EstimateTokens(e.Content)
		}
		assert.LessOrEqual(t, used, budget, "budget %d", budget)
	}
}

func TestAllocateBudgetStableOnTies(t *testing.T) {
	entries := []BudgetEntry{
		{ID: "first", Score: 0.5, Content: "aaaa"},
		{ID: "second", Score: 0.5, Content: "bbbb"},
	}
	assert.Equal(t, []string{"first"}, budgetIDs(AllocateBudget(entries, 1)))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("héé!"), "counts characters, not bytes")
}

func budgetIDs(entries []BudgetEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
