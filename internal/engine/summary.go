package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lazypower/nanobrain/internal/memstore"
)

// SummaryFileName is the rendered summary kept at the memory dir root.
const SummaryFileName = "MEMORY.md"

const (
	summaryCandidates = 500
	emptySummaryLine  = "No memories yet. I'll learn about you as we interact."
)

type summarySection struct {
	title string
	match func(memstore.Memory) bool
}

var summarySections = []summarySection{
	{"People", idPrefix("entity-people-")},
	{"Projects", idPrefix("entity-projects-")},
	{"Preferences", idPrefix("entity-preferences-")},
	{"Recent Episodes", func(m memstore.Memory) bool { return m.Type == memstore.TypeEpisode }},
}

func idPrefix(p string) func(memstore.Memory) bool {
	return func(m memstore.Memory) bool { return strings.HasPrefix(m.ID, p) }
}

// RenderSummary builds the bounded summary document from the top-scored
// memories that fit in maxTokens. Records whose memory is gone are
// skipped.
func RenderSummary(ctx context.Context, mem MemoryStore, tracker *Tracker, maxTokens int) (string, error) {
	doc, _, err := renderSummary(ctx, mem, tracker, maxTokens)
	return doc, err
}

// renderSummary also returns the ids of the memories in the document, in
// the order they appear.
func renderSummary(ctx context.Context, mem MemoryStore, tracker *Tracker, maxTokens int) (string, []string, error) {
	top, err := tracker.TopScored(ctx, summaryCandidates)
	if err != nil {
		return "", nil, fmt.Errorf("render summary: %w", err)
	}

	var (
		entries  []BudgetEntry
		memories = make(map[string]memstore.Memory)
		scores   = make(map[string]float64)
		order    []string
	)
	for _, rec := range top {
		m, err := mem.Retrieve(ctx, rec.ID)
		if errors.Is(err, memstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("render summary: %w", err)
		}
		memories[m.ID] = *m
		scores[m.ID] = rec.Score
		order = append(order, m.ID)
		entries = append(entries, BudgetEntry{ID: m.ID, Score: rec.Score, Content: m.Content})
	}

	included := make(map[string]bool)
	for _, e := range AllocateBudget(entries, maxTokens) {
		included[e.ID] = true
	}

	var (
		b     strings.Builder
		shown []string
	)
	b.WriteString("# MEMORY\n\n")
	if len(included) == 0 {
		b.WriteString(emptySummaryLine + "\n\n")
		return b.String(), nil, nil
	}

	for _, sec := range summarySections {
		var ids []string
		for _, id := range order {
			if included[id] && sec.match(memories[id]) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", sec.title)
		for _, id := range ids {
			shown = append(shown, id)
			m := memories[id]
			fmt.Fprintf(&b, "### %s\n", m.Name)
			fmt.Fprintf(&b, "<!-- score: %.3f -->\n", scores[id])
			b.WriteString(strings.TrimSpace(m.Content) + "\n\n")
		}
	}
	return b.String(), shown, nil
}

// WriteSummary renders the summary and writes it to dir/MEMORY.md,
// returning the path written.
func WriteSummary(ctx context.Context, dir string, mem MemoryStore, tracker *Tracker, maxTokens int) (string, error) {
	doc, err := RenderSummary(ctx, mem, tracker, maxTokens)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, SummaryFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(doc), 0644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}
