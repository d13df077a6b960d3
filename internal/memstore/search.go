package memstore

import (
	"context"
	"sort"
	"strings"
)

// Relevance tiers. A memory scores the highest tier it matches.
const (
	RelevanceName    = 1.0
	RelevanceTag     = 0.8
	RelevanceContent = 0.5

	MaxSearchLimit = 100
)

// Search runs a case-insensitive substring match over name, tags and
// content. Non-matching memories are dropped; the rest are ordered by
// relevance, ties kept in List order. limit is clamped to [1, 100].
func (s *Store) Search(ctx context.Context, query string, typ Type, limit int) ([]SearchResult, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	memories, err := s.List(ctx, typ)
	if err != nil {
		return nil, opErr("search", "", err)
	}

	var results []SearchResult
	for _, m := range memories {
		if r := relevance(m, q); r > 0 {
			results = append(results, SearchResult{Memory: m, Relevance: r})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})

	limit = clamp(limit, 1, MaxSearchLimit)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func relevance(m Memory, q string) float64 {
	if strings.Contains(strings.ToLower(m.Name), q) {
		return RelevanceName
	}
	for _, t := range m.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return RelevanceTag
		}
	}
	if strings.Contains(strings.ToLower(m.Content), q) {
		return RelevanceContent
	}
	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
