package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/lazypower/nanobrain/internal/memstore"
)

// Ranking weights: trust counts for more than a raw keyword hit.
const (
	RelevanceWeight = 0.4
	CreditWeight    = 0.6

	minCandidates  = 10
	oversample     = 4
	maxSearchLimit = 20
)

// WeightedResult is a search hit with its credit and blended score.
type WeightedResult struct {
	memstore.SearchResult
	Credit   float64 `json:"credit"`
	Combined float64 `json:"combined"`
}

// Ranker blends lexical relevance from the store with credit scores.
type Ranker struct {
	Store   MemoryStore
	Tracker *Tracker
}

// NewRanker creates a Ranker.
func NewRanker(mem MemoryStore, tracker *Tracker) *Ranker {
	return &Ranker{Store: mem, Tracker: tracker}
}

// Search oversamples lexical candidates, scores each as
// 0.4*relevance + 0.6*credit and returns the best, limit clamped to
// [1, 20]. Equal scores keep the store's order.
func (r *Ranker) Search(ctx context.Context, query string, limit int, typ memstore.Type) ([]WeightedResult, error) {
	candidates, err := r.Store.Search(ctx, query, typ, max(limit*oversample, minCandidates))
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}

	results := make([]WeightedResult, 0, len(candidates))
	for _, c := range candidates {
		credit, err := r.Tracker.GetScore(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("credit for %s: %w", c.ID, err)
		}
		results = append(results, WeightedResult{
			SearchResult: c,
			Credit:       credit,
			Combined:     RelevanceWeight*c.Relevance + CreditWeight*credit,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Combined > results[j].Combined
	})

	limit = min(max(limit, 1), maxSearchLimit)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchAndRecord runs Search and records the returned ids as the
// session's pending turn, so a later outcome credits them.
func (r *Ranker) SearchAndRecord(ctx context.Context, sessionID, query string, limit int, typ memstore.Type) ([]WeightedResult, error) {
	results, err := r.Search(ctx, query, limit, typ)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.ID
	}
	if err := r.Tracker.RecordRetrieval(ctx, sessionID, ids); err != nil {
		return nil, fmt.Errorf("record retrieval: %w", err)
	}
	return results, nil
}
