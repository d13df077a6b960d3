package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/nanobrain/internal/memstore"
	"github.com/lazypower/nanobrain/internal/store"
)

// LifecycleConfig holds the thresholds for the lifecycle passes.
type LifecycleConfig struct {
	PruneThreshold    float64  // records strictly below are archived
	PromoteThreshold  float64  // episodes strictly above are promoted
	PromoteTransfer   float64  // fraction of episode score added to the entity
	ProtectedPrefixes []string // ids never pruned
}

// DefaultLifecycleConfig returns the standard thresholds.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		PruneThreshold:    0.2,
		PromoteThreshold:  0.7,
		PromoteTransfer:   0.25,
		ProtectedPrefixes: []string{"entity-people-"},
	}
}

// Report summarizes one or more lifecycle passes.
type Report struct {
	Consolidated int      `json:"consolidated"`
	Promoted     int      `json:"promoted"`
	Pruned       int      `json:"pruned"`
	Details      []string `json:"details"`
}

func (r *Report) merge(o Report) {
	r.Consolidated += o.Consolidated
	r.Promoted += o.Promoted
	r.Pruned += o.Pruned
	r.Details = append(r.Details, o.Details...)
}

func (r *Report) note(format string, args ...any) {
	r.Details = append(r.Details, fmt.Sprintf(format, args...))
}

// Lifecycle runs the consolidate, promote and prune passes. Passes are not
// safe to run concurrently against the same memory directory; callers
// serialize them.
type Lifecycle struct {
	Store   MemoryStore
	Tracker *Tracker
	Config  LifecycleConfig
	Logger  *slog.Logger

	suffix func() string
}

// NewLifecycle wires a Lifecycle to a memory store and tracker.
func NewLifecycle(mem MemoryStore, tracker *Tracker, cfg LifecycleConfig) *Lifecycle {
	return &Lifecycle{
		Store:   mem,
		Tracker: tracker,
		Config:  cfg,
		Logger:  slog.Default(),
		suffix:  func() string { return uuid.NewString()[:8] },
	}
}

// Compact runs consolidate, promote and prune in that order and merges
// their reports. A pass that fails outright stops the sequence.
func (lc *Lifecycle) Compact(ctx context.Context) (Report, error) {
	var report Report

	merged, err := lc.Consolidate(ctx)
	report.merge(merged)
	if err != nil {
		return report, err
	}

	promoted, err := lc.Promote(ctx)
	report.merge(promoted)
	if err != nil {
		return report, err
	}

	pruned, err := lc.Prune(ctx)
	report.merge(pruned)
	if err != nil {
		return report, err
	}

	lc.Logger.Info("compact: done",
		"consolidated", report.Consolidated,
		"promoted", report.Promoted,
		"pruned", report.Pruned)
	return report, nil
}

// Consolidate merges same-day episodes that share tags.
//
// Pinned episodes cannot be archived, so they never join a merge. Episodes
// are grouped by UTC creation day. Within a day, each unvisited
// episode opens a cluster and the later unvisited episodes are scanned
// once, joining when they share a tag with the cluster so far. Episodes
// skipped earlier in the scan are not revisited when the cluster's tags
// grow, so chains of indirectly related episodes can stay split.
func (lc *Lifecycle) Consolidate(ctx context.Context) (Report, error) {
	var report Report

	episodes, err := lc.Store.List(ctx, memstore.TypeEpisode)
	if err != nil {
		return report, fmt.Errorf("consolidate: list episodes: %w", err)
	}

	var days []string
	byDay := make(map[string][]memstore.Memory)
	for _, ep := range episodes {
		if ep.Pinned {
			continue
		}
		day := ep.Created.UTC().Format(time.DateOnly)
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], ep)
	}

	for _, day := range days {
		group := byDay[day]
		if len(group) < 2 {
			continue
		}

		visited := make([]bool, len(group))
		for i := range group {
			if visited[i] {
				continue
			}
			visited[i] = true

			cluster := []memstore.Memory{group[i]}
			tags := tagSet(group[i].Tags)
			for j := i + 1; j < len(group); j++ {
				if visited[j] || !overlaps(tags, group[j].Tags) {
					continue
				}
				visited[j] = true
				cluster = append(cluster, group[j])
				for _, t := range group[j].Tags {
					tags[t] = true
				}
			}

			if len(cluster) < 2 {
				continue
			}
			if err := lc.mergeCluster(ctx, day, cluster, &report); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

// mergeCluster writes the merged episode, archives the members and moves
// the credit of the archived ones to it. Only ledger failures abort; store
// failures are noted.
func (lc *Lifecycle) mergeCluster(ctx context.Context, day string, cluster []memstore.Memory, report *Report) error {
	dayStart, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return fmt.Errorf("consolidate: parse day %s: %w", day, err)
	}

	parts := make([]string, len(cluster))
	tagSets := make([][]string, len(cluster))
	pinned := false
	for i, m := range cluster {
		parts[i] = fmt.Sprintf("## %s\n\n%s", m.Name, strings.TrimSpace(m.Content))
		tagSets[i] = m.Tags
		pinned = pinned || m.Pinned
	}

	slug := fmt.Sprintf("merged-%s-%s", day, lc.suffix())
	ref, err := lc.Store.StoreEpisode(ctx, slug, strings.Join(parts, "\n\n"),
		memstore.UnionTags(tagSets...), pinned, dayStart.Add(12*time.Hour))
	if err != nil {
		report.note("Failed to merge %d episodes from %s: %v", len(cluster), day, err)
		return nil
	}

	var total float64
	targets := []string{ref.ID}
	for _, m := range cluster {
		score, err := lc.Tracker.GetScore(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("consolidate: score %s: %w", m.ID, err)
		}
		if _, err := lc.Store.Delete(ctx, m.ID); err != nil {
			report.note("Kept %s after merge into %s: %v", m.ID, ref.ID, err)
			continue
		}
		if err := lc.Tracker.Forget(ctx, m.ID); err != nil {
			return fmt.Errorf("consolidate: forget %s: %w", m.ID, err)
		}
		total += score
		targets = append(targets, m.ID)
	}

	merged := min(1, total)
	if err := lc.Tracker.SetScore(ctx, ref.ID, merged); err != nil {
		return fmt.Errorf("consolidate: score %s: %w", ref.ID, err)
	}

	details := fmt.Sprintf("Merged %d episodes from %s into %s", len(targets)-1, day, ref.ID)
	if err := lc.Tracker.Log(ctx, store.ActionConsolidate, targets, details); err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}

	report.Consolidated++
	report.note("%s (score: %.3f)", details, merged)
	lc.Logger.Info("consolidate: merged", "id", ref.ID, "members", len(targets)-1)
	return nil
}

// Promote copies bullet facts out of high-credit episodes into a
// per-episode project entity. Each episode is promoted at most once.
func (lc *Lifecycle) Promote(ctx context.Context) (Report, error) {
	var report Report

	episodes, err := lc.Store.List(ctx, memstore.TypeEpisode)
	if err != nil {
		return report, fmt.Errorf("promote: list episodes: %w", err)
	}
	done, err := lc.Tracker.DB.PromotedSources(ctx)
	if err != nil {
		return report, fmt.Errorf("promote: %w", err)
	}

	for _, ep := range episodes {
		if done[ep.ID] {
			continue
		}
		facts := bulletLines(ep.Content)
		if len(facts) == 0 {
			continue
		}
		score, err := lc.Tracker.GetScore(ctx, ep.ID)
		if err != nil {
			return report, fmt.Errorf("promote: score %s: %w", ep.ID, err)
		}
		if score <= lc.Config.PromoteThreshold {
			continue
		}

		entityID, err := lc.promoteFacts(ctx, ep, facts)
		if err != nil {
			report.note("Failed to promote %s: %v", ep.ID, err)
			continue
		}

		existing, err := lc.Tracker.GetScore(ctx, entityID)
		if err != nil {
			return report, fmt.Errorf("promote: score %s: %w", entityID, err)
		}
		entityScore := min(1, existing+lc.Config.PromoteTransfer*score)
		if err := lc.Tracker.SetScore(ctx, entityID, entityScore); err != nil {
			return report, fmt.Errorf("promote: score %s: %w", entityID, err)
		}

		details := fmt.Sprintf("Promoted %d fact(s) from %s into %s", len(facts), ep.ID, entityID)
		if err := lc.Tracker.Log(ctx, store.ActionPromote, []string{ep.ID, entityID}, details); err != nil {
			return report, fmt.Errorf("promote: %w", err)
		}

		report.Promoted++
		report.note("%s (score: %.3f)", details, entityScore)
		lc.Logger.Info("promote: promoted", "episode", ep.ID, "entity", entityID)
	}

	return report, nil
}

// PromotedEntityID returns the entity an episode's facts are promoted into.
func PromotedEntityID(episodeName string) string {
	return memstore.EntityID(promotedCategory, promotedPrefix+episodeName)
}

const (
	promotedCategory = "projects"
	promotedPrefix   = "promoted-"
	promotedTag      = "promoted"
)

// promoteFacts creates the target entity from facts, or appends the facts
// it does not already hold verbatim.
func (lc *Lifecycle) promoteFacts(ctx context.Context, ep memstore.Memory, facts []string) (string, error) {
	name := promotedPrefix + ep.Name
	entityID := PromotedEntityID(ep.Name)

	entity, err := lc.Store.Retrieve(ctx, entityID)
	switch {
	case errors.Is(err, memstore.ErrNotFound):
		tags := memstore.UnionTags(ep.Tags, []string{promotedTag})
		if _, err := lc.Store.StoreEntity(ctx, promotedCategory, name, strings.Join(facts, "\n"), tags, false); err != nil {
			return "", err
		}
		return entityID, nil
	case err != nil:
		return "", err
	}

	have := make(map[string]bool)
	for _, line := range strings.Split(entity.Content, "\n") {
		have[strings.TrimSpace(line)] = true
	}
	var missing []string
	for _, f := range facts {
		if !have[f] {
			missing = append(missing, f)
			have[f] = true
		}
	}
	if len(missing) > 0 {
		content := strings.TrimSpace(entity.Content) + "\n" + strings.Join(missing, "\n")
		if _, err := lc.Store.Update(ctx, entityID, content); err != nil {
			return "", err
		}
	}
	return entityID, nil
}

// Prune archives records scoring below the prune threshold, lowest first.
// Protected ids are never touched. Store failures (pinned, missing) are
// skipped; the pass is best-effort.
func (lc *Lifecycle) Prune(ctx context.Context) (Report, error) {
	var report Report

	low, err := lc.Tracker.Below(ctx, lc.Config.PruneThreshold)
	if err != nil {
		return report, fmt.Errorf("prune: %w", err)
	}

	var archived []string
	for _, rec := range low {
		if lc.protected(rec.ID) {
			continue
		}
		if _, err := lc.Store.Delete(ctx, rec.ID); err != nil {
			lc.Logger.Debug("prune: skipped", "id", rec.ID, "error", err)
			continue
		}
		archived = append(archived, rec.ID)
		report.Pruned++
		report.note("Archived %s (score: %.3f)", rec.ID, rec.Score)
	}

	if len(archived) > 0 {
		details := fmt.Sprintf("Archived %d record(s) below %.3f", len(archived), lc.Config.PruneThreshold)
		if err := lc.Tracker.Log(ctx, store.ActionPrune, archived, details); err != nil {
			return report, fmt.Errorf("prune: %w", err)
		}
		lc.Logger.Info("prune: archived", "count", len(archived))
	}
	return report, nil
}

func (lc *Lifecycle) protected(id string) bool {
	for _, p := range lc.Config.ProtectedPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// bulletLines returns the lines of content that start with "- ", trimmed
// of trailing space, in order.
func bulletLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.HasPrefix(line, "- ") {
			out = append(out, line)
		}
	}
	return out
}

func tagSet(tags []string) map[string]bool {
	s := make(map[string]bool, len(tags))
	for _, t := range tags {
		s[t] = true
	}
	return s
}

func overlaps(set map[string]bool, tags []string) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}
