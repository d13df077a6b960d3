// Package memstore keeps memories as markdown files with a YAML header,
// laid out under entities/ and episodes/ in a memory directory. Deleting a
// memory moves its file under archive/.
package memstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Type distinguishes long-lived entities from dated episodes.
type Type string

const (
	TypeEntity  Type = "entity"
	TypeEpisode Type = "episode"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	return t == TypeEntity || t == TypeEpisode
}

// ParseType accepts "entity", "episode" or "" (any type).
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t == "" || t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("%w: memory type %q", ErrInvalidInput, s)
}

// Memory is one stored record.
type Memory struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	Category string    `json:"category"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Content  string    `json:"content"`
	Tags     []string  `json:"tags"`
	Pinned   bool      `json:"pinned"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// Ref identifies a newly written memory.
type Ref struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Archived is returned by Delete.
type Archived struct {
	ID          string `json:"id"`
	Archived    bool   `json:"archived"`
	ArchivePath string `json:"archive_path"`
}

// SearchResult is a memory with its lexical relevance.
type SearchResult struct {
	Memory
	Relevance float64 `json:"relevance"`
}

// EntityID returns the id of the entity stored under category/name.
func EntityID(category, name string) string {
	return "entity-" + category + "-" + name
}

// EpisodeID returns the id of an episode created at t with the given slug.
func EpisodeID(t time.Time, slug string) string {
	return "episode-" + t.UTC().Format("2006-01") + "-" + slug
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName reports whether s can be used as a category, entity name or
// episode slug. Names become path segments, so separators and leading dots
// are rejected.
func ValidName(s string) bool {
	return len(s) <= 200 && namePattern.MatchString(s)
}

// NormalizeTags trims, drops empties and removes duplicates, keeping the
// first occurrence order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// UnionTags merges tag sets and returns them sorted.
func UnionTags(sets ...[]string) []string {
	seen := make(map[string]bool)
	for _, set := range sets {
		for _, t := range set {
			if t = strings.TrimSpace(t); t != "" {
				seen[t] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
