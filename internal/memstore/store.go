package memstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	entitiesDir = "entities"
	episodesDir = "episodes"
	archiveDir  = "archive"

	defaultIndexSize = 4096
)

// Files at the root of the memory directory that are not memories.
var reservedFiles = map[string]bool{
	"MEMORY.md":   true,
	"STRATEGY.md": true,
}

// Store is a file-backed memory store rooted at a directory.
//
// Writes are single-file write-then-rename; there is no locking across
// processes, so two writers racing on the same id can clobber each other.
type Store struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
	index  *lru.Cache[string, string] // id -> path relative to dir
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for skipped files.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithIndexSize bounds the id to path cache.
func WithIndexSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.index, _ = lru.New[string, string](n)
		}
	}
}

// New returns a Store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, opErr("open", "", fmt.Errorf("%w: empty memory dir", ErrInvalidInput))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, opErr("open", "", err)
	}
	index, err := lru.New[string, string](defaultIndexSize)
	if err != nil {
		return nil, opErr("open", "", err)
	}

	s := &Store{
		dir:    dir,
		now:    time.Now,
		logger: slog.Default(),
		index:  index,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the memory directory.
func (s *Store) Dir() string { return s.dir }

// StoreEntity creates entities/<category>/<name>.md. It fails with
// ErrConflict if the entity already exists.
func (s *Store) StoreEntity(ctx context.Context, category, name, content string, tags []string, pinned bool) (Ref, error) {
	id := EntityID(category, name)
	if !ValidName(category) || !ValidName(name) {
		return Ref{}, opErr("store entity", id, fmt.Errorf("%w: category and name must match %s", ErrInvalidInput, namePattern))
	}

	now := s.now().UTC()
	rel := filepath.Join(entitiesDir, category, name+".md")
	fm := frontmatter{
		ID:       id,
		Type:     TypeEntity,
		Category: category,
		Tags:     NormalizeTags(tags),
		Created:  now,
		Updated:  now,
		Pinned:   pinned,
	}
	if err := s.writeNew(ctx, rel, fm, content); err != nil {
		return Ref{}, opErr("store entity", id, err)
	}
	return Ref{ID: id, Path: rel}, nil
}

// StoreEpisode creates episodes/<YYYY-MM>/<slug>.md. The month comes from
// asOf, which also becomes the created stamp; a zero asOf means now.
func (s *Store) StoreEpisode(ctx context.Context, slug, content string, tags []string, pinned bool, asOf time.Time) (Ref, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()
	id := EpisodeID(asOf, slug)
	if !ValidName(slug) {
		return Ref{}, opErr("store episode", id, fmt.Errorf("%w: slug must match %s", ErrInvalidInput, namePattern))
	}

	month := asOf.Format("2006-01")
	rel := filepath.Join(episodesDir, month, slug+".md")
	fm := frontmatter{
		ID:       id,
		Type:     TypeEpisode,
		Category: month,
		Tags:     NormalizeTags(tags),
		Created:  asOf,
		Updated:  asOf,
		Pinned:   pinned,
	}
	if err := s.writeNew(ctx, rel, fm, content); err != nil {
		return Ref{}, opErr("store episode", id, err)
	}
	return Ref{ID: id, Path: rel}, nil
}

// Retrieve loads a live memory by id.
func (s *Store) Retrieve(ctx context.Context, id string) (*Memory, error) {
	rel, err := s.locate(ctx, id)
	if err != nil {
		return nil, opErr("retrieve", id, err)
	}
	m, err := s.load(rel)
	if err != nil {
		return nil, opErr("retrieve", id, err)
	}
	return m, nil
}

// Update replaces a memory's content and refreshes its updated stamp. All
// other metadata is preserved.
func (s *Store) Update(ctx context.Context, id, content string) (*Memory, error) {
	rel, err := s.locate(ctx, id)
	if err != nil {
		return nil, opErr("update", id, err)
	}
	fm, _, err := s.read(rel)
	if err != nil {
		return nil, opErr("update", id, err)
	}
	fm.Updated = s.now().UTC()
	if err := s.write(rel, fm, content); err != nil {
		return nil, opErr("update", id, err)
	}
	m, err := s.load(rel)
	if err != nil {
		return nil, opErr("update", id, err)
	}
	return m, nil
}

// Delete archives a memory by moving its file under archive/. Pinned
// memories are refused with ErrPinned.
func (s *Store) Delete(ctx context.Context, id string) (Archived, error) {
	rel, err := s.locate(ctx, id)
	if err != nil {
		return Archived{}, opErr("delete", id, err)
	}
	fm, _, err := s.read(rel)
	if err != nil {
		return Archived{}, opErr("delete", id, err)
	}
	if fm.Pinned {
		return Archived{}, opErr("delete", id, ErrPinned)
	}

	archiveRel := filepath.Join(archiveDir, rel)
	dst := filepath.Join(s.dir, archiveRel)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return Archived{}, opErr("delete", id, err)
	}
	if err := os.Rename(filepath.Join(s.dir, rel), dst); err != nil {
		return Archived{}, opErr("delete", id, err)
	}
	s.index.Remove(id)
	return Archived{ID: id, Archived: true, ArchivePath: archiveRel}, nil
}

// List returns every live memory of the given type ("" for all), ordered
// by created stamp then id.
func (s *Store) List(ctx context.Context, typ Type) ([]Memory, error) {
	if typ != "" && !typ.Valid() {
		return nil, opErr("list", "", fmt.Errorf("%w: memory type %q", ErrInvalidInput, typ))
	}
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, opErr("list", "", err)
	}

	out := all[:0]
	for _, m := range all {
		if typ == "" || m.Type == typ {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) writeNew(ctx context.Context, rel string, fm frontmatter, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(s.dir, rel)); err == nil {
		return fmt.Errorf("%w at %s, use update instead", ErrConflict, rel)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := s.write(rel, fm, content); err != nil {
		return err
	}
	s.index.Add(fm.ID, rel)
	return nil
}

func (s *Store) write(rel string, fm frontmatter, content string) error {
	data, err := encodeFile(fm, content)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.md")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *Store) read(rel string) (frontmatter, string, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return frontmatter{}, "", ErrNotFound
		}
		return frontmatter{}, "", err
	}
	fm, body, err := decodeFile(raw)
	if err != nil {
		return frontmatter{}, "", fmt.Errorf("%s: %w", rel, err)
	}
	return fm, body, nil
}

func (s *Store) load(rel string) (*Memory, error) {
	fm, body, err := s.read(rel)
	if err != nil {
		return nil, err
	}
	return &Memory{
		ID:       fm.ID,
		Type:     fm.Type,
		Category: fm.Category,
		Name:     strings.TrimSuffix(filepath.Base(rel), ".md"),
		Path:     rel,
		Content:  body,
		Tags:     fm.Tags,
		Pinned:   fm.Pinned,
		Created:  fm.Created,
		Updated:  fm.Updated,
	}, nil
}

// locate resolves an id to its file, consulting the index before falling
// back to a directory scan.
func (s *Store) locate(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidInput)
	}
	if rel, ok := s.index.Get(id); ok {
		if fm, _, err := s.read(rel); err == nil && fm.ID == id {
			return rel, nil
		}
		s.index.Remove(id)
	}

	var found string
	err := s.walk(ctx, func(rel string, fm frontmatter, _ string) bool {
		s.index.Add(fm.ID, rel)
		if fm.ID == id {
			found = rel
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", ErrNotFound
	}
	return found, nil
}

func (s *Store) loadAll(ctx context.Context) ([]Memory, error) {
	var out []Memory
	err := s.walk(ctx, func(rel string, fm frontmatter, body string) bool {
		s.index.Add(fm.ID, rel)
		out = append(out, Memory{
			ID:       fm.ID,
			Type:     fm.Type,
			Category: fm.Category,
			Name:     strings.TrimSuffix(filepath.Base(rel), ".md"),
			Path:     rel,
			Content:  body,
			Tags:     fm.Tags,
			Pinned:   fm.Pinned,
			Created:  fm.Created,
			Updated:  fm.Updated,
		})
		return true
	})
	return out, err
}

// walk visits every live memory file. Files that fail to parse are logged
// and skipped. fn returns false to stop early.
func (s *Store) walk(ctx context.Context, fn func(rel string, fm frontmatter, body string) bool) error {
	stop := errors.New("stop")
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel == archiveDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") || strings.HasPrefix(d.Name(), ".") || reservedFiles[rel] {
			return nil
		}

		fm, body, err := s.read(rel)
		if err != nil {
			s.logger.Warn("memstore: skipping unreadable memory", "path", rel, "error", err)
			return nil
		}
		if !fn(rel, fm, body) {
			return stop
		}
		return nil
	})
	if errors.Is(err, stop) {
		return nil
	}
	return err
}
