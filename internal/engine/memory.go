package engine

import (
	"context"
	"time"

	"github.com/lazypower/nanobrain/internal/memstore"
)

// MemoryStore is what the engine needs from the record store. It is
// satisfied by *memstore.Store.
type MemoryStore interface {
	StoreEntity(ctx context.Context, category, name, content string, tags []string, pinned bool) (memstore.Ref, error)
	StoreEpisode(ctx context.Context, slug, content string, tags []string, pinned bool, asOf time.Time) (memstore.Ref, error)
	Retrieve(ctx context.Context, id string) (*memstore.Memory, error)
	Update(ctx context.Context, id, content string) (*memstore.Memory, error)
	Search(ctx context.Context, query string, typ memstore.Type, limit int) ([]memstore.SearchResult, error)
	Delete(ctx context.Context, id string) (memstore.Archived, error)
	List(ctx context.Context, typ memstore.Type) ([]memstore.Memory, error)
}

var _ MemoryStore = (*memstore.Store)(nil)
