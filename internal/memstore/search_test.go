package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchTiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreEntity(ctx, "projects", "auth-service", "token issuer", nil, false)
	require.NoError(t, err)
	_, err = s.StoreEntity(ctx, "projects", "gateway", "fronts everything", []string{"Auth"}, false)
	require.NoError(t, err)
	_, err = s.StoreEntity(ctx, "projects", "billing", "calls AUTH on every request", nil, false)
	require.NoError(t, err)
	_, err = s.StoreEntity(ctx, "projects", "unrelated", "nothing here", nil, false)
	require.NoError(t, err)

	results, err := s.Search(ctx, "  Auth ", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "entity-projects-auth-service", results[0].ID)
	assert.Equal(t, RelevanceName, results[0].Relevance)
	assert.Equal(t, "entity-projects-gateway", results[1].ID)
	assert.Equal(t, RelevanceTag, results[1].Relevance)
	assert.Equal(t, "entity-projects-billing", results[2].ID)
	assert.Equal(t, RelevanceContent, results[2].Relevance)
}

func TestSearchMaxTierNotSum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreEntity(ctx, "projects", "deploy", "deploy notes", []string{"deploy"}, false)
	require.NoError(t, err)

	results, err := s.Search(ctx, "deploy", "", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Relevance)
}

func TestSearchEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.StoreEntity(ctx, "projects", "x", "content", nil, false)
	require.NoError(t, err)

	results, err := s.Search(ctx, "   ", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchTypeFilterAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.StoreEpisode(ctx, fmt.Sprintf("ep%d", i), "match", nil, false, fixedNow.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := s.StoreEntity(ctx, "projects", "match", "x", nil, false)
	require.NoError(t, err)

	results, err := s.Search(ctx, "match", TypeEpisode, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "episode-2025-03-ep0", results[0].ID)
	assert.Equal(t, "episode-2025-03-ep1", results[1].ID)

	// limit below 1 is clamped up
	results, err = s.Search(ctx, "match", "", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "entity-projects-match", results[0].ID)
}
