package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
)

func newTestStore(t *testing.T, dims int) *Store {
	t.Helper()
	provider := NewMockProvider("mock", dims)
	store, err := NewStore(provider, Config{MaxCacheSize: 16, BatchSize: 4, Parallelism: 2}, nil, nil)
	require.NoError(t, err)
	return store
}

func TestStore_EmbedIsNormalized(t *testing.T) {
	store := newTestStore(t, 32)

	rec, err := store.Embed(context.Background(), "doc-1", "database connection timeout")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range rec.Vector {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sumSquares, 1e-4, "embedding should be L2-normalized")
}

func TestStore_EmbedIsDeterministic(t *testing.T) {
	store := newTestStore(t, 16)

	a, err := store.Embed(context.Background(), "doc-a", "disk space low")
	require.NoError(t, err)
	b, err := store.Embed(context.Background(), "doc-b", "disk space low")
	require.NoError(t, err)

	assert.Equal(t, a.Vector, b.Vector, "identical text must embed to identical vectors")
}

func TestStore_CacheHitSkipsRegenerationUntilStale(t *testing.T) {
	store := newTestStore(t, 16)
	ctx := context.Background()

	first, err := store.Embed(ctx, "doc-1", "original content")
	require.NoError(t, err)

	cached, err := store.Embed(ctx, "doc-1", "original content")
	require.NoError(t, err)
	assert.Equal(t, first.Vector, cached.Vector)

	updated, err := store.Embed(ctx, "doc-1", "changed content")
	require.NoError(t, err)
	assert.NotEqual(t, first.ContentHash, updated.ContentHash)
}

func TestStore_DimensionMismatchIsFatal(t *testing.T) {
	provider := NewMockProvider("mock", 8)
	store, err := NewStore(provider, DefaultConfig(), nil, nil)
	require.NoError(t, err)

	// Simulate a provider swap returning a different dimension by embedding
	// through a store configured for a different size than the provider
	// actually returns.
	store.dimension = 16

	_, err = store.Embed(context.Background(), "doc-1", "text")
	require.Error(t, err)
	assert.True(t, svcerrors.IsKind(err, svcerrors.KindEmbedFailure))
}

func TestStore_EmbedBatch(t *testing.T) {
	store := newTestStore(t, 16)

	ids := []string{"a", "b", "c", "d", "e"}
	texts := []string{"one", "two", "three", "four", "five"}

	recs, err := store.EmbedBatch(context.Background(), ids, texts)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for i, rec := range recs {
		assert.Equal(t, ids[i], rec.DocumentID)
		assert.Len(t, rec.Vector, 16)
	}
}

func TestStore_EmbedBatchMismatchedLengths(t *testing.T) {
	store := newTestStore(t, 16)

	_, err := store.EmbedBatch(context.Background(), []string{"a"}, []string{"x", "y"})
	require.Error(t, err)
	assert.True(t, svcerrors.IsKind(err, svcerrors.KindValidation))
}

func TestStore_ProviderFailurePropagatesAsEmbedFailure(t *testing.T) {
	provider := NewMockProvider("flaky", 16, WithMockFailureRate(1.0))
	store, err := NewStore(provider, DefaultConfig(), nil, nil)
	require.NoError(t, err)

	_, err = store.Embed(context.Background(), "doc-1", "text")
	require.Error(t, err)
	assert.True(t, svcerrors.IsKind(err, svcerrors.KindEmbedFailure))
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}

	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity(a, c), 1e-6)
	assert.Equal(t, float64(0), CosineSimilarity(a, []float32{1, 0}), "mismatched dimensions return 0")
}
