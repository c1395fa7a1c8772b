package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgsearch/internal/adapter/cache"
	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/retriever"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

type countingExtractor struct {
	inner port.Extractor
	calls atomic.Int32
}

func (c *countingExtractor) Extract(ctx context.Context, in port.ExtractInput, opts *port.ExtractOptions) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Extract(ctx, in, opts)
}

func newSearchFixture(t *testing.T, ex port.Extractor, images ...string) (*SearchUseCase, *store.MemorySnapshotter) {
	t.Helper()
	snap := store.NewMemorySnapshotter()
	vs, err := store.Open(context.Background(), snap, store.JSONCodec{}, store.Options{Dimension: testDim, Logger: quietLogger()})
	require.NoError(t, err)

	for i, img := range images {
		require.NoError(t, vs.Append(domain.VectorRecord{
			ID:        string(rune('a' + i)),
			Embedding: embedding.PseudoEmbedding([]byte(img), testDim),
		}))
	}

	adapter := embedding.NewAdapter(ex, embedding.WithDimension(testDim), embedding.WithAdapterLogger(quietLogger()))
	uc := NewSearchUseCase(vs, adapter, retriever.NewSimilarityEngine(retriever.Cosine), cache.NewQueryCache(10, time.Minute), 12, quietLogger())
	return uc, snap
}

func TestSearch_FindsIdenticalImage(t *testing.T) {
	uc, _ := newSearchFixture(t, embedding.NewMockExtractor(testDim), "red-shirt", "blue-jeans", "green-hat")

	results, err := uc.Search(context.Background(), Query{Bytes: []byte("blue-jeans")}, 0)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "b", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, []string{"b", results[1].ID, results[2].ID}, IDs(results))
}

func TestSearch_TopK(t *testing.T) {
	uc, _ := newSearchFixture(t, embedding.NewMockExtractor(testDim), "1", "2", "3", "4")

	results, err := uc.Search(context.Background(), Query{Bytes: []byte("3")}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearch_CachesByInput(t *testing.T) {
	ex := &countingExtractor{inner: embedding.NewMockExtractor(testDim)}
	uc, _ := newSearchFixture(t, ex, "x", "y")

	_, err := uc.Search(context.Background(), Query{Bytes: []byte("x")}, 0)
	require.NoError(t, err)
	_, err = uc.Search(context.Background(), Query{Bytes: []byte("x")}, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ex.calls.Load())

	_, err = uc.Search(context.Background(), Query{Bytes: []byte("y")}, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestSearch_ReloadInvalidatesCache(t *testing.T) {
	ex := &countingExtractor{inner: embedding.NewMockExtractor(testDim)}
	uc, snap := newSearchFixture(t, ex, "x")

	first, err := uc.Search(context.Background(), Query{Bytes: []byte("x")}, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Another process checkpoints a larger store.
	other, err := store.Open(context.Background(), snap, store.JSONCodec{}, store.Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, other.Append(domain.VectorRecord{ID: "p1", Embedding: embedding.PseudoEmbedding([]byte("x"), testDim)}))
	require.NoError(t, other.Append(domain.VectorRecord{ID: "p2", Embedding: embedding.PseudoEmbedding([]byte("z"), testDim)}))
	require.NoError(t, other.Checkpoint(context.Background()))

	require.NoError(t, uc.Reload(context.Background()))
	assert.Equal(t, 2, uc.Len())

	second, err := uc.Search(context.Background(), Query{Bytes: []byte("x")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "p1", second[0].ID)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestSearch_NoInput(t *testing.T) {
	uc, _ := newSearchFixture(t, embedding.NewMockExtractor(testDim), "x")

	_, err := uc.Search(context.Background(), Query{}, 0)
	assert.ErrorIs(t, err, domain.ErrPermanentInput)
}

func TestSearch_ExhaustionIsAnError(t *testing.T) {
	uc, _ := newSearchFixture(t, failingExtractor{}, "x")

	results, err := uc.Search(context.Background(), Query{Bytes: []byte("x")}, 0)
	assert.ErrorIs(t, err, domain.ErrExtractionExhausted)
	assert.Nil(t, results)
}

func TestSearch_EmptyStore(t *testing.T) {
	uc, _ := newSearchFixture(t, embedding.NewMockExtractor(testDim))

	results, err := uc.Search(context.Background(), Query{URL: "https://example.com/q.jpg"}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_DiversityDropsDuplicateImages(t *testing.T) {
	uc, _ := newSearchFixture(t, embedding.NewMockExtractor(testDim), "shoe", "shoe", "hat")

	plain, err := uc.Search(context.Background(), Query{Bytes: []byte("shoe")}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, IDs(plain))

	uc.WithDiversity(retriever.NewMMRReranker(0.7, 0.99))
	uc.cache.Invalidate()

	diverse, err := uc.Search(context.Background(), Query{Bytes: []byte("shoe")}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, IDs(diverse))
}
