package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgsearch/internal/adapter/catalog"
	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

const testDim = 8

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher serves image bytes per URL; unknown URLs are permanent failures.
type fakeFetcher struct {
	mu     sync.Mutex
	images map[string][]byte
	calls  int
	before func(call int)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.before != nil {
		f.before(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := f.images[url]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w: HTTP 404", url, domain.ErrPermanentInput)
	}
	return data, nil
}

// failingExtractor rejects every input encoding.
type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, port.ExtractInput, *port.ExtractOptions) ([]float32, error) {
	return nil, errors.New("unsupported input")
}

// offsetExtractor returns a vector unlike the mock extractor's for the same input.
type offsetExtractor struct{}

func (offsetExtractor) Extract(_ context.Context, in port.ExtractInput, _ *port.ExtractOptions) ([]float32, error) {
	v := make([]float32, testDim)
	v[len(in.URL)%testDim] = 1
	return v, nil
}

func products(n int) ([]domain.Product, map[string][]byte) {
	var list []domain.Product
	images := make(map[string][]byte)
	for i := 1; i <= n; i++ {
		url := fmt.Sprintf("https://cdn.shopify.com/products/%d.jpg", i)
		list = append(list, domain.Product{ID: fmt.Sprintf("gid://shopify/Product/%d", i), Image: url})
		images[url] = []byte(fmt.Sprintf("image-bytes-%d", i))
	}
	return list, images
}

type harness struct {
	snap    *store.MemorySnapshotter
	store   *store.VectorStore
	fetcher *fakeFetcher
	hook    *ShutdownHook
	uc      *IndexUseCase
}

func newHarness(t *testing.T, snap *store.MemorySnapshotter, images map[string][]byte, ex port.Extractor, opts IndexOptions) *harness {
	t.Helper()
	vs, err := store.Open(context.Background(), snap, store.JSONCodec{}, store.Options{Dimension: testDim, Logger: quietLogger()})
	require.NoError(t, err)

	fetcher := &fakeFetcher{images: images}
	adapter := embedding.NewAdapter(ex, embedding.WithDimension(testDim), embedding.WithAdapterLogger(quietLogger()))
	hook := NewShutdownHook(vs.Checkpoint, quietLogger())
	if opts.Dimension == 0 {
		opts.Dimension = testDim
	}
	uc := NewIndexUseCase(vs, fetcher, catalog.PassthroughResolver{}, adapter, hook, opts, quietLogger())
	return &harness{snap: snap, store: vs, fetcher: fetcher, hook: hook, uc: uc}
}

func TestIndex_AllStored(t *testing.T) {
	list, images := products(3)
	h := newHarness(t, store.NewMemorySnapshotter(), images, embedding.NewMockExtractor(testDim), IndexOptions{PseudoFallback: true})

	var reports int
	progress, err := h.uc.Run(context.Background(), list, func(int, domain.IndexProgress) { reports++ })
	require.NoError(t, err)

	assert.Equal(t, domain.IndexProgress{Total: 3, Indexed: 3}, progress)
	assert.Equal(t, 3, reports)
	assert.Equal(t, 1, h.snap.Writes(), "only the final checkpoint should write")
	assert.Equal(t, 3, h.store.Len())
}

func TestIndex_FailureIsolation(t *testing.T) {
	list, images := products(3)
	delete(images, list[1].Image)
	h := newHarness(t, store.NewMemorySnapshotter(), images, embedding.NewMockExtractor(testDim), IndexOptions{PseudoFallback: true})

	progress, err := h.uc.Run(context.Background(), list, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, progress.Indexed)
	assert.Equal(t, 1, progress.Failed)
	assert.True(t, h.store.Has(list[2].ID), "product after the failure should be indexed")
	assert.False(t, h.store.Has(list[1].ID))
}

func TestIndex_UnresolvableURLFails(t *testing.T) {
	list, images := products(1)
	list = append(list, domain.Product{ID: "no-image"})
	h := newHarness(t, store.NewMemorySnapshotter(), images, embedding.NewMockExtractor(testDim), IndexOptions{})

	progress, err := h.uc.Run(context.Background(), list, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Indexed)
	assert.Equal(t, 1, progress.Failed)
}

func TestIndex_ResumptionIsIdempotent(t *testing.T) {
	list, images := products(4)
	snap := store.NewMemorySnapshotter()

	first := newHarness(t, snap, images, embedding.NewMockExtractor(testDim), IndexOptions{})
	_, err := first.uc.Run(context.Background(), list[:2], nil)
	require.NoError(t, err)
	firstRecords := first.store.Records()

	// A different extractor on the second run must not touch ids already stored.
	second := newHarness(t, snap, images, offsetExtractor{}, IndexOptions{})
	progress, err := second.uc.Run(context.Background(), list, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, progress.Skipped)
	assert.Equal(t, 4, progress.Indexed, "indexed includes the resumed vectors")

	reloaded, err := store.Open(context.Background(), snap, store.JSONCodec{}, store.Options{Logger: quietLogger()})
	require.NoError(t, err)
	records := reloaded.Records()
	require.Len(t, records, 4)

	seen := make(map[string]int)
	for _, r := range records {
		seen[r.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s stored more than once", id)
	}
	assert.Equal(t, firstRecords[0].Embedding, records[0].Embedding)
	assert.Equal(t, firstRecords[1].Embedding, records[1].Embedding)
}

func TestIndex_DuplicateProductIDsIndexedOnce(t *testing.T) {
	list, images := products(1)
	extra := "https://cdn.shopify.com/products/1-alt.jpg"
	images[extra] = []byte("alt")
	list = append(list, domain.Product{ID: list[0].ID, Image: extra})

	h := newHarness(t, store.NewMemorySnapshotter(), images, embedding.NewMockExtractor(testDim), IndexOptions{})
	progress, err := h.uc.Run(context.Background(), list, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, progress.Indexed)
	assert.Equal(t, 1, progress.Skipped)
	assert.Equal(t, 1, h.fetcher.calls)
}

func TestIndex_PseudoFallback(t *testing.T) {
	list, images := products(2)
	h := newHarness(t, store.NewMemorySnapshotter(), images, failingExtractor{}, IndexOptions{PseudoFallback: true})

	progress, err := h.uc.Run(context.Background(), list, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, progress.Indexed)
	assert.Equal(t, 2, progress.Synthetic)

	rec := h.store.Records()[0]
	assert.True(t, rec.Synthetic)
	assert.Equal(t, embedding.PseudoEmbedding(images[list[0].Image], testDim), rec.Embedding)
	assert.InDelta(t, 1.0, embedding.Norm(rec.Embedding), 1e-5)
}

func TestIndex_PseudoFallbackDisabled(t *testing.T) {
	list, images := products(2)
	h := newHarness(t, store.NewMemorySnapshotter(), images, failingExtractor{}, IndexOptions{PseudoFallback: false})

	progress, err := h.uc.Run(context.Background(), list, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, progress.Indexed)
	assert.Equal(t, 2, progress.Failed)
}

func TestIndex_PeriodicCheckpoint(t *testing.T) {
	list, images := products(5)
	h := newHarness(t, store.NewMemorySnapshotter(), images, embedding.NewMockExtractor(testDim), IndexOptions{CheckpointEvery: 2})

	_, err := h.uc.Run(context.Background(), list, nil)
	require.NoError(t, err)

	// After products 2 and 4, plus the final one.
	assert.Equal(t, 3, h.snap.Writes())
}

func TestIndex_CheckpointCadenceCountsNewVectorsAfterResume(t *testing.T) {
	list, images := products(3)
	snap := store.NewMemorySnapshotter()

	first := newHarness(t, snap, images, embedding.NewMockExtractor(testDim), IndexOptions{})
	_, err := first.uc.Run(context.Background(), list[:1], nil)
	require.NoError(t, err)
	base := snap.Writes()

	second := newHarness(t, snap, images, embedding.NewMockExtractor(testDim), IndexOptions{CheckpointEvery: 2})
	var writes []int
	progress, err := second.uc.Run(context.Background(), list, func(int, domain.IndexProgress) {
		writes = append(writes, snap.Writes()-base)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, progress.Indexed)
	// Skip, first new vector, second new vector (periodic checkpoint).
	assert.Equal(t, []int{0, 0, 1}, writes)
	assert.Equal(t, 2, snap.Writes()-base)
}

// cancelAwareSnapshotter fails writes issued with a cancelled context, like
// a network-backed snapshot store would.
type cancelAwareSnapshotter struct {
	*store.MemorySnapshotter
}

func (c cancelAwareSnapshotter) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemorySnapshotter.Write(ctx, data)
}

func TestIndex_FinalCheckpointSurvivesLateCancel(t *testing.T) {
	list, images := products(3)
	snap := cancelAwareSnapshotter{store.NewMemorySnapshotter()}
	vs, err := store.Open(context.Background(), snap, store.JSONCodec{}, store.Options{Dimension: testDim, Logger: quietLogger()})
	require.NoError(t, err)

	adapter := embedding.NewAdapter(embedding.NewMockExtractor(testDim), embedding.WithDimension(testDim), embedding.WithAdapterLogger(quietLogger()))
	uc := NewIndexUseCase(vs, &fakeFetcher{images: images}, catalog.PassthroughResolver{}, adapter, nil, IndexOptions{Dimension: testDim}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress, err := uc.Run(ctx, list, func(processed int, _ domain.IndexProgress) {
		if processed == len(list) {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 3, progress.Indexed)

	onDisk, err := store.Open(context.Background(), snap, store.JSONCodec{}, store.Options{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, 3, onDisk.Len())
}

func TestIndex_MaxItems(t *testing.T) {
	list, images := products(5)
	h := newHarness(t, store.NewMemorySnapshotter(), images, embedding.NewMockExtractor(testDim), IndexOptions{MaxItems: 2})

	progress, err := h.uc.Run(context.Background(), list, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 2, progress.Indexed)
}

func TestIndex_InterruptCheckpointsCompletedWork(t *testing.T) {
	const n = 3
	list, images := products(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, store.NewMemorySnapshotter(), images, embedding.NewMockExtractor(testDim), IndexOptions{})
	h.fetcher.before = func(call int) {
		if call == n+1 {
			cancel()
		}
	}

	progress, err := h.uc.Run(ctx, list, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, n, progress.Indexed)
	assert.Equal(t, 0, progress.Failed, "the interrupted item is not a failure")

	ran, _ := h.hook.Ran()
	assert.True(t, ran)

	onDisk, err := store.Open(context.Background(), h.snap, store.JSONCodec{}, store.Options{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, n, onDisk.Len())
}

func TestIndex_PanicRunsHook(t *testing.T) {
	list, images := products(4)
	h := newHarness(t, store.NewMemorySnapshotter(), images, embedding.NewMockExtractor(testDim), IndexOptions{})
	h.fetcher.before = func(call int) {
		if call == 3 {
			panic("boom")
		}
	}

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = h.uc.Run(context.Background(), list, nil)
	})

	ran, reason := h.hook.Ran()
	assert.True(t, ran)
	assert.Contains(t, reason, "boom")

	onDisk, err := store.Open(context.Background(), h.snap, store.JSONCodec{}, store.Options{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, 2, onDisk.Len())
}
