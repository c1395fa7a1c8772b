package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// IndexOptions tunes an indexing run.
type IndexOptions struct {
	// Dimension sizes pseudo-embeddings. Zero uses the store dimension.
	Dimension       int
	CheckpointEvery int // 0 disables periodic checkpoints
	ProgressEvery   int
	MaxItems        int // 0 = no limit
	PseudoFallback  bool
}

// ProgressFunc receives the running counts after each product.
type ProgressFunc func(processed int, p domain.IndexProgress)

// IndexUseCase drives the fetch, embed and store loop over a product list.
type IndexUseCase struct {
	store    *store.VectorStore
	fetcher  port.ImageFetcher
	resolver port.URLResolver
	adapter  *embedding.Adapter
	hook     *ShutdownHook
	opts     IndexOptions
	logger   *slog.Logger
}

// NewIndexUseCase creates a new index use case.
func NewIndexUseCase(
	store *store.VectorStore,
	fetcher port.ImageFetcher,
	resolver port.URLResolver,
	adapter *embedding.Adapter,
	hook *ShutdownHook,
	opts IndexOptions,
	logger *slog.Logger,
) *IndexUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	if hook == nil {
		hook = NewShutdownHook(store.Checkpoint, logger)
	}
	return &IndexUseCase{
		store:    store,
		fetcher:  fetcher,
		resolver: resolver,
		adapter:  adapter,
		hook:     hook,
		opts:     opts,
		logger:   logger,
	}
}

// Run indexes products in order. Per-product failures are counted and the
// loop continues. When ctx is cancelled the shutdown hook checkpoints and the
// returned error wraps domain.ErrInterrupted. A panic also runs the hook
// before propagating.
func (u *IndexUseCase) Run(ctx context.Context, products []domain.Product, onProgress ProgressFunc) (progress domain.IndexProgress, err error) {
	if u.opts.MaxItems > 0 && len(products) > u.opts.MaxItems {
		products = products[:u.opts.MaxItems]
	}
	progress.Total = len(products)
	// Indexed counts every vector in the store, including resumed ones.
	progress.Indexed = u.store.Len()
	appended := 0

	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("indexing panicked", "panic", r, "indexed", progress.Indexed)
			_ = u.hook.Run(ctx, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	start := time.Now()
	u.logger.Info("indexing started", "products", len(products), "resumed", u.store.Resumed())

	for i, p := range products {
		if ctx.Err() != nil {
			return progress, u.interrupt(ctx, progress)
		}

		state, synthetic, itemErr := u.indexOne(ctx, p)
		switch state {
		case domain.StateSkipped:
			progress.Skipped++
			if progress.Skipped%u.opts.ProgressEvery == 0 {
				u.logger.Debug("skipping already-indexed products", "skipped", progress.Skipped)
			}
		case domain.StateStored:
			progress.Indexed++
			appended++
			if synthetic {
				progress.Synthetic++
			}
			u.afterStore(ctx, progress, appended)
		case domain.StateFailed:
			if ctx.Err() != nil {
				return progress, u.interrupt(ctx, progress)
			}
			progress.Failed++
			u.logger.Warn("product failed", "id", p.ID, "image", p.Image, "error", itemErr)
		}

		if onProgress != nil {
			onProgress(i+1, progress)
		}
	}

	// A signal arriving after the last item must not abort the final write.
	if err := u.store.Checkpoint(context.WithoutCancel(ctx)); err != nil {
		return progress, fmt.Errorf("final checkpoint: %w", err)
	}

	u.logger.Info("indexing finished",
		"indexed", progress.Indexed,
		"appended", appended,
		"failed", progress.Failed,
		"skipped", progress.Skipped,
		"synthetic", progress.Synthetic,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return progress, nil
}

func (u *IndexUseCase) indexOne(ctx context.Context, p domain.Product) (domain.ItemState, bool, error) {
	if u.store.Has(p.ID) {
		return domain.StateSkipped, false, nil
	}
	if p.ID == "" {
		return domain.StateFailed, false, fmt.Errorf("%w: product without id", domain.ErrPermanentInput)
	}

	finalURL, err := u.resolver.Resolve(p.Image)
	if err != nil {
		return domain.StateFailed, false, err
	}

	u.logger.Debug("product state", "id", p.ID, "state", domain.StateFetching, "url", finalURL)
	data, err := u.fetcher.Fetch(ctx, finalURL)
	if err != nil {
		return domain.StateFailed, false, err
	}

	u.logger.Debug("product state", "id", p.ID, "state", domain.StateEmbedding, "bytes", len(data))
	rec := domain.VectorRecord{ID: p.ID}
	res, err := u.adapter.Embed(ctx, embedding.Source{URL: finalURL, Bytes: data})
	switch {
	case err == nil:
		rec.Embedding = res.Vector
	case errors.Is(err, domain.ErrExtractionExhausted) && u.opts.PseudoFallback:
		seed := data
		if len(seed) == 0 {
			seed = []byte(p.ID + p.Image)
		}
		rec.Embedding = embedding.PseudoEmbedding(seed, u.dimension())
		rec.Synthetic = true
		u.logger.Warn("all extractor strategies failed, using pseudo-embedding", "id", p.ID, "error", err)
	default:
		return domain.StateFailed, false, err
	}

	if err := u.store.Append(rec); err != nil {
		return domain.StateFailed, false, err
	}
	return domain.StateStored, rec.Synthetic, nil
}

// afterStore runs the progress log and periodic checkpoint, both counted on
// vectors appended during this run.
func (u *IndexUseCase) afterStore(ctx context.Context, progress domain.IndexProgress, appended int) {
	if appended%u.opts.ProgressEvery == 0 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		u.logger.Info("progress",
			"indexed", progress.Indexed,
			"total", progress.Total,
			"failed", progress.Failed,
			"heap_mb", m.HeapAlloc>>20,
			"sys_mb", m.Sys>>20,
		)
	}

	if u.opts.CheckpointEvery > 0 && appended%u.opts.CheckpointEvery == 0 {
		if err := u.store.Checkpoint(ctx); err != nil {
			u.logger.Error("periodic checkpoint failed", "error", err)
		}
	}
}

func (u *IndexUseCase) interrupt(ctx context.Context, progress domain.IndexProgress) error {
	cause := context.Cause(ctx)
	if err := u.hook.Run(ctx, cause.Error()); err != nil {
		return fmt.Errorf("%w after %d products (checkpoint failed: %v): %w", domain.ErrInterrupted, progress.Indexed, err, cause)
	}
	return fmt.Errorf("%w after %d products: %w", domain.ErrInterrupted, progress.Indexed, cause)
}

func (u *IndexUseCase) dimension() int {
	if u.opts.Dimension > 0 {
		return u.opts.Dimension
	}
	if d := u.store.Dimension(); d > 0 {
		return d
	}
	return u.adapter.Dimension()
}
