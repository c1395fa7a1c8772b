package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"imgsearch/internal/adapter/cache"
	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/retriever"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/domain"
)

// Query is one query image, as raw bytes or as a URL the extractor can read.
type Query struct {
	Bytes []byte
	URL   string
}

// SearchUseCase ranks stored products against a query image.
type SearchUseCase struct {
	store   *store.VectorStore
	adapter *embedding.Adapter
	engine  *retriever.SimilarityEngine
	cache   *cache.QueryCache // nil disables caching
	mmr     *retriever.MMRReranker
	topK    int
	logger  *slog.Logger
}

// NewSearchUseCase creates a new search use case.
func NewSearchUseCase(
	store *store.VectorStore,
	adapter *embedding.Adapter,
	engine *retriever.SimilarityEngine,
	cache *cache.QueryCache,
	topK int,
	logger *slog.Logger,
) *SearchUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = 12
	}
	return &SearchUseCase{
		store:   store,
		adapter: adapter,
		engine:  engine,
		cache:   cache,
		topK:    topK,
		logger:  logger,
	}
}

// WithDiversity enables MMR reranking of results.
func (u *SearchUseCase) WithDiversity(mmr *retriever.MMRReranker) *SearchUseCase {
	u.mmr = mmr
	return u
}

// Search embeds the query and returns up to topK matches; topK <= 0 uses the
// configured default. Extraction exhaustion is returned as an error, never
// replaced by a pseudo-embedding.
func (u *SearchUseCase) Search(ctx context.Context, q Query, topK int) ([]domain.SearchResult, error) {
	if len(q.Bytes) == 0 && q.URL == "" {
		return nil, fmt.Errorf("%w: no query image", domain.ErrPermanentInput)
	}
	if topK <= 0 {
		topK = u.topK
	}

	var key string
	if u.cache != nil {
		input := q.Bytes
		if len(input) == 0 {
			input = []byte(q.URL)
		}
		key = cache.Key(input, topK)
		if results, hit := u.cache.Get(key); hit {
			u.logger.Debug("query cache hit", "results", len(results))
			return results, nil
		}
	}

	res, err := u.adapter.Embed(ctx, embedding.Source{URL: q.URL, Bytes: q.Bytes})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	records := u.store.Records()
	if u.mmr == nil {
		results, err := u.engine.Search(res.Vector, records, topK)
		if err != nil {
			return nil, err
		}
		u.remember(key, results)
		u.logger.Debug("search completed", "strategy", res.Strategy, "results", len(results))
		return results, nil
	}

	pool, err := u.engine.Search(res.Vector, records, u.mmr.PoolSize(topK))
	if err != nil {
		return nil, err
	}
	vectors := make(map[string][]float32, len(pool))
	wanted := make(map[string]struct{}, len(pool))
	for _, r := range pool {
		wanted[r.ID] = struct{}{}
	}
	for _, rec := range records {
		if _, ok := wanted[rec.ID]; ok {
			vectors[rec.ID] = rec.Embedding
		}
	}
	results := u.mmr.Rerank(pool, vectors, topK)
	if results == nil {
		results = []domain.SearchResult{}
	}

	u.remember(key, results)
	u.logger.Debug("search completed", "strategy", res.Strategy, "candidates", len(pool), "results", len(results))
	return results, nil
}

func (u *SearchUseCase) remember(key string, results []domain.SearchResult) {
	if u.cache != nil {
		u.cache.Put(key, results)
	}
}

// Reload re-reads the store snapshot and drops cached results.
func (u *SearchUseCase) Reload(ctx context.Context) error {
	if err := u.store.Reload(ctx); err != nil {
		return err
	}
	if u.cache != nil {
		u.cache.Invalidate()
	}
	u.logger.Info("vector store reloaded", "vectors", u.store.Len())
	return nil
}

// Len returns the number of searchable vectors.
func (u *SearchUseCase) Len() int {
	return u.store.Len()
}

// IDs returns the ids of results in rank order.
func IDs(results []domain.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}
