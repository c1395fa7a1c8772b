package retriever

import (
	"fmt"
	"math"
	"sort"

	"imgsearch/internal/domain"
)

// Metric scores a query against a stored embedding of equal length.
type Metric func(a, b []float32) float64

// Cosine is the full cosine similarity. A zero-norm side scores 0.
func Cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Dot is the inner product. It equals Cosine only when both sides are unit length.
func Dot(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// MetricByName returns the metric for a config value.
func MetricByName(name string) (Metric, error) {
	switch name {
	case "", "cosine":
		return Cosine, nil
	case "dot":
		return Dot, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %s", name)
	}
}

// SimilarityEngine ranks stored records against a query embedding by
// exhaustive scan.
type SimilarityEngine struct {
	metric Metric
}

func NewSimilarityEngine(metric Metric) *SimilarityEngine {
	if metric == nil {
		metric = Cosine
	}
	return &SimilarityEngine{metric: metric}
}

// Search returns the topK best records, highest score first. Equal scores
// keep store order. topK <= 0 returns every record.
func (e *SimilarityEngine) Search(query []float32, records []domain.VectorRecord, topK int) ([]domain.SearchResult, error) {
	if len(query) == 0 {
		return nil, domain.ErrEmptyQuery
	}

	results := make([]domain.SearchResult, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != len(query) {
			return nil, fmt.Errorf("record %s: %w", r.ID, &domain.DimensionError{Expected: len(r.Embedding), Actual: len(query)})
		}
		results = append(results, domain.SearchResult{
			ID:    r.ID,
			Score: e.metric(query, r.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
