package retriever

import (
	"imgsearch/internal/domain"
)

// MMRReranker implements Maximal Marginal Relevance over image embeddings.
// Catalogs often hold near-identical shots of one product in several
// variants; MMR keeps them from filling the whole result page.
type MMRReranker struct {
	lambda    float64
	dedupSim  float64
	candidate int // pool size as a multiple of k
}

// NewMMRReranker creates a new MMR reranker. Candidates whose similarity to an
// already selected result exceeds dedupSim are dropped.
func NewMMRReranker(lambda, dedupSim float64) *MMRReranker {
	return &MMRReranker{
		lambda:    lambda,
		dedupSim:  dedupSim,
		candidate: 3,
	}
}

// PoolSize returns how many candidates to retrieve before reranking to k.
func (r *MMRReranker) PoolSize(k int) int {
	if k <= 0 {
		return 0
	}
	return k * r.candidate
}

// Rerank applies MMR to diversify the results.
// MMR(c) = λ * relevance(c) - (1-λ) * max_similarity(c, selected)
//
// vectors maps result ids to their embeddings; results without a vector are
// treated as unrelated to everything. k <= 0 keeps every candidate.
func (r *MMRReranker) Rerank(candidates []domain.SearchResult, vectors map[string][]float32, k int) []domain.SearchResult {
	if len(candidates) == 0 {
		return nil
	}
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}

	// Normalize scores to [0, 1] for fair comparison
	minScore, maxScore := candidates[0].Score, candidates[0].Score
	for _, c := range candidates {
		if c.Score > maxScore {
			maxScore = c.Score
		}
		if c.Score < minScore {
			minScore = c.Score
		}
	}
	span := maxScore - minScore
	if span == 0 {
		span = 1
	}

	selected := make([]domain.SearchResult, 0, k)
	remaining := make([]domain.SearchResult, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestMMR := -1e9

		for i, candidate := range remaining {
			relevance := (candidate.Score - minScore) / span

			maxSim := 0.0
			for _, sel := range selected {
				sim := pairSimilarity(vectors, candidate.ID, sel.ID)
				if sim > maxSim {
					maxSim = sim
				}
			}

			if maxSim > r.dedupSim {
				continue
			}

			mmr := r.lambda*relevance - (1-r.lambda)*maxSim
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}

		if bestIdx == -1 {
			// Everything left duplicates a selected image.
			break
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func pairSimilarity(vectors map[string][]float32, a, b string) float64 {
	va, ok := vectors[a]
	if !ok {
		return 0
	}
	vb, ok := vectors[b]
	if !ok || len(va) != len(vb) {
		return 0
	}
	return Cosine(va, vb)
}
