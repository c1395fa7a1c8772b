package retriever

// Ranking quality metrics for evaluating search over labelled queries.

// RecallAtK returns the share of relevant ids present in retrieved.
func RecallAtK(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 0
	}
	want := make(map[string]bool, len(relevant))
	for _, r := range relevant {
		want[r] = true
	}
	hits := 0
	for _, r := range retrieved {
		if want[r] {
			hits++
		}
	}
	return float64(hits) / float64(len(relevant))
}

// ReciprocalRank returns 1/rank of relevant in retrieved, or 0 if absent.
func ReciprocalRank(retrieved []string, relevant string) float64 {
	for i, r := range retrieved {
		if r == relevant {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}
