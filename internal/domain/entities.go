package domain

// Product is a catalog entry to be indexed. Image is the source image URL
// as returned by the catalog.
type Product struct {
	ID     string `json:"id"`
	Handle string `json:"handle,omitempty"`
	Image  string `json:"image"`
}

// VectorRecord is one persisted embedding. ID is the catalog product id.
type VectorRecord struct {
	ID        string    `json:"id" msgpack:"id"`
	Embedding []float32 `json:"embedding" msgpack:"embedding"`
	Synthetic bool      `json:"synthetic,omitempty" msgpack:"synthetic,omitempty"` // produced by the pseudo-embedding fallback
}

// SearchResult is a ranked match for a query embedding.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// IndexProgress counts the outcome of an indexing run.
type IndexProgress struct {
	Total     int `json:"total"`
	Indexed   int `json:"indexed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Synthetic int `json:"synthetic"`
}

// ItemState is the lifecycle state of a product during an indexing run.
type ItemState string

const (
	StatePending   ItemState = "pending"
	StateFetching  ItemState = "fetching"
	StateEmbedding ItemState = "embedding"
	StateStored    ItemState = "stored"
	StateSkipped   ItemState = "skipped"
	StateFailed    ItemState = "failed"
)
