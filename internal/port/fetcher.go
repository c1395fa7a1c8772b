package port

import "context"

// ImageFetcher downloads raw image bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// URLResolver maps a catalog image reference to a fetchable URL.
type URLResolver interface {
	Resolve(ref string) (string, error)
}
