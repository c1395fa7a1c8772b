package port

import (
	"context"

	"imgsearch/internal/domain"
)

// CatalogSource lists the products whose images should be indexed.
type CatalogSource interface {
	FetchProducts(ctx context.Context) ([]domain.Product, error)
}
