package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"imgsearch/internal/domain"
)

// SampleProduct is written by mock fetches when no product list exists yet.
var SampleProduct = domain.Product{ID: "gid://shopify/Product/000", Image: "https://via.placeholder.com/600"}

// LoadProducts reads the first of paths that exists. The fetched list is
// normally given first so it wins over a hand-maintained one.
func LoadProducts(paths ...string) ([]domain.Product, string, error) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", err
		}

		var products []domain.Product
		if err := json.Unmarshal(data, &products); err != nil {
			return nil, "", fmt.Errorf("failed to parse %s: %w", p, err)
		}
		return products, p, nil
	}
	return nil, "", fmt.Errorf("no product list found (tried %v): %w", paths, os.ErrNotExist)
}

// WriteProducts writes products as indented JSON.
func WriteProducts(path string, products []domain.Product) error {
	if products == nil {
		products = []domain.Product{}
	}
	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// MockProducts returns the hand-maintained list at fallback, or a one-item
// sample when it does not exist.
func MockProducts(fallback string) ([]domain.Product, error) {
	products, _, err := LoadProducts(fallback)
	if err == nil {
		return products, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return []domain.Product{SampleProduct}, nil
	}
	return nil, err
}
