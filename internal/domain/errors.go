package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, connection resets, 5xx.
	ErrTransient = errors.New("transient network error")

	// ErrPermanentInput marks failures that will not succeed on retry: bad URL, 4xx,
	// unsupported encoding.
	ErrPermanentInput = errors.New("permanent input error")

	// ErrExtractionExhausted is returned when every embedding encoding failed.
	ErrExtractionExhausted = errors.New("embedding extraction exhausted")

	// ErrStoreCorrupt is returned when persisted vectors cannot be read back.
	ErrStoreCorrupt = errors.New("vector store corrupt")

	// ErrInterrupted is returned when a run stops on a termination signal or fault.
	ErrInterrupted = errors.New("run interrupted")

	// ErrEmptyQuery is returned when a search is issued with no query vector.
	ErrEmptyQuery = errors.New("empty query embedding")

	// ErrDuplicateID is returned when a record id is already present in the store.
	ErrDuplicateID = errors.New("duplicate record id")

	// ErrCatalogShape is returned when the catalog answers with errors or an
	// unexpected payload.
	ErrCatalogShape = errors.New("invalid catalog response")

	// ErrDimensionMismatch matches any *DimensionError via errors.Is.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// DimensionError reports a vector whose length differs from the store dimension.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
