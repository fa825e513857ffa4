package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery signals a blank query text.
	ErrEmptyQuery = errors.New("empty query")
	// ErrInvalidOptions signals query options that cannot be executed.
	ErrInvalidOptions = errors.New("invalid query options")
	// ErrUnknownCollection signals a collection that is not configured.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrRerankProviderError signals a rerank provider failure.
	ErrRerankProviderError = errors.New("rerank provider error")
	// ErrRerankIncomplete signals that the relevance model did not score every candidate.
	ErrRerankIncomplete = errors.New("rerank incomplete")
)

// DimMismatchError wraps ErrVectorDimMismatch with both dimensions.
type DimMismatchError struct {
	Collection string
	Want       int
	Got        int
}

func (e *DimMismatchError) Error() string {
	return fmt.Sprintf("%s: collection %q expects %d, got %d",
		ErrVectorDimMismatch.Error(), e.Collection, e.Want, e.Got)
}

func (e *DimMismatchError) Unwrap() error { return ErrVectorDimMismatch }

// NewDimMismatch creates a dimension mismatch error.
func NewDimMismatch(collection string, want, got int) error {
	return &DimMismatchError{Collection: collection, Want: want, Got: got}
}

// IsConfigError reports whether err is caused by a misconfigured query
// rather than an unavailable backend.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrVectorDimMismatch) ||
		errors.Is(err, ErrUnknownCollection) ||
		errors.Is(err, ErrInvalidOptions)
}
