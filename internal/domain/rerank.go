package domain

import "context"

// RelevanceScore is the relevance model score of the document at Index.
type RelevanceScore struct {
	Index int
	Score float64
}

// PairScorer scores a single (query, document) pair with a relevance model.
type PairScorer interface {
	ScorePair(ctx context.Context, query, document string) (float64, error)
}

// BatchScorer scores every document against the query in one call.
// Implementations may return scores in any order; Index refers to documents.
type BatchScorer interface {
	ScoreBatch(ctx context.Context, query string, documents []string) ([]RelevanceScore, error)
}
