// Package handlers implements the gin handlers of the piqa HTTP API.
package handlers

import (
	"context"

	"github.com/soundprediction/piqa/pkg/server/dto"
	"github.com/soundprediction/piqa/pkg/types"
)

// QueryEncoder turns a free-text question into its dense phrase-space
// vector.
type QueryEncoder interface {
	EncodeQuery(ctx context.Context, query string) ([]float64, error)
}

// PhraseSearcher ranks indexed phrases against an encoded question.
type PhraseSearcher interface {
	Search(query []float64, k int) ([]dto.PhraseResult, error)
	Len() int
}

// QuestionEncoder is implemented by encoders that also return the sparse
// part of a question.
type QuestionEncoder interface {
	EncodeQuestion(ctx context.Context, query string) (types.QuestionEntry, error)
}

// EntrySearcher is implemented by searchers that add the sparse score of
// sparse indexes.
type EntrySearcher interface {
	SearchEntry(query types.QuestionEntry, k int) ([]dto.PhraseResult, error)
}
