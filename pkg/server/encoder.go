package server

import (
	"context"
	"errors"

	"github.com/soundprediction/piqa/pkg/embedder"
	"github.com/soundprediction/piqa/pkg/model"
	"github.com/soundprediction/piqa/pkg/types"
)

// ErrNoTokens is returned for a query without any word or punctuation.
var ErrNoTokens = errors.New("query has no tokens")

// Encoder tokenises free text with a vocabulary and runs the question
// encoders of a model.
type Encoder struct {
	model *model.Model
	vocab *embedder.Vocab
}

// NewEncoder pairs a model with the vocabulary its embedder was built from.
func NewEncoder(m *model.Model, vocab *embedder.Vocab) *Encoder {
	return &Encoder{model: m, vocab: vocab}
}

// EncodeQuestion returns the dense and, for sparse models, sparse question
// vectors of query.
func (e *Encoder) EncodeQuestion(ctx context.Context, query string) (types.QuestionEntry, error) {
	tokens := embedder.Tokenize(query)
	if len(tokens) == 0 {
		return types.QuestionEntry{}, ErrNoTokens
	}
	ids := e.vocab.IDs(tokens)
	entries, err := e.model.GetQuestion(ctx, []model.Example{{QuestionID: "query", Question: ids}})
	if err != nil {
		return types.QuestionEntry{}, err
	}
	return entries[0], nil
}

// EncodeQuery returns the dense question vector of query.
func (e *Encoder) EncodeQuery(ctx context.Context, query string) ([]float64, error) {
	entry, err := e.EncodeQuestion(ctx, query)
	if err != nil {
		return nil, err
	}
	return entry.Dense, nil
}
