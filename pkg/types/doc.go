// Package types defines the data exchanged between the encoders, the
// offline indexer and the merge scorer.
//
// The main types are:
//   - Span: a (start, end) token-index pair inside one context
//   - SparseVector: an (indices, values, vocab size) triple in the legacy
//     offset layout
//   - IndexEntry: everything persisted for one context
//   - QuestionEntry: everything persisted for one question
//
// # Sparse layout
//
// Start-side sparse weights are keyed by GloVe id and end-side weights by
// GloVe id + GloveVocabSize, so a phrase vector lives in a space of
// SparseVocabSize dimensions:
//
//	start := types.SparseIndex(id, false) // id
//	end := types.SparseIndex(id, true)    // id + 400002
//
// # Validation
//
// IndexEntry and QuestionEntry provide Validate() for the shape checks the
// writers run before persisting.
package types
