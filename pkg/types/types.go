package types

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	// GloveVocabSize is the GloVe vocabulary plus the padding and unknown
	// tokens.
	GloveVocabSize = 400002

	// SparseVocabSize is the width of a phrase sparse vector: one start
	// block and one end block of GloveVocabSize each.
	SparseVocabSize = 2 * GloveVocabSize
)

// Validation errors
var (
	ErrEmptyID        = errors.New("id cannot be empty")
	ErrShapeMismatch  = errors.New("shape mismatch")
	ErrInvalidSpan    = errors.New("invalid span")
	ErrSparseMismatch = errors.New("sparse indices and values differ in length")
)

// ContextKey is the type of request-scoped values carried through
// context.Context.
type ContextKey string

const (
	ContextKeyUserID        ContextKey = "user_id"
	ContextKeySessionID     ContextKey = "session_id"
	ContextKeyRequestSource ContextKey = "request_source"
)

// Span is an inclusive (start, end) token-index pair.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of tokens covered by the span.
func (s Span) Len() int {
	return s.End - s.Start + 1
}

// Within reports whether the span satisfies 0 <= end-start < maxLen.
func (s Span) Within(maxLen int) bool {
	d := s.End - s.Start
	return s.Start >= 0 && d >= 0 && d < maxLen
}

// SparseIndex maps a GloVe id into the start or end block of the sparse
// phrase space.
func SparseIndex(gloveID int, end bool) int {
	if end {
		return gloveID + GloveVocabSize
	}
	return gloveID
}

// SparseVector is a row of (index, value) pairs in a space of VocabSize
// dimensions.
type SparseVector struct {
	Indices   []int     `json:"indices"`
	Values    []float64 `json:"values"`
	VocabSize int       `json:"vocab_size"`
}

// Validate checks that indices and values pair up and stay in range.
func (v SparseVector) Validate() error {
	if len(v.Indices) != len(v.Values) {
		return fmt.Errorf("%w: %d indices, %d values", ErrSparseMismatch, len(v.Indices), len(v.Values))
	}
	for _, idx := range v.Indices {
		if idx < 0 || idx >= v.VocabSize {
			return fmt.Errorf("%w: index %d outside [0, %d)", ErrShapeMismatch, idx, v.VocabSize)
		}
	}
	return nil
}

// Dot returns the inner product of two sparse vectors. Repeated indices
// accumulate.
func (v SparseVector) Dot(o SparseVector) float64 {
	weights := make(map[int]float64, len(o.Indices))
	for k, idx := range o.Indices {
		weights[idx] += o.Values[k]
	}
	var sum float64
	for k, idx := range v.Indices {
		sum += v.Values[k] * weights[idx]
	}
	return sum
}

// IndexEntry is the persisted unit for one context: every enumerated span,
// its dense phrase vector, its sparse vector when the encoders have sparse
// modules, and its filter score when the phrase filter is on.
type IndexEntry struct {
	ContextID    string         `json:"context_id"`
	Spans        []Span         `json:"spans"`
	Dense        *mat.Dense     `json:"-"` // len(Spans) x 2*DenseSize
	Sparse       []SparseVector `json:"sparse,omitempty"`
	FilterScores []float64      `json:"filter_scores,omitempty"`
}

// Validate checks the row counts of the entry against its span list.
func (e *IndexEntry) Validate() error {
	n := len(e.Spans)
	if e.Dense != nil {
		if r, _ := e.Dense.Dims(); r != n {
			return fmt.Errorf("%w: %d dense rows for %d spans", ErrShapeMismatch, r, n)
		}
	} else if n > 0 {
		return fmt.Errorf("%w: missing dense rows for %d spans", ErrShapeMismatch, n)
	}
	if e.Sparse != nil && len(e.Sparse) != n {
		return fmt.Errorf("%w: %d sparse rows for %d spans", ErrShapeMismatch, len(e.Sparse), n)
	}
	if e.FilterScores != nil && len(e.FilterScores) != n {
		return fmt.Errorf("%w: %d filter scores for %d spans", ErrShapeMismatch, len(e.FilterScores), n)
	}
	for _, s := range e.Spans {
		if s.Start < 0 || s.End < s.Start {
			return fmt.Errorf("%w: (%d, %d)", ErrInvalidSpan, s.Start, s.End)
		}
	}
	return nil
}

// QuestionEntry is the persisted unit for one question: the concatenated
// start and end question vectors and, with sparse encoders, their sparse
// weights.
type QuestionEntry struct {
	QuestionID string        `json:"question_id"`
	Dense      []float64     `json:"dense"`
	Sparse     *SparseVector `json:"sparse,omitempty"`
}

// Validate checks that the entry carries a dense vector and a well-formed
// sparse part.
func (q *QuestionEntry) Validate() error {
	if len(q.Dense) == 0 {
		return fmt.Errorf("%w: empty dense vector", ErrShapeMismatch)
	}
	if q.Sparse != nil {
		return q.Sparse.Validate()
	}
	return nil
}
