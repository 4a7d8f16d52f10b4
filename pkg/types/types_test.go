package types

import (
	"encoding/json"
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSpanWithin(t *testing.T) {
	tests := []struct {
		name   string
		span   Span
		maxLen int
		want   bool
	}{
		{name: "single token", span: Span{3, 3}, maxLen: 1, want: true},
		{name: "at limit", span: Span{0, 6}, maxLen: 7, want: true},
		{name: "past limit", span: Span{0, 7}, maxLen: 7, want: false},
		{name: "reversed", span: Span{4, 2}, maxLen: 7, want: false},
		{name: "negative start", span: Span{-1, 0}, maxLen: 7, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.span.Within(tt.maxLen); got != tt.want {
				t.Errorf("Span.Within() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSparseIndex(t *testing.T) {
	if got := SparseIndex(17, false); got != 17 {
		t.Errorf("start index = %d, want 17", got)
	}
	if got := SparseIndex(17, true); got != 400019 {
		t.Errorf("end index = %d, want 400019", got)
	}
	if SparseVocabSize != 800004 {
		t.Errorf("SparseVocabSize = %d, want 800004", SparseVocabSize)
	}
}

func TestSparseVectorValidate(t *testing.T) {
	tests := []struct {
		name    string
		vec     SparseVector
		wantErr error
	}{
		{
			name:    "valid",
			vec:     SparseVector{Indices: []int{1, 400003}, Values: []float64{0.5, 0.2}, VocabSize: SparseVocabSize},
			wantErr: nil,
		},
		{
			name:    "length mismatch",
			vec:     SparseVector{Indices: []int{1}, Values: []float64{0.5, 0.2}, VocabSize: SparseVocabSize},
			wantErr: ErrSparseMismatch,
		},
		{
			name:    "out of range",
			vec:     SparseVector{Indices: []int{SparseVocabSize}, Values: []float64{1}, VocabSize: SparseVocabSize},
			wantErr: ErrShapeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vec.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SparseVector.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSparseVectorDot(t *testing.T) {
	a := SparseVector{Indices: []int{1, 2, 2}, Values: []float64{1, 2, 3}, VocabSize: 10}
	b := SparseVector{Indices: []int{2, 5}, Values: []float64{4, 7}, VocabSize: 10}
	if got := a.Dot(b); got != 20 {
		t.Errorf("Dot() = %v, want 20", got)
	}
}

func TestIndexEntryValidate(t *testing.T) {
	spans := []Span{{0, 0}, {0, 1}}
	tests := []struct {
		name    string
		entry   IndexEntry
		wantErr error
	}{
		{
			name:    "valid",
			entry:   IndexEntry{Spans: spans, Dense: mat.NewDense(2, 3, nil), FilterScores: []float64{0.4, 0.9}},
			wantErr: nil,
		},
		{
			name:    "empty",
			entry:   IndexEntry{},
			wantErr: nil,
		},
		{
			name:    "dense rows",
			entry:   IndexEntry{Spans: spans, Dense: mat.NewDense(1, 3, nil)},
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "missing dense",
			entry:   IndexEntry{Spans: spans},
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "filter scores",
			entry:   IndexEntry{Spans: spans, Dense: mat.NewDense(2, 3, nil), FilterScores: []float64{1}},
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "reversed span",
			entry:   IndexEntry{Spans: []Span{{2, 1}}, Dense: mat.NewDense(1, 3, nil)},
			wantErr: ErrInvalidSpan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("IndexEntry.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuestionEntryJSON(t *testing.T) {
	q := QuestionEntry{
		QuestionID: "q1",
		Dense:      []float64{0.1, 0.2},
		Sparse:     &SparseVector{Indices: []int{3, 400005}, Values: []float64{1, 1}, VocabSize: SparseVocabSize},
	}
	if err := q.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got["question_id"] != "q1" {
		t.Errorf("question_id = %v, want q1", got["question_id"])
	}
	if _, ok := got["sparse"]; !ok {
		t.Error("sparse field missing from JSON")
	}

	empty := QuestionEntry{QuestionID: "q2"}
	if err := empty.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Validate() on empty dense error = %v, want %v", err, ErrShapeMismatch)
	}
}
