package utils

import (
	"math"
	"reflect"
	"testing"
)

func TestTopKIndicesByScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		scores []float64
		k      int
		want   []int
	}{
		{name: "empty", scores: nil, k: 3, want: nil},
		{name: "zero k", scores: []float64{1, 2}, k: 0, want: nil},
		{name: "k larger than input", scores: []float64{0.1, 0.9, 0.5}, k: 5, want: []int{1, 2, 0}},
		{name: "top two", scores: []float64{3, 1, 4, 1, 5}, k: 2, want: []int{4, 2}},
		{name: "ties keep input order", scores: []float64{2, 7, 7, 1, 7}, k: 2, want: []int{1, 2}},
		{name: "nan skipped", scores: []float64{math.NaN(), 1, 2}, k: 3, want: []int{2, 1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := TopKIndicesByScore(tt.scores, tt.k)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TopKIndicesByScore(%v, %d) = %v, want %v", tt.scores, tt.k, got, tt.want)
			}
		})
	}
}

func TestArgMax(t *testing.T) {
	t.Parallel()
	if got := ArgMax(nil); got != -1 {
		t.Errorf("ArgMax(nil) = %d, want -1", got)
	}
	if got := ArgMax([]float64{1, 3, 3, 2}); got != 1 {
		t.Errorf("ArgMax tie = %d, want 1", got)
	}
	if got := ArgMax([]float64{-5, -1, -3}); got != 1 {
		t.Errorf("ArgMax negatives = %d, want 1", got)
	}
}
