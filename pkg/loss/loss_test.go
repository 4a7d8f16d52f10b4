package loss

import (
	"math"
	"testing"

	"github.com/soundprediction/piqa/pkg/filter"
	"github.com/soundprediction/piqa/pkg/model"
	"github.com/soundprediction/piqa/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestDualCoefficientHalfLife(t *testing.T) {
	t.Parallel()
	l := New(Config{Dual: true, DualInit: 1.0, DualHL: 10})
	assert.Equal(t, 1.0, l.DualCoefficient(0))
	assert.Equal(t, 0.5, l.DualCoefficient(10))
	assert.Equal(t, 0.25, l.DualCoefficient(20))
	assert.InDelta(t, math.Pow(2, -0.5), l.DualCoefficient(5), 1e-15)
}

func TestCrossEntropy(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, math.Log(2), CrossEntropy([]float64{0, 0}, 1), 1e-12)
	// A masked position is effectively impossible.
	assert.InDelta(t, 0, CrossEntropy([]float64{-1e9, 3}, 1), 1e-12)
}

func TestSequenceCrossEntropy(t *testing.T) {
	t.Parallel()
	logits := mat.NewDense(2, 3, []float64{
		0, 0, 0,
		10, 0, 0,
	})
	got, err := SequenceCrossEntropy(logits, []int{2, 0})
	require.NoError(t, err)
	want := (math.Log(3) + CrossEntropy([]float64{10, 0, 0}, 0)) / 2
	assert.InDelta(t, want, got, 1e-12)
}

func TestSequenceCrossEntropyRejectsBadTargets(t *testing.T) {
	t.Parallel()
	logits := mat.NewDense(2, 3, nil)
	tests := []struct {
		name    string
		targets []int
		want    error
	}{
		{"id past vocab", []int{40, 1}, ErrTargetRange},
		{"negative id", []int{0, -1}, ErrTargetRange},
		{"short targets", []int{1}, ErrBatchSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			assert.NotPanics(t, func() {
				_, err = SequenceCrossEntropy(logits, tt.targets)
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFilterBCEWeightsGoldCell(t *testing.T) {
	t.Parallel()
	logits := mat.NewDense(2, 2, nil)
	got := FilterBCE(logits, types.Span{Start: 0, End: 1})
	// Every cell has logit 0, so each unweighted term is log 2 and the gold
	// cell counts 4 times.
	assert.InDelta(t, (4+3)*math.Log(2)/4, got, 1e-12)
}

func TestBCEWithLogitsStable(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0, bceWithLogits(1000, 1), 1e-12)
	assert.InDelta(t, 1000, bceWithLogits(1000, 0), 1e-9)
	assert.False(t, math.IsInf(bceWithLogits(-1000, 1), 0))
}

func TestComputeSpanOnly(t *testing.T) {
	l := New(Config{})
	outputs := []model.Output{
		{Logits1: []float64{0, 0}, Logits2: []float64{0, 0}},
		{Logits1: []float64{0, 0, 0}, Logits2: []float64{0, 0, 0}},
	}
	b, err := l.Compute(outputs, []types.Span{{Start: 0, End: 1}, {Start: 2, End: 2}}, 0)
	require.NoError(t, err)
	want := (2*math.Log(2) + 2*math.Log(3)) / 2
	assert.InDelta(t, want, b.Span, 1e-12)
	assert.Equal(t, b.Span, b.Total)
	assert.Zero(t, b.DualCoefficient)
}

func TestComputeAllTerms(t *testing.T) {
	l := New(Config{Dual: true, DualInit: 1, DualHL: 10, PhraseFilter: true, FilterInit: 2})
	res := filter.Result{Logits: mat.NewDense(2, 2, nil)}
	out := model.Output{
		Logits1:        []float64{0, 0},
		Logits2:        []float64{0, 0},
		Filter:         &res,
		QuestionIDs:    []int{1, 0},
		DecoderLogits1: mat.NewDense(2, 2, nil),
		DecoderLogits2: mat.NewDense(2, 2, nil),
	}
	b, err := l.Compute([]model.Output{out}, []types.Span{{Start: 0, End: 1}}, 10)
	require.NoError(t, err)

	assert.InDelta(t, 2*math.Log(2), b.Span, 1e-12)
	assert.InDelta(t, 7*math.Log(2)/4, b.Filter, 1e-12)
	assert.InDelta(t, 2*math.Log(2), b.Decoder, 1e-12)
	assert.Equal(t, 0.5, b.DualCoefficient)
	assert.InDelta(t, b.Span+2*b.Filter+0.5*b.Decoder, b.Total, 1e-12)
}

func TestComputeErrors(t *testing.T) {
	out := model.Output{Logits1: []float64{0, 0}, Logits2: []float64{0, 0}}
	tests := []struct {
		name    string
		cfg     Config
		targets []types.Span
		wantErr error
	}{
		{"no targets", Config{}, nil, ErrMissingTargets},
		{"batch size", Config{}, []types.Span{{Start: 0, End: 0}, {Start: 1, End: 1}}, ErrBatchSize},
		{"range", Config{}, []types.Span{{Start: 0, End: 2}}, ErrTargetRange},
		{"filter logits", Config{PhraseFilter: true}, []types.Span{{Start: 0, End: 1}}, ErrMissingTargets},
		{"decoder logits", Config{Dual: true, DualHL: 1}, []types.Span{{Start: 0, End: 1}}, ErrMissingTargets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg).Compute([]model.Output{out}, tt.targets, 0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestComputeDecoderTargetOutsideVocab(t *testing.T) {
	l := New(Config{Dual: true, DualInit: 1, DualHL: 10})
	out := model.Output{
		Logits1:        []float64{0, 0},
		Logits2:        []float64{0, 0},
		QuestionIDs:    []int{1, 7},
		DecoderLogits1: mat.NewDense(2, 2, nil),
		DecoderLogits2: mat.NewDense(2, 2, nil),
	}
	var err error
	assert.NotPanics(t, func() {
		_, err = l.Compute([]model.Output{out}, []types.Span{{Start: 0, End: 1}}, 0)
	})
	assert.ErrorIs(t, err, ErrTargetRange)
}

func TestFromModel(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Dual = true
	c := FromModel(cfg)
	assert.True(t, c.Dual)
	assert.Equal(t, cfg.DualHL, c.DualHL)
	assert.Equal(t, cfg.FilterInit, c.FilterInit)
}
