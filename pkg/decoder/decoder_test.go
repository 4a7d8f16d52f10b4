package decoder

import (
	"math/rand"
	"testing"

	"github.com/soundprediction/piqa/pkg/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	emb := nn.Normal(10, 4, rng)
	return New(emb, 6, 1, 0.0, rng)
}

func TestShiftRight(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		targets []int
		want    []int
	}{
		{"three", []int{5, 6, 7}, []int{StartToken, 5, 6}},
		{"single", []int{9}, []int{StartToken}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShiftRight(tt.targets))
		})
	}
}

func TestForwardShapes(t *testing.T) {
	d := newTestDecoder(t)
	init := make([]float64, 6)
	logits, err := d.Forward(init, []int{2, 3, 4}, nn.Eval, nil)
	require.NoError(t, err)
	r, c := logits.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 10, c)
}

func TestForwardTeacherForcing(t *testing.T) {
	// The first step only sees the start vector, so changing later targets
	// must leave row 0 untouched while row 1 changes.
	d := newTestDecoder(t)
	init := []float64{0.1, -0.2, 0.3, 0, 0.5, -0.1}

	a, err := d.Forward(init, []int{2, 3, 4}, nn.Eval, nil)
	require.NoError(t, err)
	b, err := d.Forward(init, []int{7, 3, 4}, nn.Eval, nil)
	require.NoError(t, err)

	assert.InDeltaSlice(t, a.RawRowView(0), b.RawRowView(0), 1e-12)
	assert.NotEqual(t, a.RawRowView(1), b.RawRowView(1))
}

func TestForwardTiedWeights(t *testing.T) {
	d := newTestDecoder(t)
	init := make([]float64, 6)
	before, err := d.Forward(init, []int{1}, nn.Eval, nil)
	require.NoError(t, err)

	d.Embedding.Scale(2, d.Embedding)
	after, err := d.Forward(init, []int{1}, nn.Eval, nil)
	require.NoError(t, err)

	want := mat.DenseCopyOf(before)
	want.Scale(2, want)
	assert.InDeltaSlice(t, want.RawRowView(0), after.RawRowView(0), 1e-9)
}

func TestForwardErrors(t *testing.T) {
	d := newTestDecoder(t)

	_, err := d.Forward(make([]float64, 6), nil, nn.Eval, nil)
	assert.ErrorIs(t, err, ErrAutoregressiveUnsupported)

	_, err = d.Forward(make([]float64, 5), []int{1}, nn.Eval, nil)
	assert.ErrorIs(t, err, ErrHiddenSize)

	_, err = d.Forward(make([]float64, 6), []int{}, nn.Eval, nil)
	assert.ErrorIs(t, err, ErrEmptyTargets)
}

func TestForwardRejectsIDsOutsideTable(t *testing.T) {
	d := newTestDecoder(t)
	init := make([]float64, 6)

	for _, targets := range [][]int{{40, 5}, {3, 10}, {-2}} {
		var err error
		assert.NotPanics(t, func() {
			_, err = d.Forward(init, targets, nn.Eval, nil)
		})
		assert.ErrorIs(t, err, ErrTokenRange, "%v", targets)
	}

	_, err := d.Forward(init, []int{0, 9}, nn.Eval, nil)
	assert.NoError(t, err)
}

func TestRegister(t *testing.T) {
	d := newTestDecoder(t)
	p := nn.Params{}
	d.Register("decoder", p)
	assert.Contains(t, p.Names(), "decoder.start")
	assert.Contains(t, p.Names(), "decoder.proj.weight")
	assert.Contains(t, p.Names(), "decoder.gru.l0.w_ih")
	assert.Len(t, p, 7)
}
