package filter

import (
	"math/rand"
	"testing"

	"github.com/soundprediction/piqa/pkg/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestPhraseFilterForward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	f := New(6, 0.1, rng)
	x1 := nn.Normal(4, 6, rng)
	x2 := nn.Normal(4, 6, rng)

	res := f.Forward(x1, x2, nn.Eval, nil)
	r, c := res.Logits.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 4, c)

	assert.InDelta(t, 1.0, floats.Sum(res.SoftmaxProb.RawMatrix().Data), 1e-9)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.InDelta(t, nn.Sigmoid(res.Logits.At(i, j)), res.SigmoidProb.At(i, j), 1e-12)
		}
	}

	again := f.Forward(x1, x2, nn.Eval, nil)
	assert.True(t, mat.Equal(res.Logits, again.Logits), "eval forward is deterministic")
}

func fixedResult() Result {
	sig := mat.NewDense(2, 2, []float64{0.9, 0.2, 0.5, 0.6})
	return Result{SigmoidProb: sig}
}

func TestGate(t *testing.T) {
	t.Run("train is soft", func(t *testing.T) {
		prob := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
		Gate(prob, fixedResult(), nn.Train, 0.5)
		assert.Equal(t, []float64{0.9, 0.2, 0.5, 0.6}, prob.RawMatrix().Data)
	})

	t.Run("eval is hard", func(t *testing.T) {
		prob := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
		Gate(prob, fixedResult(), nn.Eval, 0.5)
		assert.Equal(t, []float64{1, 0, 1, 1}, prob.RawMatrix().Data)
	})

	t.Run("hard gate is idempotent", func(t *testing.T) {
		once := mat.NewDense(2, 2, []float64{0.3, 0.1, 0.4, 0.2})
		Gate(once, fixedResult(), nn.Eval, 0.55)
		twice := mat.DenseCopyOf(once)
		Gate(twice, fixedResult(), nn.Eval, 0.55)
		assert.True(t, mat.Equal(once, twice))
	})
}

func TestKeep(t *testing.T) {
	t.Parallel()
	assert.True(t, Keep(0.5, 0.5))
	assert.False(t, Keep(0.49, 0.5))
	assert.True(t, Keep(0.1, 0))
}

func TestDensity(t *testing.T) {
	t.Parallel()
	got := Density(fixedResult(), 2, 0.25, 0.5, 0.75)
	assert.Equal(t, []float64{1.5, 1, 0.5}, got)
	assert.Equal(t, []float64{0}, Density(fixedResult(), 0, 0.5))
}

func TestRegister(t *testing.T) {
	p := nn.Params{}
	New(3, 0, rand.New(rand.NewSource(1))).Register("phrase_filter_model", p)
	assert.Len(t, p, 8)
	assert.Contains(t, p, "phrase_filter_model.linear22.bias")
}
