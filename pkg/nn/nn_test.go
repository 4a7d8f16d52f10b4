package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestMaskFromIDs(t *testing.T) {
	t.Parallel()
	mask := MaskFromIDs([]int{5, 9, 0, 0})
	assert.Equal(t, []float64{0, 0, MaskBias, MaskBias}, mask)
	assert.True(t, Valid(mask[0]))
	assert.False(t, Valid(mask[2]))
	assert.Equal(t, 2, ValidLength([]int{5, 9, 0, 0}))
}

func TestSoftmax(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []float64
	}{
		{name: "uniform", in: []float64{1, 1, 1, 1}},
		{name: "peaked", in: []float64{10, 0, -3}},
		{name: "masked", in: []float64{2, 1, MaskBias}},
		{name: "empty", in: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Softmax(tt.in)
			require.Len(t, p, len(tt.in))
			if len(p) > 0 {
				assert.InDelta(t, 1.0, floats.Sum(p), 1e-12)
			}
		})
	}

	p := Softmax([]float64{2, 1, MaskBias})
	assert.Equal(t, 0.0, p[2])
}

func TestLogSoftmaxMatchesSoftmax(t *testing.T) {
	t.Parallel()
	v := []float64{0.3, -1.2, 2.5}
	p := Softmax(v)
	lp := LogSoftmax(v)
	for i := range v {
		assert.InDelta(t, math.Log(p[i]), lp[i], 1e-12)
	}
}

func TestArgMax(t *testing.T) {
	t.Parallel()
	v := []float64{0.1, 0.9, 0.9, 0.5}
	assert.Equal(t, 1, ArgMax(v, nil), "ties resolve to the lowest index")
	assert.Equal(t, 3, ArgMax(v, func(i int) bool { return i == 0 || i == 3 }))
	assert.Equal(t, -1, ArgMax(v, func(int) bool { return false }))
}

func TestConcat(t *testing.T) {
	t.Parallel()
	a := mat.NewDense(2, 1, []float64{1, 2})
	b := mat.NewDense(2, 2, []float64{3, 4, 5, 6})
	got := Concat(a, b)
	assert.Equal(t, []float64{1, 3, 4}, got.RawRowView(0))
	assert.Equal(t, []float64{2, 5, 6}, got.RawRowView(1))
}

func TestDropout(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := []float64{1, 2, 3, 4}

	t.Run("eval is identity", func(t *testing.T) {
		assert.Equal(t, x, Dropout{P: 0.5}.Apply(x, Eval, nil))
	})

	t.Run("train zeroes or rescales", func(t *testing.T) {
		out := Dropout{P: 0.5}.Apply(x, Train, rng)
		for i, v := range out {
			if v != 0 {
				assert.InDelta(t, x[i]*2, v, 1e-12)
			}
		}
	})
}

func TestLinearForward(t *testing.T) {
	t.Parallel()
	l := &Linear{
		W: mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 1}),
		B: mat.NewDense(1, 2, []float64{0.5, -1}),
	}
	out := l.Forward(mat.NewDense(1, 3, []float64{2, 3, 4}))
	assert.Equal(t, []float64{2.5, 6}, out.RawRowView(0))
	assert.Equal(t, 3, l.In())
	assert.Equal(t, 2, l.Out())
}

func TestBiLSTMShapes(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	b := NewBiLSTM(4, 3, 2, rng)
	x := Normal(5, 4, rng)
	out := b.Forward(x)
	r, c := out.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 6, c)
	for i := 0; i < r; i++ {
		for _, v := range out.RawRowView(i) {
			assert.True(t, v > -1 && v < 1, "lstm states are bounded by tanh")
		}
	}

	params := Params{}
	b.Register("enc", params)
	assert.Len(t, params, 16)
	assert.Contains(t, params, "enc.l1.bwd.w_ih")
}

func TestLSTMReverseDependsOnFuture(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(3))
	l := NewLSTM(2, 2, rng)
	x := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	y := mat.DenseCopyOf(x)
	y.Set(2, 0, -5)

	fwdX, fwdY := l.Run(x, false), l.Run(y, false)
	assert.Equal(t, fwdX.RawRowView(0), fwdY.RawRowView(0), "forward state at t=0 ignores t=2")

	bwdX, bwdY := l.Run(x, true), l.Run(y, true)
	assert.NotEqual(t, bwdX.RawRowView(0), bwdY.RawRowView(0), "backward state at t=0 sees t=2")
}

func TestGRUInitialState(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(11))
	g := NewGRU(3, 4, 2, 0.1, rng)
	x := Normal(2, 3, rng)
	a := g.Forward(x, []float64{0, 0, 0, 0}, Eval, nil)
	b := g.Forward(x, []float64{1, 1, 1, 1}, Eval, nil)
	r, c := a.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 4, c)
	assert.NotEqual(t, a.RawRowView(0), b.RawRowView(0))
}

func TestParamsLoad(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(5))
	l := NewLinear(2, 2, rng)
	p := Params{}
	l.Register("proj", p)
	assert.Equal(t, []string{"proj.bias", "proj.weight"}, p.Names())
	assert.Equal(t, 6, p.Count())

	src := map[string]*mat.Dense{
		"proj.weight": mat.NewDense(2, 2, []float64{1, 2, 3, 4}),
		"proj.bias":   mat.NewDense(1, 2, []float64{5, 6}),
	}
	require.NoError(t, p.Load(src))
	assert.Equal(t, 4.0, l.W.At(1, 1))

	delete(src, "proj.bias")
	assert.Error(t, p.Load(src))

	src["proj.bias"] = mat.NewDense(1, 3, nil)
	assert.Error(t, p.Load(src))
}
