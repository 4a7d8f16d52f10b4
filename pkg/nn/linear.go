package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear is an affine map y = x W^T + b.
type Linear struct {
	W *mat.Dense // out x in
	B *mat.Dense // 1 x out
}

// NewLinear initialises weights and bias from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	k := fanBound(in)
	return &Linear{
		W: Uniform(out, in, k, rng),
		B: Uniform(1, out, k, rng),
	}
}

// In returns the input width.
func (l *Linear) In() int {
	_, c := l.W.Dims()
	return c
}

// Out returns the output width.
func (l *Linear) Out() int {
	r, _ := l.W.Dims()
	return r
}

// Forward maps every row of x.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, l.Out(), nil)
	out.Mul(x, l.W.T())
	AddRowBias(out, l.B.RawRowView(0))
	return out
}

func (l *Linear) Register(prefix string, p Params) {
	p.Add(prefix, "weight", l.W)
	p.Add(prefix, "bias", l.B)
}
