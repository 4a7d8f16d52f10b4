package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Mode selects train or inference behaviour for a forward pass.
type Mode int

const (
	// Eval disables dropout and applies hard thresholds.
	Eval Mode = iota
	// Train enables dropout and soft gating.
	Train
)

func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "eval"
}

// Dropout zeroes activations with probability P in Train mode and rescales
// the survivors by 1/(1-P). In Eval mode it returns its input unchanged.
type Dropout struct {
	P float64
}

// Apply returns a dropped-out copy of x in Train mode, or x itself in Eval.
// rng may be nil in Eval mode.
func (d Dropout) Apply(x []float64, mode Mode, rng *rand.Rand) []float64 {
	if mode != Train || d.P <= 0 {
		return x
	}
	keep := 1 - d.P
	out := make([]float64, len(x))
	for i, v := range x {
		if rng.Float64() < keep {
			out[i] = v / keep
		}
	}
	return out
}

// ApplyDense is Apply for a length x dim sequence.
func (d Dropout) ApplyDense(x *mat.Dense, mode Mode, rng *rand.Rand) *mat.Dense {
	if mode != Train || d.P <= 0 {
		return x
	}
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		out.SetRow(i, d.Apply(x.RawRowView(i), mode, rng))
	}
	return out
}
