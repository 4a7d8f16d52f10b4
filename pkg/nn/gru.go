package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// GRUCell holds one GRU layer with PyTorch gate layout (reset, update, new).
type GRUCell struct {
	Hidden int
	WIH    *mat.Dense // 3H x in
	WHH    *mat.Dense // 3H x H
	BIH    *mat.Dense // 1 x 3H
	BHH    *mat.Dense // 1 x 3H
}

func NewGRUCell(in, hidden int, rng *rand.Rand) *GRUCell {
	k := fanBound(hidden)
	return &GRUCell{
		Hidden: hidden,
		WIH:    Uniform(3*hidden, in, k, rng),
		WHH:    Uniform(3*hidden, hidden, k, rng),
		BIH:    Uniform(1, 3*hidden, k, rng),
		BHH:    Uniform(1, 3*hidden, k, rng),
	}
}

// Run consumes x (length x in) from the initial state h0 and returns every
// hidden state (length x H).
func (c *GRUCell) Run(x *mat.Dense, h0 []float64) *mat.Dense {
	n, _ := x.Dims()
	h := c.Hidden
	pre := mat.NewDense(n, 3*h, nil)
	pre.Mul(x, c.WIH.T())
	AddRowBias(pre, c.BIH.RawRowView(0))

	bhh := c.BHH.RawRowView(0)
	out := mat.NewDense(n, h, nil)
	state := make([]float64, h)
	copy(state, h0)
	rec := mat.NewVecDense(3*h, nil)
	for t := 0; t < n; t++ {
		rec.MulVec(c.WHH, mat.NewVecDense(h, state))
		gi := pre.RawRowView(t)
		next := make([]float64, h)
		for j := 0; j < h; j++ {
			r := Sigmoid(gi[j] + rec.AtVec(j) + bhh[j])
			z := Sigmoid(gi[h+j] + rec.AtVec(h+j) + bhh[h+j])
			cand := math.Tanh(gi[2*h+j] + r*(rec.AtVec(2*h+j)+bhh[2*h+j]))
			next[j] = (1-z)*cand + z*state[j]
		}
		state = next
		out.SetRow(t, state)
	}
	return out
}

func (c *GRUCell) Register(prefix string, p Params) {
	p.Add(prefix, "w_ih", c.WIH)
	p.Add(prefix, "w_hh", c.WHH)
	p.Add(prefix, "b_ih", c.BIH)
	p.Add(prefix, "b_hh", c.BHH)
}

// GRU stacks GRU layers with dropout between layers (never after the last).
type GRU struct {
	Hidden  int
	Layers  []*GRUCell
	Dropout Dropout
}

func NewGRU(in, hidden, numLayers int, dropout float64, rng *rand.Rand) *GRU {
	if numLayers < 1 {
		numLayers = 1
	}
	g := &GRU{Hidden: hidden}
	if numLayers > 1 {
		g.Dropout = Dropout{P: dropout}
	}
	for layer := 0; layer < numLayers; layer++ {
		width := in
		if layer > 0 {
			width = hidden
		}
		g.Layers = append(g.Layers, NewGRUCell(width, hidden, rng))
	}
	return g
}

// Forward runs every layer from the same initial state h0 and returns the
// top layer's states.
func (g *GRU) Forward(x *mat.Dense, h0 []float64, mode Mode, rng *rand.Rand) *mat.Dense {
	out := x
	for i, layer := range g.Layers {
		if i > 0 {
			out = g.Dropout.ApplyDense(out, mode, rng)
		}
		out = layer.Run(out, h0)
	}
	return out
}

func (g *GRU) Register(prefix string, p Params) {
	for i, layer := range g.Layers {
		layer.Register(fmt.Sprintf("%s.l%d", prefix, i), p)
	}
}
