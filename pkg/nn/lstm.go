package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LSTM is a single-direction long short-term memory layer with PyTorch gate
// layout (input, forget, cell, output).
type LSTM struct {
	Hidden int
	WIH    *mat.Dense // 4H x in
	WHH    *mat.Dense // 4H x H
	BIH    *mat.Dense // 1 x 4H
	BHH    *mat.Dense // 1 x 4H
}

func NewLSTM(in, hidden int, rng *rand.Rand) *LSTM {
	k := fanBound(hidden)
	return &LSTM{
		Hidden: hidden,
		WIH:    Uniform(4*hidden, in, k, rng),
		WHH:    Uniform(4*hidden, hidden, k, rng),
		BIH:    Uniform(1, 4*hidden, k, rng),
		BHH:    Uniform(1, 4*hidden, k, rng),
	}
}

// Run processes x (length x in) and returns the hidden state at every step
// (length x H). With reverse set the sequence is consumed back to front and
// the outputs are written at their original positions.
func (l *LSTM) Run(x *mat.Dense, reverse bool) *mat.Dense {
	n, _ := x.Dims()
	h := l.Hidden
	pre := mat.NewDense(n, 4*h, nil)
	pre.Mul(x, l.WIH.T())
	AddRowBias(pre, l.BIH.RawRowView(0))
	AddRowBias(pre, l.BHH.RawRowView(0))

	out := mat.NewDense(n, h, nil)
	state := make([]float64, h)
	cell := make([]float64, h)
	rec := mat.NewVecDense(4*h, nil)
	for step := 0; step < n; step++ {
		t := step
		if reverse {
			t = n - 1 - step
		}
		rec.MulVec(l.WHH, mat.NewVecDense(h, state))
		gates := pre.RawRowView(t)
		for j := 0; j < h; j++ {
			i := Sigmoid(gates[j] + rec.AtVec(j))
			f := Sigmoid(gates[h+j] + rec.AtVec(h+j))
			g := math.Tanh(gates[2*h+j] + rec.AtVec(2*h+j))
			o := Sigmoid(gates[3*h+j] + rec.AtVec(3*h+j))
			cell[j] = f*cell[j] + i*g
			state[j] = o * math.Tanh(cell[j])
		}
		out.SetRow(t, state)
	}
	return out
}

func (l *LSTM) Register(prefix string, p Params) {
	p.Add(prefix, "w_ih", l.WIH)
	p.Add(prefix, "w_hh", l.WHH)
	p.Add(prefix, "b_ih", l.BIH)
	p.Add(prefix, "b_hh", l.BHH)
}

// BiLSTM stacks bidirectional LSTM layers. Each layer concatenates the
// forward and backward states, so the output width is 2*hidden.
type BiLSTM struct {
	Hidden int
	Fwd    []*LSTM
	Bwd    []*LSTM
}

func NewBiLSTM(in, hidden, numLayers int, rng *rand.Rand) *BiLSTM {
	if numLayers < 1 {
		numLayers = 1
	}
	b := &BiLSTM{Hidden: hidden}
	for layer := 0; layer < numLayers; layer++ {
		width := in
		if layer > 0 {
			width = 2 * hidden
		}
		b.Fwd = append(b.Fwd, NewLSTM(width, hidden, rng))
		b.Bwd = append(b.Bwd, NewLSTM(width, hidden, rng))
	}
	return b
}

// Forward returns length x 2*hidden.
func (b *BiLSTM) Forward(x *mat.Dense) *mat.Dense {
	out := x
	for layer := range b.Fwd {
		out = Concat(b.Fwd[layer].Run(out, false), b.Bwd[layer].Run(out, true))
	}
	return out
}

func (b *BiLSTM) Register(prefix string, p Params) {
	for layer := range b.Fwd {
		b.Fwd[layer].Register(fmt.Sprintf("%s.l%d.fwd", prefix, layer), p)
		b.Bwd[layer].Register(fmt.Sprintf("%s.l%d.bwd", prefix, layer), p)
	}
}
