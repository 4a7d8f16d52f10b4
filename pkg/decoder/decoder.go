// Package decoder implements the dual decoder, a training-time regulariser
// that reconstructs the question tokens from a span boundary vector.
package decoder

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/soundprediction/piqa/pkg/nn"
	"gonum.org/v1/gonum/mat"
)

// StartToken marks the learned start vector in a teacher-forced input
// sequence.
const StartToken = -1

var (
	// ErrAutoregressiveUnsupported is returned when the decoder is called
	// without teacher targets. Only teacher-forced decoding exists.
	ErrAutoregressiveUnsupported = errors.New("decoder: autoregressive decoding is not supported")

	// ErrHiddenSize is returned when the initial state width differs from the GRU width
	ErrHiddenSize = errors.New("decoder: initial state size mismatch")

	ErrEmptyTargets = errors.New("decoder: empty target sequence")

	// ErrTokenRange is returned when a target id has no row in the tied
	// embedding table.
	ErrTokenRange = errors.New("decoder: target id outside the embedding table")
)

// Decoder is a teacher-forced GRU whose output projection is tied to the
// word embedding matrix.
type Decoder struct {
	Embedding *mat.Dense // vocab x embed, shared with the word embedder
	GRU       *nn.GRU
	Dropout   nn.Dropout
	Proj      *nn.Linear
	Start     *mat.Dense // 1 x embed
}

// New builds a decoder over embedding (vocab x embed) with a GRU of width
// hidden.
func New(embedding *mat.Dense, hidden, numLayers int, dropout float64, rng *rand.Rand) *Decoder {
	_, embed := embedding.Dims()
	return &Decoder{
		Embedding: embedding,
		GRU:       nn.NewGRU(embed, hidden, numLayers, dropout, rng),
		Dropout:   nn.Dropout{P: dropout},
		Proj:      nn.NewLinear(hidden, embed, rng),
		Start:     nn.Normal(1, embed, rng),
	}
}

// ShiftRight returns the teacher-forced input ids for targets: the start
// token followed by every target but the last.
func ShiftRight(targets []int) []int {
	if len(targets) == 0 {
		return nil
	}
	out := make([]int, len(targets))
	out[0] = StartToken
	copy(out[1:], targets[:len(targets)-1])
	return out
}

func (d *Decoder) inputs(targets []int) *mat.Dense {
	ids := ShiftRight(targets)
	_, embed := d.Embedding.Dims()
	x := mat.NewDense(len(ids), embed, nil)
	for t, id := range ids {
		if id == StartToken {
			x.SetRow(t, d.Start.RawRowView(0))
			continue
		}
		x.SetRow(t, d.Embedding.RawRowView(id))
	}
	return x
}

// Forward returns next-token logits (len(targets) x vocab) for one example.
// init is the span boundary vector used as every layer's initial state.
func (d *Decoder) Forward(init []float64, targets []int, mode nn.Mode, rng *rand.Rand) (*mat.Dense, error) {
	if targets == nil {
		return nil, ErrAutoregressiveUnsupported
	}
	if len(init) != d.GRU.Hidden {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrHiddenSize, len(init), d.GRU.Hidden)
	}
	if len(targets) == 0 {
		return nil, ErrEmptyTargets
	}
	vocab, _ := d.Embedding.Dims()
	for t, id := range targets {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("%w: position %d id %d, vocab %d", ErrTokenRange, t, id, vocab)
		}
	}

	x := d.Dropout.ApplyDense(d.inputs(targets), mode, rng)
	out := d.GRU.Forward(x, init, mode, rng)
	out = d.Dropout.ApplyDense(out, mode, rng)
	proj := d.Proj.Forward(out)

	logits := mat.NewDense(len(targets), vocab, nil)
	logits.Mul(proj, d.Embedding.T())
	return logits, nil
}

// Register adds the decoder's own parameters. The tied embedding belongs to
// the word embedder and is not registered here.
func (d *Decoder) Register(prefix string, p nn.Params) {
	d.GRU.Register(prefix+".gru", p)
	d.Proj.Register(prefix+".proj", p)
	p.Add(prefix, "start", d.Start)
}
