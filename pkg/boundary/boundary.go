package boundary

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/soundprediction/piqa/pkg/nn"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Options configures a boundary encoder.
type Options struct {
	InputSize        int
	HiddenSize       int
	Dropout          float64
	NumHeads         int
	Identity         bool
	NumLayers        int
	Normalize        bool
	Sparse           bool
	SparseActivation Activation
}

func (o Options) validate() error {
	if o.InputSize <= 0 || o.HiddenSize <= 0 || o.NumHeads <= 0 {
		return fmt.Errorf("%w: input=%d hidden=%d heads=%d", ErrInvalidOptions, o.InputSize, o.HiddenSize, o.NumHeads)
	}
	if o.Dropout < 0 || o.Dropout >= 1 {
		return fmt.Errorf("%w: dropout %v", ErrInvalidOptions, o.Dropout)
	}
	return nil
}

// DenseSize is the width of a boundary vector: every head, identity
// included, contributes 2*hidden.
func DenseSize(hidden, numHeads int) int {
	return 2 * hidden * numHeads
}

// Result is the per-position output of a ContextBoundary. Sparse, Key and
// Query are nil when the encoder has no sparse module.
type Result struct {
	Dense  *mat.Dense // length x DenseSize
	Sparse *mat.Dense // length x length
	Key    *mat.Dense
	Query  *mat.Dense
}

// HasSparse reports whether the sparse fields are populated.
func (r Result) HasSparse() bool {
	return r.Sparse != nil
}

// ContextBoundary encodes every position of a sequence.
type ContextBoundary struct {
	Dropout   nn.Dropout
	LSTM      *nn.BiLSTM
	Identity  bool
	Heads     []*SelfSeqAtt
	Sparse    *SelfSeqSparse
	Normalize bool
}

// NewContextBoundary builds the encoder. With Identity set the raw LSTM
// output counts as one of the NumHeads heads.
func NewContextBoundary(opts Options, rng *rand.Rand) (*ContextBoundary, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	b := &ContextBoundary{
		Dropout:   nn.Dropout{P: opts.Dropout},
		LSTM:      nn.NewBiLSTM(opts.InputSize, opts.HiddenSize, opts.NumLayers, rng),
		Identity:  opts.Identity,
		Normalize: opts.Normalize,
	}
	heads := opts.NumHeads
	if opts.Identity {
		heads--
	}
	for i := 0; i < heads; i++ {
		b.Heads = append(b.Heads, NewSelfSeqAtt(2*opts.HiddenSize, opts.HiddenSize, opts.Dropout, rng))
	}
	if opts.Sparse {
		s, err := NewSelfSeqSparse(2*opts.HiddenSize, opts.HiddenSize, opts.Dropout, opts.SparseActivation, rng)
		if err != nil {
			return nil, err
		}
		b.Sparse = s
	}
	return b, nil
}

// Forward encodes x (length x input) under the additive mask.
func (b *ContextBoundary) Forward(x *mat.Dense, mask []float64, mode nn.Mode, rng *rand.Rand) Result {
	h := b.LSTM.Forward(b.Dropout.ApplyDense(x, mode, rng))

	var atts []*mat.Dense
	if b.Identity {
		atts = append(atts, h)
	}
	for _, head := range b.Heads {
		atts = append(atts, head.Forward(h, mask, mode, rng))
	}
	res := Result{Dense: nn.Concat(atts...)}

	if b.Sparse != nil {
		s := b.Sparse.Forward(h, mask, mode, rng)
		res.Sparse, res.Key, res.Query = s.Value, s.Key, s.Query
	}

	if b.Normalize {
		n, _ := res.Dense.Dims()
		for i := 0; i < n; i++ {
			var sparse []float64
			if res.Sparse != nil {
				sparse = res.Sparse.RawRowView(i)
			}
			NormalizeRow(res.Dense.RawRowView(i), sparse)
		}
	}
	return res
}

func (b *ContextBoundary) Register(prefix string, p nn.Params) {
	b.LSTM.Register(prefix+".lstm", p)
	for i, head := range b.Heads {
		head.Register(fmt.Sprintf("%s.self_att%d", prefix, i), p)
	}
	if b.Sparse != nil {
		b.Sparse.Register(prefix+".sparse", p)
	}
}

// BlendedNorm combines a dense and a sparse magnitude into one divisor.
//
// NOTE: this is (d^d + s^s)^(1/2), each magnitude raised to the power of
// itself, not the conventional sqrt(d^2 + s^2). It reproduces the trained
// models exactly and must not be replaced by an L2 blend without
// re-validating against them.
func BlendedNorm(denseNorm, sparseNorm float64) float64 {
	return math.Sqrt(math.Pow(denseNorm, denseNorm) + math.Pow(sparseNorm, sparseNorm))
}

// NormalizeRow rescales one dense vector (and its sparse companion, if any)
// in place. Without a sparse part the dense vector ends with norm 1/sqrt(2).
func NormalizeRow(dense, sparse []float64) {
	denseNorm := math.Sqrt2 * floats.Norm(dense, 2)
	norm := denseNorm
	if sparse != nil {
		norm = BlendedNorm(denseNorm, floats.Norm(sparse, 2))
		if norm != 0 {
			floats.Scale(1/norm, sparse)
		}
	}
	if norm != 0 {
		floats.Scale(1/norm, dense)
	}
}
