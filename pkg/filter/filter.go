// Package filter implements the phrase filter: a question-independent
// bilinear classifier scoring every (start, end) pair of a context as a
// plausible answer phrase.
package filter

import (
	"math/rand"

	"github.com/soundprediction/piqa/pkg/nn"
	"gonum.org/v1/gonum/mat"
)

// Result holds the three views of the pairwise filter scores, each
// length x length. SoftmaxProb is a joint distribution over the whole grid
// and is only an auxiliary signal; thresholding uses SigmoidProb.
type Result struct {
	Logits      *mat.Dense
	SigmoidProb *mat.Dense
	SoftmaxProb *mat.Dense
}

// PhraseFilter projects start and end vectors through independent two-layer
// towers and scores every pair by inner product.
type PhraseFilter struct {
	Dropout  nn.Dropout
	Linear11 *nn.Linear
	Linear12 *nn.Linear
	Linear21 *nn.Linear
	Linear22 *nn.Linear
}

func New(hidden int, dropout float64, rng *rand.Rand) *PhraseFilter {
	return &PhraseFilter{
		Dropout:  nn.Dropout{P: dropout},
		Linear11: nn.NewLinear(hidden, hidden, rng),
		Linear21: nn.NewLinear(hidden, hidden, rng),
		Linear12: nn.NewLinear(hidden, hidden, rng),
		Linear22: nn.NewLinear(hidden, hidden, rng),
	}
}

func (f *PhraseFilter) tower(x *mat.Dense, first, second *nn.Linear, mode nn.Mode, rng *rand.Rand) *mat.Dense {
	h := first.Forward(f.Dropout.ApplyDense(x, mode, rng))
	nn.ApplyDense(h, nn.ReLU)
	return second.Forward(h)
}

// Forward scores x1 (start vectors) against x2 (end vectors).
func (f *PhraseFilter) Forward(x1, x2 *mat.Dense, mode nn.Mode, rng *rand.Rand) Result {
	a := f.tower(x1, f.Linear11, f.Linear12, mode, rng)
	b := f.tower(x2, f.Linear21, f.Linear22, mode, rng)

	n, _ := a.Dims()
	m, _ := b.Dims()
	logits := mat.NewDense(n, m, nil)
	logits.Mul(a, b.T())

	sig := mat.DenseCopyOf(logits)
	nn.ApplyDense(sig, nn.Sigmoid)

	flat := nn.Softmax(mat.DenseCopyOf(logits).RawMatrix().Data)
	soft := mat.NewDense(n, m, flat)

	return Result{Logits: logits, SigmoidProb: sig, SoftmaxProb: soft}
}

func (f *PhraseFilter) Register(prefix string, p nn.Params) {
	f.Linear11.Register(prefix+".linear11", p)
	f.Linear12.Register(prefix+".linear12", p)
	f.Linear21.Register(prefix+".linear21", p)
	f.Linear22.Register(prefix+".linear22", p)
}

// Keep reports whether a span with sigmoid probability p survives the
// inference threshold.
func Keep(p, threshold float64) bool {
	return p >= threshold
}

// Gate multiplies the joint span probability by the filter: element-wise by
// the sigmoid probability in Train mode, by the 0/1 threshold indicator in
// Eval mode. prob is modified in place.
func Gate(prob *mat.Dense, res Result, mode nn.Mode, threshold float64) {
	prob.Apply(func(i, j int, v float64) float64 {
		p := res.SigmoidProb.At(i, j)
		if mode == nn.Train {
			return v * p
		}
		if Keep(p, threshold) {
			return v
		}
		return 0
	}, prob)
}

// Density returns, for each threshold, the number of cells whose sigmoid
// probability exceeds it divided by the context length.
func Density(res Result, length int, thresholds ...float64) []float64 {
	out := make([]float64, len(thresholds))
	if length == 0 {
		return out
	}
	r, c := res.SigmoidProb.Dims()
	for k, th := range thresholds {
		count := 0
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if res.SigmoidProb.At(i, j) > th {
					count++
				}
			}
		}
		out[k] = float64(count) / float64(length)
	}
	return out
}
