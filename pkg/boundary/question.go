package boundary

import (
	"math/rand"

	"github.com/soundprediction/piqa/pkg/nn"
	"gonum.org/v1/gonum/mat"
)

// QuestionResult holds one pooled boundary vector per question. Sparse is
// nil without a sparse module; otherwise it has one weight per question
// token.
type QuestionResult struct {
	Dense  []float64
	Sparse []float64
}

// QuestionBoundary pools a ContextBoundary representation into one vector,
// by max-pooling over valid positions or by reading the first valid
// position.
type QuestionBoundary struct {
	Encoder   *ContextBoundary
	MaxPool   bool
	Normalize bool
}

// NewQuestionBoundary builds the encoder. Identity is always off and the
// normalisation runs after pooling.
func NewQuestionBoundary(opts Options, maxPool bool, rng *rand.Rand) (*QuestionBoundary, error) {
	normalize := opts.Normalize
	opts.Identity = false
	opts.Normalize = false
	enc, err := NewContextBoundary(opts, rng)
	if err != nil {
		return nil, err
	}
	return &QuestionBoundary{Encoder: enc, MaxPool: maxPool, Normalize: normalize}, nil
}

func (q *QuestionBoundary) Forward(x *mat.Dense, mask []float64, mode nn.Mode, rng *rand.Rand) QuestionResult {
	d := q.Encoder.Forward(x, mask, mode, rng)
	var res QuestionResult
	if q.MaxPool {
		res.Dense = maxPool(d.Dense, mask)
		if d.Sparse != nil {
			res.Sparse = maxPool(d.Sparse, mask)
		}
	} else {
		res.Dense = firstValidRow(d.Dense, mask)
		if d.Sparse != nil {
			res.Sparse = firstValidRow(d.Sparse, mask)
		}
	}
	if q.Normalize {
		NormalizeRow(res.Dense, res.Sparse)
	}
	return res
}

func (q *QuestionBoundary) Register(prefix string, p nn.Params) {
	q.Encoder.Register(prefix, p)
}

// firstValidRow copies the first row whose mask is valid, or row 0 when
// every row is masked.
func firstValidRow(m *mat.Dense, mask []float64) []float64 {
	r, _ := m.Dims()
	row := 0
	for i := 0; i < r && i < len(mask); i++ {
		if nn.Valid(mask[i]) {
			row = i
			break
		}
	}
	return append([]float64(nil), m.RawRowView(row)...)
}

// maxPool takes the column-wise maximum over rows whose mask is valid. When
// every row is masked it falls back to all rows.
func maxPool(m *mat.Dense, mask []float64) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	seen := false
	for pass := 0; pass < 2 && !seen; pass++ {
		for i := 0; i < r; i++ {
			if pass == 0 && i < len(mask) && !nn.Valid(mask[i]) {
				continue
			}
			row := m.RawRowView(i)
			if !seen {
				copy(out, row)
				seen = true
				continue
			}
			for j, v := range row {
				if v > out[j] {
					out[j] = v
				}
			}
		}
	}
	return out
}
