package model

import (
	"github.com/soundprediction/piqa/pkg/boundary"
	"github.com/soundprediction/piqa/pkg/nn"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// logits scores every context position against the pooled question vector.
// The additive mask is always applied, so padding never wins even when the
// dense term is disabled.
func (m *Model) logits(xd boundary.Result, qd boundary.QuestionResult, mask []float64, lex *mat.Dense) []float64 {
	n := len(mask)
	out := make([]float64, n)
	copy(out, mask)
	l2 := m.cfg.Metric == MetricL2

	if m.cfg.Dense {
		qq := nn.SquaredNorm(qd.Dense)
		for i := 0; i < n; i++ {
			row := xd.Dense.RawRowView(i)
			if l2 {
				out[i] += L2Score(row, qd.Dense, nn.SquaredNorm(row), qq)
				continue
			}
			out[i] += floats.Dot(row, qd.Dense)
		}
	}

	if m.cfg.Sparse && xd.Sparse != nil && qd.Sparse != nil {
		// lex . qs gives, per context token, the summed question weight of
		// the matching question tokens.
		_, qn := lex.Dims()
		matched := mat.NewVecDense(n, nil)
		matched.MulVec(lex, mat.NewVecDense(qn, qd.Sparse))
		qq := nn.SquaredNorm(qd.Sparse)
		for i := 0; i < n; i++ {
			row := xd.Sparse.RawRowView(i)
			s := floats.Dot(row, matched.RawVector().Data)
			if l2 {
				s -= 0.5 * (nn.SquaredNorm(row) + qq)
			}
			out[i] += s
		}
	}
	return out
}

// L2Score returns x.q - 0.5(|x|^2 + |q|^2), which equals -0.5|x-q|^2.
// xx and qq are the precomputed squared norms.
func L2Score(x, q []float64, xx, qq float64) float64 {
	return floats.Dot(x, q) - 0.5*(xx+qq)
}

// LexicalMask marks the (context token, question token) pairs that share a
// non-padding id.
func LexicalMask(context, question []int) *mat.Dense {
	lex := mat.NewDense(len(context), len(question), nil)
	for i, c := range context {
		if c <= nn.PadID {
			continue
		}
		for j, q := range question {
			if c == q {
				lex.Set(i, j, 1)
			}
		}
	}
	return lex
}

// JointProb returns the outer product p1 x p2 of independent start and end
// distributions.
func JointProb(p1, p2 []float64) *mat.Dense {
	prob := mat.NewDense(len(p1), len(p2), nil)
	prob.Outer(1, mat.NewVecDense(len(p1), p1), mat.NewVecDense(len(p2), p2))
	return prob
}

// BandMask returns the n x n indicator of the cells (i, j) with
// 0 <= j-i < maxAnsLen.
func BandMask(n, maxAnsLen int) *mat.Dense {
	band := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n && j-i < maxAnsLen; j++ {
			band.Set(i, j, 1)
		}
	}
	return band
}

// ApplyBand zeroes every cell of prob outside the answer-length band.
func ApplyBand(prob *mat.Dense, maxAnsLen int) {
	prob.Apply(func(i, j int, v float64) float64 {
		if d := j - i; d >= 0 && d < maxAnsLen {
			return v
		}
		return 0
	}, prob)
}

// SelectSpan picks the start as the row holding the largest row maximum and
// the end as the column holding the largest column maximum. Only unmasked
// positions are eligible and ties go to the lowest index.
func SelectSpan(prob *mat.Dense, mask []float64) (start, end int) {
	r, c := prob.Dims()
	rowMax := make([]float64, r)
	colMax := make([]float64, c)
	for i := 0; i < r; i++ {
		row := prob.RawRowView(i)
		rowMax[i] = floats.Max(row)
		for j, v := range row {
			if i == 0 || v > colMax[j] {
				colMax[j] = v
			}
		}
	}
	valid := func(i int) bool { return i < len(mask) && nn.Valid(mask[i]) }
	return nn.ArgMax(rowMax, valid), nn.ArgMax(colMax, valid)
}
