package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MaskBias is the additive logit bias of an invalid position.
const MaskBias = -1e9

// PadID is the token id reserved for padding.
const PadID = 0

// MaskFromIDs returns the additive mask of a token id sequence: 0 for valid
// positions and MaskBias for padding.
func MaskFromIDs(ids []int) []float64 {
	m := make([]float64, len(ids))
	for i, id := range ids {
		if id == PadID {
			m[i] = MaskBias
		}
	}
	return m
}

// Valid reports whether an additive mask value marks a usable position.
func Valid(bias float64) bool {
	return bias > MaskBias/2
}

// ValidLength counts the non-padding ids.
func ValidLength(ids []int) int {
	n := 0
	for _, id := range ids {
		if id > PadID {
			n++
		}
	}
	return n
}

func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func ReLU(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Activation is an element-wise non-linearity.
type Activation func(float64) float64

// ApplyDense applies fn to every element of m in place.
func ApplyDense(m *mat.Dense, fn Activation) {
	m.Apply(func(_, _ int, v float64) float64 { return fn(v) }, m)
}

// Softmax returns the softmax of v. It is stable for masked entries of -1e9.
func Softmax(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	lse := floats.LogSumExp(v)
	for i, x := range v {
		out[i] = math.Exp(x - lse)
	}
	return out
}

// LogSoftmax returns log(softmax(v)).
func LogSoftmax(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	lse := floats.LogSumExp(v)
	for i, x := range v {
		out[i] = x - lse
	}
	return out
}

// SoftmaxRows applies Softmax to every row of m in place.
func SoftmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		copy(row, Softmax(row))
	}
}

// AddRowBias adds bias[j] to every element of column j.
func AddRowBias(m *mat.Dense, bias []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), bias)
	}
}

// Concat joins matrices with equal row counts side by side.
func Concat(parts ...*mat.Dense) *mat.Dense {
	rows, cols := 0, 0
	for _, p := range parts {
		r, c := p.Dims()
		rows = r
		cols += c
	}
	out := mat.NewDense(rows, cols, nil)
	off := 0
	for _, p := range parts {
		_, c := p.Dims()
		for i := 0; i < rows; i++ {
			copy(out.RawRowView(i)[off:off+c], p.RawRowView(i))
		}
		off += c
	}
	return out
}

// RowNorm returns the L2 norm of row i.
func RowNorm(m *mat.Dense, i int) float64 {
	return floats.Norm(m.RawRowView(i), 2)
}

// SquaredNorm returns |v|^2.
func SquaredNorm(v []float64) float64 {
	return floats.Dot(v, v)
}

// ArgMax returns the index of the largest element among the positions
// accepted by keep. Ties resolve to the lowest index. It returns -1 when no
// position is accepted.
func ArgMax(v []float64, keep func(int) bool) int {
	best := -1
	for i, x := range v {
		if keep != nil && !keep(i) {
			continue
		}
		if best < 0 || x > v[best] {
			best = i
		}
	}
	return best
}
