package nn

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Params maps dotted parameter names to their weights. Biases are stored as
// 1 x n matrices so every parameter has the same shape type.
type Params map[string]*mat.Dense

// Add registers m under prefix.name.
func (p Params) Add(prefix, name string, m *mat.Dense) {
	if prefix == "" {
		p[name] = m
		return
	}
	p[prefix+"."+name] = m
}

// Names returns the registered names in sorted order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Load copies every matrix in src into the parameter of the same name.
// Missing names and shape mismatches are errors.
func (p Params) Load(src map[string]*mat.Dense) error {
	for name, dst := range p {
		m, ok := src[name]
		if !ok {
			return fmt.Errorf("missing parameter %q", name)
		}
		r, c := dst.Dims()
		sr, sc := m.Dims()
		if r != sr || c != sc {
			return fmt.Errorf("parameter %q: shape %dx%d, checkpoint has %dx%d", name, r, c, sr, sc)
		}
		dst.Copy(m)
	}
	return nil
}

// Count returns the total number of scalar weights.
func (p Params) Count() int {
	n := 0
	for _, m := range p {
		r, c := m.Dims()
		n += r * c
	}
	return n
}

// Uniform returns an r x c matrix drawn from U(-bound, bound).
func Uniform(r, c int, bound float64, rng *rand.Rand) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * bound
	}
	return mat.NewDense(r, c, data)
}

// Normal returns an r x c matrix drawn from N(0, 1).
func Normal(r, c int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

func fanBound(n int) float64 {
	return 1 / math.Sqrt(float64(n))
}
