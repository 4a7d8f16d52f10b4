// Package loss combines the span, phrase filter and dual decoder objectives.
package loss

import (
	"errors"
	"fmt"
	"math"

	"github.com/soundprediction/piqa/pkg/model"
	"github.com/soundprediction/piqa/pkg/nn"
	"github.com/soundprediction/piqa/pkg/types"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrMissingTargets = errors.New("loss: missing targets")
	ErrBatchSize      = errors.New("loss: outputs and targets differ in length")
	ErrTargetRange    = errors.New("loss: target outside sequence")
)

// Config selects the auxiliary terms and their weights.
type Config struct {
	Dual         bool
	DualInit     float64
	DualHL       float64
	PhraseFilter bool
	FilterInit   float64
}

// FromModel copies the loss options out of a model config.
func FromModel(c model.Config) Config {
	return Config{
		Dual:         c.Dual,
		DualInit:     c.DualInit,
		DualHL:       c.DualHL,
		PhraseFilter: c.PhraseFilter,
		FilterInit:   c.FilterInit,
	}
}

// Breakdown reports every term. Total = Span + FilterInit*Filter +
// DualCoefficient*Decoder.
type Breakdown struct {
	Span            float64
	Filter          float64
	Decoder         float64
	DualCoefficient float64
	Total           float64
}

type Loss struct {
	cfg Config
}

func New(cfg Config) *Loss {
	return &Loss{cfg: cfg}
}

// DualCoefficient is DualInit * 2^(-step/DualHL): the decoder term halves
// every DualHL steps.
func (l *Loss) DualCoefficient(step int) float64 {
	return l.cfg.DualInit * math.Exp2(-float64(step)/l.cfg.DualHL)
}

// Compute evaluates the loss of a batch. targets holds the gold span of each
// output; Output.QuestionIDs are the decoder targets.
func (l *Loss) Compute(outputs []model.Output, targets []types.Span, step int) (Breakdown, error) {
	if len(targets) == 0 {
		return Breakdown{}, ErrMissingTargets
	}
	if len(outputs) != len(targets) {
		return Breakdown{}, fmt.Errorf("%w: %d outputs, %d targets", ErrBatchSize, len(outputs), len(targets))
	}

	var b Breakdown
	n := float64(len(outputs))
	for i, o := range outputs {
		t := targets[i]
		if t.Start < 0 || t.Start >= len(o.Logits1) || t.End < 0 || t.End >= len(o.Logits2) {
			return Breakdown{}, fmt.Errorf("%w: example %d span (%d, %d)", ErrTargetRange, i, t.Start, t.End)
		}
		b.Span += (CrossEntropy(o.Logits1, t.Start) + CrossEntropy(o.Logits2, t.End)) / n

		if l.cfg.PhraseFilter {
			if o.Filter == nil {
				return Breakdown{}, fmt.Errorf("%w: example %d has no filter logits", ErrMissingTargets, i)
			}
			b.Filter += FilterBCE(o.Filter.Logits, t) / n
		}

		if l.cfg.Dual {
			if o.DecoderLogits1 == nil || o.DecoderLogits2 == nil {
				return Breakdown{}, fmt.Errorf("%w: example %d has no decoder logits", ErrMissingTargets, i)
			}
			ce1, err := SequenceCrossEntropy(o.DecoderLogits1, o.QuestionIDs)
			if err != nil {
				return Breakdown{}, fmt.Errorf("example %d start decoder: %w", i, err)
			}
			ce2, err := SequenceCrossEntropy(o.DecoderLogits2, o.QuestionIDs)
			if err != nil {
				return Breakdown{}, fmt.Errorf("example %d end decoder: %w", i, err)
			}
			b.Decoder += (ce1 + ce2) / n
		}
	}

	b.Total = b.Span
	if l.cfg.PhraseFilter {
		b.Total += l.cfg.FilterInit * b.Filter
	}
	if l.cfg.Dual {
		b.DualCoefficient = l.DualCoefficient(step)
		b.Total += b.DualCoefficient * b.Decoder
	}
	return b, nil
}

// CrossEntropy returns -log softmax(logits)[target].
func CrossEntropy(logits []float64, target int) float64 {
	return -nn.LogSoftmax(logits)[target]
}

// SequenceCrossEntropy averages CrossEntropy over every row of logits
// against targets. Padding targets are included. Every row needs a target
// inside [0, columns).
func SequenceCrossEntropy(logits *mat.Dense, targets []int) (float64, error) {
	r, c := logits.Dims()
	if len(targets) != r {
		return 0, fmt.Errorf("%w: %d logit rows, %d targets", ErrBatchSize, r, len(targets))
	}
	var sum float64
	for i := 0; i < r; i++ {
		if targets[i] < 0 || targets[i] >= c {
			return 0, fmt.Errorf("%w: position %d id %d, vocab %d", ErrTargetRange, i, targets[i], c)
		}
		sum += CrossEntropy(logits.RawRowView(i), targets[i])
	}
	if r == 0 {
		return 0, nil
	}
	return sum / float64(r), nil
}

// FilterBCE is the weighted binary cross entropy of the filter logits
// against the one-hot gold cell. The gold cell weighs L^2 and every other
// cell 1; the result is the mean over all L^2 cells.
func FilterBCE(logits *mat.Dense, gold types.Span) float64 {
	r, c := logits.Dims()
	weight := float64(r * r)
	var sum float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := logits.At(i, j)
			if i == gold.Start && j == gold.End {
				sum += weight * bceWithLogits(x, 1)
				continue
			}
			sum += bceWithLogits(x, 0)
		}
	}
	return sum / float64(r*c)
}

// bceWithLogits is max(x, 0) - x*y + log(1 + exp(-|x|)).
func bceWithLogits(x, y float64) float64 {
	return math.Max(x, 0) - x*y + math.Log1p(math.Exp(-math.Abs(x)))
}
