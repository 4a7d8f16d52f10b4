// Package model wires the boundary encoders, phrase filter and dual decoder
// into the span scoring model and its offline context and question
// encoders.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/soundprediction/piqa/pkg/boundary"
	"github.com/soundprediction/piqa/pkg/decoder"
	"github.com/soundprediction/piqa/pkg/filter"
	"github.com/soundprediction/piqa/pkg/nn"
	"github.com/soundprediction/piqa/pkg/types"
	"gonum.org/v1/gonum/mat"
)

// Embedder turns token ids into per-token vectors.
type Embedder interface {
	// Embed returns a len(ids) x embed_size matrix.
	Embed(ctx context.Context, ids []int) (*mat.Dense, error)
	// Weights returns the vocab x embed_size table, or nil when the
	// embedder has no fixed table.
	Weights() *mat.Dense
}

// Example is one (context, question) pair. Answer is required in dual mode
// and by the loss.
type Example struct {
	ID          string
	ContextID   string
	Context     []int
	QuestionID  string
	Question    []int
	Answer      *types.Span
	ContextText []string
}

// DensityThresholds are the filter probabilities at which Forward reports
// phrase density.
var DensityThresholds = []float64{0.25, 0.5, 0.75}

// Output is the result of Forward for one example. Sparse fields are nil
// unless the model is sparse; decoder and filter fields are nil unless the
// corresponding mode is on.
type Output struct {
	Logits1 []float64
	Logits2 []float64
	// SpanProb is the joint start x end probability after gating and the
	// band mask.
	SpanProb *mat.Dense
	// Start and End are chosen independently and need not form the best
	// cell of SpanProb.
	Start int
	End   int

	X1, X2   *mat.Dense
	XS1, XS2 *mat.Dense
	Q1, Q2   []float64
	QS1, QS2 []float64

	ContextIDs  []int
	QuestionIDs []int

	DecoderLogits1 *mat.Dense
	DecoderLogits2 *mat.Dense

	Filter        *filter.Result
	FilterDensity []float64
}

// Model is the phrase-indexed span scorer.
type Model struct {
	cfg      Config
	embedder Embedder
	logger   *slog.Logger

	ContextStart  *boundary.ContextBoundary
	ContextEnd    *boundary.ContextBoundary
	QuestionStart *boundary.QuestionBoundary
	QuestionEnd   *boundary.QuestionBoundary
	Decoder       *decoder.Decoder
	Filter        *filter.PhraseFilter

	mu  sync.Mutex
	rng *rand.Rand
}

// New validates cfg and builds freshly initialised weights.
func New(cfg Config, embedder Embedder, logger *slog.Logger) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	if logger == nil {
		logger = slog.Default()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	opts := cfg.boundaryOptions()
	m := &Model{cfg: cfg, embedder: embedder, logger: logger, rng: rng}

	var err error
	if m.ContextStart, err = boundary.NewContextBoundary(opts, rng); err != nil {
		return nil, fmt.Errorf("context_start: %w", err)
	}
	if m.ContextEnd, err = boundary.NewContextBoundary(opts, rng); err != nil {
		return nil, fmt.Errorf("context_end: %w", err)
	}
	if m.QuestionStart, err = boundary.NewQuestionBoundary(opts, cfg.MaxPool, rng); err != nil {
		return nil, fmt.Errorf("question_start: %w", err)
	}
	if m.QuestionEnd, err = boundary.NewQuestionBoundary(opts, cfg.MaxPool, rng); err != nil {
		return nil, fmt.Errorf("question_end: %w", err)
	}

	if cfg.Dual {
		weights := embedder.Weights()
		if weights == nil {
			return nil, fmt.Errorf("%w: dual mode needs an embedding table", ErrInvalidConfig)
		}
		if _, c := weights.Dims(); c != cfg.EmbedSize {
			return nil, fmt.Errorf("%w: table has %d columns, embed_size is %d", ErrEmbedSize, c, cfg.EmbedSize)
		}
		m.Decoder = decoder.New(weights, cfg.DenseSize(), cfg.NumLayers, cfg.Dropout, rng)
	}
	if cfg.PhraseFilter {
		m.Filter = filter.New(cfg.DenseSize(), cfg.Dropout, rng)
	}

	logger.Debug("model built",
		"metric", cfg.Metric,
		"dense_size", cfg.DenseSize(),
		"sparse", cfg.Sparse,
		"dual", cfg.Dual,
		"phrase_filter", cfg.PhraseFilter)
	return m, nil
}

// Config returns the options the model was built with.
func (m *Model) Config() Config {
	return m.cfg
}

// Params returns every trainable weight keyed by its dotted name.
func (m *Model) Params() nn.Params {
	p := nn.Params{}
	m.ContextStart.Register("context_start", p)
	m.ContextEnd.Register("context_end", p)
	m.QuestionStart.Register("question_start", p)
	m.QuestionEnd.Register("question_end", p)
	if m.Decoder != nil {
		m.Decoder.Register("decoder", p)
	}
	if m.Filter != nil {
		m.Filter.Register("phrase_filter_model", p)
	}
	return p
}

// randFor returns the dropout source for mode. Eval needs none, so Eval
// calls never touch the shared generator.
func (m *Model) randFor(mode nn.Mode) *rand.Rand {
	if mode == nn.Train {
		return m.rng
	}
	return nil
}

func (m *Model) embed(ctx context.Context, ids []int) (*mat.Dense, []float64, error) {
	if nn.ValidLength(ids) == 0 {
		return nil, nil, ErrEmptySequence
	}
	x, err := m.embedder.Embed(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("embed: %w", err)
	}
	r, c := x.Dims()
	if r != len(ids) || c != m.cfg.EmbedSize {
		return nil, nil, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrEmbedSize, r, c, len(ids), m.cfg.EmbedSize)
	}
	return x, nn.MaskFromIDs(ids), nil
}

// Forward scores every example of batch. Examples run one after another;
// Train mode holds the model's dropout generator for the whole batch.
func (m *Model) Forward(ctx context.Context, batch []Example, mode nn.Mode) ([]Output, error) {
	if mode == nn.Train {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	out := make([]Output, 0, len(batch))
	for i, ex := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o, err := m.forward(ctx, ex, mode)
		if err != nil {
			return nil, fmt.Errorf("example %d (%s): %w", i, ex.ID, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *Model) forward(ctx context.Context, ex Example, mode nn.Mode) (Output, error) {
	if m.cfg.Dual && ex.Answer == nil {
		return Output{}, ErrMissingAnswer
	}
	q, mq, err := m.embed(ctx, ex.Question)
	if err != nil {
		return Output{}, fmt.Errorf("question: %w", err)
	}
	x, mx, err := m.embed(ctx, ex.Context)
	if err != nil {
		return Output{}, fmt.Errorf("context: %w", err)
	}
	rng := m.randFor(mode)

	qd1 := m.QuestionStart.Forward(q, mq, mode, rng)
	qd2 := m.QuestionEnd.Forward(q, mq, mode, rng)
	hd1 := m.ContextStart.Forward(x, mx, mode, rng)
	hd2 := m.ContextEnd.Forward(x, mx, mode, rng)

	var lex *mat.Dense
	if m.cfg.Sparse {
		lex = LexicalMask(ex.Context, ex.Question)
	}

	o := Output{
		Logits1:     m.logits(hd1, qd1, mx, lex),
		Logits2:     m.logits(hd2, qd2, mx, lex),
		X1:          hd1.Dense,
		X2:          hd2.Dense,
		XS1:         hd1.Sparse,
		XS2:         hd2.Sparse,
		Q1:          qd1.Dense,
		Q2:          qd2.Dense,
		QS1:         qd1.Sparse,
		QS2:         qd2.Sparse,
		ContextIDs:  ex.Context,
		QuestionIDs: ex.Question,
	}

	prob := JointProb(nn.Softmax(o.Logits1), nn.Softmax(o.Logits2))
	if m.Filter != nil {
		pf := m.Filter.Forward(hd1.Dense, hd2.Dense, mode, rng)
		filter.Gate(prob, pf, mode, m.cfg.FilterTh)
		o.Filter = &pf
		o.FilterDensity = filter.Density(pf, nn.ValidLength(ex.Context), DensityThresholds...)
	}
	ApplyBand(prob, m.cfg.MaxAnsLen)
	o.SpanProb = prob
	o.Start, o.End = SelectSpan(prob, mx)

	if m.Decoder != nil {
		n := len(ex.Context)
		if ex.Answer.Start < 0 || ex.Answer.End >= n || ex.Answer.Start > ex.Answer.End {
			return Output{}, fmt.Errorf("%w: span (%d, %d) outside context of %d tokens", ErrMissingAnswer, ex.Answer.Start, ex.Answer.End, n)
		}
		init1 := hd1.Dense.RawRowView(ex.Answer.Start)
		init2 := hd2.Dense.RawRowView(ex.Answer.End)
		if o.DecoderLogits1, err = m.Decoder.Forward(init1, ex.Question, mode, rng); err != nil {
			return Output{}, fmt.Errorf("start decoder: %w", err)
		}
		if o.DecoderLogits2, err = m.Decoder.Forward(init2, ex.Question, mode, rng); err != nil {
			return Output{}, fmt.Errorf("end decoder: %w", err)
		}
	}
	return o, nil
}
