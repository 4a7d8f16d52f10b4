// Package boundary encodes token sequences into per-position start or end
// boundary vectors.
//
// A ContextBoundary produces one dense vector per position (and optionally
// a sparse lexical attention row per position). A QuestionBoundary reduces
// the same representation to a single vector per question. Start and end,
// context and question encoders never share parameters.
package boundary

import (
	"fmt"
	"math/rand"

	"github.com/soundprediction/piqa/pkg/nn"
	"gonum.org/v1/gonum/mat"
)

// SelfSeqAtt is one dense self-attention head. Keys and queries come from
// separate bidirectional LSTMs; the head returns the attention-weighted sum
// of its (dropped out) input, so its output width equals its input width.
type SelfSeqAtt struct {
	Dropout nn.Dropout
	Key     *nn.BiLSTM
	Query   *nn.BiLSTM
}

func NewSelfSeqAtt(inputSize, hidden int, dropout float64, rng *rand.Rand) *SelfSeqAtt {
	return &SelfSeqAtt{
		Dropout: nn.Dropout{P: dropout},
		Key:     nn.NewBiLSTM(inputSize, hidden, 1, rng),
		Query:   nn.NewBiLSTM(inputSize, hidden, 1, rng),
	}
}

// Forward returns length x inputSize.
func (a *SelfSeqAtt) Forward(x *mat.Dense, mask []float64, mode nn.Mode, rng *rand.Rand) *mat.Dense {
	in := a.Dropout.ApplyDense(x, mode, rng)
	key := a.Key.Forward(in)
	query := a.Query.Forward(in)
	att := scores(query, key, mask)
	nn.SoftmaxRows(att)

	n, c := in.Dims()
	out := mat.NewDense(n, c, nil)
	out.Mul(att, in)
	return out
}

func (a *SelfSeqAtt) Register(prefix string, p nn.Params) {
	a.Key.Register(prefix+".key_lstm", p)
	a.Query.Register(prefix+".query_lstm", p)
}

// scores returns query . key^T with the key-position mask added to every row.
func scores(query, key *mat.Dense, mask []float64) *mat.Dense {
	n, _ := query.Dims()
	m, _ := key.Dims()
	s := mat.NewDense(n, m, nil)
	s.Mul(query, key.T())
	nn.AddRowBias(s, mask)
	return s
}

// Activation names the non-linearity of the sparse attention scores.
type Activation string

const (
	// Sigmoid bounds sparse weights to (0, 1).
	Sigmoid Activation = "sigmoid"
	// ReLU keeps sparse weights unbounded and non-negative.
	ReLU Activation = "relu"
)

// Func returns the element-wise function for a.
func (a Activation) Func() (nn.Activation, error) {
	switch a {
	case Sigmoid:
		return nn.Sigmoid, nil
	case ReLU:
		return nn.ReLU, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivation, string(a))
	}
}

// SparseResult is the output of SelfSeqSparse. Value[i][j] weights context
// token j for position i.
type SparseResult struct {
	Value *mat.Dense // length x length
	Key   *mat.Dense // length x 2*hidden
	Query *mat.Dense // length x 2*hidden
}

// SelfSeqSparse computes a sparse lexical attention matrix over a sequence.
//
// Both the key and the query stream run through the key LSTM. QueryLSTM is
// allocated and checkpointed but never applied; the sharing is existing
// model behaviour and is kept as is.
type SelfSeqSparse struct {
	Dropout    nn.Dropout
	QueryLSTM  *nn.BiLSTM
	KeyLSTM    *nn.BiLSTM
	Activation Activation
	act        nn.Activation
}

func NewSelfSeqSparse(inputSize, hidden int, dropout float64, activation Activation, rng *rand.Rand) (*SelfSeqSparse, error) {
	fn, err := activation.Func()
	if err != nil {
		return nil, err
	}
	return &SelfSeqSparse{
		Dropout:    nn.Dropout{P: dropout},
		QueryLSTM:  nn.NewBiLSTM(inputSize, hidden, 1, rng),
		KeyLSTM:    nn.NewBiLSTM(inputSize, hidden, 1, rng),
		Activation: activation,
		act:        fn,
	}, nil
}

func (s *SelfSeqSparse) Forward(x *mat.Dense, mask []float64, mode nn.Mode, rng *rand.Rand) SparseResult {
	in := s.Dropout.ApplyDense(x, mode, rng)
	key := s.KeyLSTM.Forward(in)
	query := s.KeyLSTM.Forward(in)
	value := scores(query, key, mask)
	nn.ApplyDense(value, s.act)
	return SparseResult{Value: value, Key: key, Query: query}
}

func (s *SelfSeqSparse) Register(prefix string, p nn.Params) {
	s.QueryLSTM.Register(prefix+".query_lstm", p)
	s.KeyLSTM.Register(prefix+".key_lstm", p)
}
