package model

import (
	"context"
	"fmt"

	"github.com/soundprediction/piqa/pkg/filter"
	"github.com/soundprediction/piqa/pkg/nn"
	"github.com/soundprediction/piqa/pkg/types"
	"github.com/soundprediction/piqa/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

// GetContext enumerates the indexable phrases of every context in batch.
// Contexts are independent and are encoded on a worker pool in Eval mode.
// Only Example.Context and Example.ContextID are read.
func (m *Model) GetContext(ctx context.Context, batch []Example) ([]types.IndexEntry, error) {
	pool := utils.NewWorkerPool(m.cfg.Workers, m.contextEntry)
	entries, errs := pool.ProcessItems(ctx, batch)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("context %d (%s): %w", i, batch[i].ContextID, err)
		}
	}
	return entries, nil
}

func (m *Model) contextEntry(ctx context.Context, ex Example) (types.IndexEntry, error) {
	x, mx, err := m.embed(ctx, ex.Context)
	if err != nil {
		return types.IndexEntry{}, err
	}
	xd1 := m.ContextStart.Forward(x, mx, nn.Eval, nil)
	xd2 := m.ContextEnd.Forward(x, mx, nn.Eval, nil)

	var pf filter.Result
	if m.Filter != nil {
		pf = m.Filter.Forward(xd1.Dense, xd2.Dense, nn.Eval, nil)
	}

	entry := types.IndexEntry{ContextID: ex.ContextID}
	if m.Filter != nil {
		entry.FilterScores = []float64{}
	}
	if xd1.HasSparse() {
		entry.Sparse = []types.SparseVector{}
	}

	valid := validPositions(mx)
	ids := gather(ex.Context, valid)
	var rows [][]float64
	for a, i := range valid {
		for _, j := range valid[a:] {
			if j >= i+m.cfg.MaxAnsLen {
				break
			}
			if m.Filter != nil {
				p := pf.SigmoidProb.At(i, j)
				if !filter.Keep(p, m.cfg.FilterTh) {
					continue
				}
				entry.FilterScores = append(entry.FilterScores, p)
			}
			entry.Spans = append(entry.Spans, types.Span{Start: i, End: j})
			row := make([]float64, 0, 2*m.cfg.DenseSize())
			row = append(row, xd1.Dense.RawRowView(i)...)
			row = append(row, xd2.Dense.RawRowView(j)...)
			rows = append(rows, row)
			if xd1.HasSparse() {
				entry.Sparse = append(entry.Sparse, phraseSparse(ids, gatherFloats(xd1.Sparse.RawRowView(i), valid), gatherFloats(xd2.Sparse.RawRowView(j), valid)))
			}
		}
	}
	if len(rows) > 0 {
		entry.Dense = mat.NewDense(len(rows), 2*m.cfg.DenseSize(), nil)
		for k, row := range rows {
			entry.Dense.SetRow(k, row)
		}
	}
	m.logger.Debug("context encoded", "context_id", ex.ContextID, "tokens", len(valid), "phrases", len(entry.Spans))
	return entry, nil
}

// phraseSparse lays out a phrase's sparse weights with start weights keyed
// by token id and end weights keyed by token id + GloveVocabSize.
func phraseSparse(ids []int, start, end []float64) types.SparseVector {
	v := types.SparseVector{
		Indices:   make([]int, 0, 2*len(ids)),
		Values:    make([]float64, 0, 2*len(ids)),
		VocabSize: types.SparseVocabSize,
	}
	for k, id := range ids {
		v.Indices = append(v.Indices, types.SparseIndex(id, false))
		v.Values = append(v.Values, start[k])
	}
	for k, id := range ids {
		v.Indices = append(v.Indices, types.SparseIndex(id, true))
		v.Values = append(v.Values, end[k])
	}
	return v
}

// GetQuestion encodes every question of batch into [q1 ; q2] and, for
// sparse models, the matching sparse vector. Only Example.Question and
// Example.QuestionID are read.
func (m *Model) GetQuestion(ctx context.Context, batch []Example) ([]types.QuestionEntry, error) {
	out := make([]types.QuestionEntry, 0, len(batch))
	for i, ex := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := m.questionEntry(ctx, ex)
		if err != nil {
			return nil, fmt.Errorf("question %d (%s): %w", i, ex.QuestionID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Model) questionEntry(ctx context.Context, ex Example) (types.QuestionEntry, error) {
	q, mq, err := m.embed(ctx, ex.Question)
	if err != nil {
		return types.QuestionEntry{}, err
	}
	qd1 := m.QuestionStart.Forward(q, mq, nn.Eval, nil)
	qd2 := m.QuestionEnd.Forward(q, mq, nn.Eval, nil)

	entry := types.QuestionEntry{QuestionID: ex.QuestionID}
	entry.Dense = append(append(entry.Dense, qd1.Dense...), qd2.Dense...)
	if qd1.Sparse != nil {
		valid := validPositions(mq)
		sv := phraseSparse(gather(ex.Question, valid), gatherFloats(qd1.Sparse, valid), gatherFloats(qd2.Sparse, valid))
		entry.Sparse = &sv
	}
	return entry, nil
}

// validPositions lists the unmasked positions of an additive mask. Padding
// may sit anywhere in the sequence.
func validPositions(mask []float64) []int {
	out := make([]int, 0, len(mask))
	for k, b := range mask {
		if nn.Valid(b) {
			out = append(out, k)
		}
	}
	return out
}

func gather(ids []int, positions []int) []int {
	out := make([]int, len(positions))
	for k, p := range positions {
		out[k] = ids[p]
	}
	return out
}

func gatherFloats(xs []float64, positions []int) []float64 {
	out := make([]float64, len(positions))
	for k, p := range positions {
		out[k] = xs[p]
	}
	return out
}
