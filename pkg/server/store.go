package server

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/soundprediction/piqa/pkg/index"
	"github.com/soundprediction/piqa/pkg/model"
	"github.com/soundprediction/piqa/pkg/server/dto"
	"github.com/soundprediction/piqa/pkg/types"
	"github.com/soundprediction/piqa/pkg/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type phraseRef struct {
	contextID string
	text      string
	span      types.Span
}

// PhraseStore holds every indexed phrase vector in memory for search.
type PhraseStore struct {
	metric model.Metric
	rows   *mat.Dense
	norms  []float64
	refs   []phraseRef
	// sparse is parallel to refs, or nil when no entry carries sparse
	// vectors.
	sparse []types.SparseVector
}

// NewPhraseStore stacks the dense rows of entries. texts[i] holds the
// phrase texts of entries[i].
func NewPhraseStore(entries []*types.IndexEntry, texts [][]string, metric model.Metric) (*PhraseStore, error) {
	s := &PhraseStore{metric: metric}
	var data []float64
	width := -1
	hasSparse := false
	for _, e := range entries {
		if len(e.Sparse) > 0 {
			hasSparse = true
		}
	}
	for i, e := range entries {
		if len(e.Spans) == 0 {
			continue
		}
		_, c := e.Dense.Dims()
		if width >= 0 && c != width {
			return nil, fmt.Errorf("context %s: %w: width %d, want %d", e.ContextID, types.ErrShapeMismatch, c, width)
		}
		width = c
		for k, span := range e.Spans {
			row := e.Dense.RawRowView(k)
			data = append(data, row...)
			s.norms = append(s.norms, floats.Dot(row, row))
			ref := phraseRef{contextID: e.ContextID, span: span}
			if k < len(texts[i]) {
				ref.text = texts[i][k]
			}
			s.refs = append(s.refs, ref)
			if hasSparse {
				var sv types.SparseVector
				if k < len(e.Sparse) {
					sv = e.Sparse[k]
				}
				s.sparse = append(s.sparse, sv)
			}
		}
	}
	if len(s.refs) > 0 {
		s.rows = mat.NewDense(len(s.refs), width, data)
	}
	return s, nil
}

// LoadPhraseStore reads every context index under dir.
func LoadPhraseStore(dir string, metric model.Metric, logger *slog.Logger) (*PhraseStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read phrase directory: %w", err)
	}
	var ids []string
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".metadata") {
			ids = append(ids, strings.TrimSuffix(f.Name(), ".metadata"))
		}
	}
	sort.Strings(ids)

	entries := make([]*types.IndexEntry, 0, len(ids))
	texts := make([][]string, 0, len(ids))
	for _, cid := range ids {
		e, t, err := index.ReadContext(dir, cid)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		texts = append(texts, t)
	}
	s, err := NewPhraseStore(entries, texts, metric)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded phrase index", "dir", filepath.Clean(dir), "contexts", len(entries), "phrases", s.Len())
	return s, nil
}

// Len is the number of phrases.
func (s *PhraseStore) Len() int { return len(s.refs) }

// Search returns the k best phrases for a dense question vector.
func (s *PhraseStore) Search(query []float64, k int) ([]dto.PhraseResult, error) {
	return s.SearchEntry(types.QuestionEntry{Dense: query}, k)
}

// SearchEntry ranks phrases by their dense score plus, when both the
// question and the index carry sparse vectors, the sparse inner product.
func (s *PhraseStore) SearchEntry(q types.QuestionEntry, k int) ([]dto.PhraseResult, error) {
	query := q.Dense
	if s.rows == nil {
		return []dto.PhraseResult{}, nil
	}
	_, width := s.rows.Dims()
	if len(query) != width {
		return nil, fmt.Errorf("%w: query width %d, index width %d", types.ErrShapeMismatch, len(query), width)
	}
	scores := make([]float64, len(s.refs))
	sv := mat.NewVecDense(len(scores), scores)
	sv.MulVec(s.rows, mat.NewVecDense(width, query))
	if s.metric == model.MetricL2 {
		qq := floats.Dot(query, query)
		for i := range scores {
			scores[i] -= 0.5 * (s.norms[i] + qq)
		}
	}
	if q.Sparse != nil && s.sparse != nil {
		for i, phrase := range s.sparse {
			scores[i] += q.Sparse.Dot(phrase)
		}
	}

	top := utils.TopKIndicesByScore(scores, k)
	results := make([]dto.PhraseResult, len(top))
	for i, idx := range top {
		ref := s.refs[idx]
		results[i] = dto.PhraseResult{
			ContextID: ref.contextID,
			Text:      ref.text,
			Start:     ref.span.Start,
			End:       ref.span.End,
			Score:     scores[idx],
		}
	}
	return results, nil
}
