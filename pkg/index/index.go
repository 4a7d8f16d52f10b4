// Package index persists phrase and question encodings in the layout the
// merge scorer reads, with a Parquet copy of every phrase for analysis.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sbinet/npyio/npz"
	"github.com/soundprediction/piqa/pkg/merge"
	"github.com/soundprediction/piqa/pkg/types"
	"github.com/soundprediction/piqa/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrTextCount is returned when phrase texts do not match the span list.
var ErrTextCount = errors.New("phrase text count does not match spans")

// Array names inside a context archive.
const (
	arrDense         = "arr_0"
	arrSpans         = "spans"
	arrSparseIndptr  = "sparse_indptr"
	arrSparseIndices = "sparse_indices"
	arrSparseValues  = "sparse_values"
	arrFilterScores  = "filter_scores"
)

// Writer stores index entries under a context directory and question
// entries under a question directory.
type Writer struct {
	contextDir  string
	questionDir string
	parquet     *utils.ParquetIndexWriter
	logger      *slog.Logger
}

// Options configure a Writer. ParquetDir may be empty to skip the
// Parquet copy.
type Options struct {
	ContextDir  string
	QuestionDir string
	ParquetDir  string
	RunID       string
}

// NewWriter creates the output directories.
func NewWriter(opts Options, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{contextDir: opts.ContextDir, questionDir: opts.QuestionDir, logger: logger}
	for _, d := range []string{opts.ContextDir, opts.QuestionDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	if opts.ParquetDir != "" {
		pw, err := utils.NewParquetIndexWriter(opts.ParquetDir, opts.RunID)
		if err != nil {
			return nil, err
		}
		w.parquet = pw
	}
	return w, nil
}

// RunID identifies the Parquet rows of this writer, or "" without Parquet.
func (w *Writer) RunID() string {
	if w.parquet == nil {
		return ""
	}
	return w.parquet.RunID()
}

// PhraseTexts renders each span as its tokens joined by spaces.
func PhraseTexts(tokens []string, spans []types.Span) []string {
	texts := make([]string, len(spans))
	for i, s := range spans {
		if s.Start < 0 || s.End >= len(tokens) || s.End < s.Start {
			continue
		}
		texts[i] = strings.Join(tokens[s.Start:s.End+1], " ")
	}
	return texts
}

// WriteContext writes <cid>.npz, <cid>.json and <cid>.metadata. A context
// without phrases writes nothing, so merging skips it.
func (w *Writer) WriteContext(ctx context.Context, entry *types.IndexEntry, texts []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("context %s: %w", entry.ContextID, err)
	}
	if len(texts) != len(entry.Spans) {
		return fmt.Errorf("context %s: %w: %d texts, %d spans", entry.ContextID, ErrTextCount, len(texts), len(entry.Spans))
	}
	if len(entry.Spans) == 0 {
		w.logger.Debug("No phrases kept, skipping context", "context_id", entry.ContextID)
		return nil
	}

	arrays := []utils.NPZArray{
		{Name: arrDense, Value: entry.Dense},
		{Name: arrSpans, Value: spanArray(entry.Spans)},
	}
	if entry.Sparse != nil {
		indptr, indices, values := sparseArrays(entry.Sparse)
		arrays = append(arrays,
			utils.NPZArray{Name: arrSparseIndptr, Value: indptr},
			utils.NPZArray{Name: arrSparseIndices, Value: indices},
			utils.NPZArray{Name: arrSparseValues, Value: values},
		)
	}
	if entry.FilterScores != nil {
		arrays = append(arrays, utils.NPZArray{Name: arrFilterScores, Value: entry.FilterScores})
	}
	base := filepath.Join(w.contextDir, entry.ContextID)
	if err := utils.WriteNPZ(base+".npz", arrays...); err != nil {
		return err
	}
	if err := utils.WriteJSON(base+".json", texts); err != nil {
		return err
	}
	md := merge.Metadata{NumPhrases: []int{len(entry.Spans)}}
	if err := utils.WriteJSON(base+".metadata", md); err != nil {
		return err
	}
	if w.parquet != nil {
		if err := w.parquet.WritePhrases(ctx, entry, texts); err != nil {
			return fmt.Errorf("context %s: %w", entry.ContextID, err)
		}
	}
	w.logger.Debug("Wrote context index", "context_id", entry.ContextID, "phrases", len(entry.Spans))
	return nil
}

// WriteQuestions writes one <qid>.npz per question holding the 1 x D dense
// vector as arr_0 and, when present, its sparse weights.
func (w *Writer) WriteQuestions(ctx context.Context, entries []types.QuestionEntry) error {
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := &entries[i]
		if err := e.Validate(); err != nil {
			return fmt.Errorf("question %s: %w", e.QuestionID, err)
		}
		arrays := []utils.NPZArray{{Name: arrDense, Value: mat.NewDense(1, len(e.Dense), e.Dense)}}
		if e.Sparse != nil {
			indptr, indices, values := sparseArrays([]types.SparseVector{*e.Sparse})
			arrays = append(arrays,
				utils.NPZArray{Name: arrSparseIndptr, Value: indptr},
				utils.NPZArray{Name: arrSparseIndices, Value: indices},
				utils.NPZArray{Name: arrSparseValues, Value: values},
			)
		}
		if err := utils.WriteNPZ(filepath.Join(w.questionDir, e.QuestionID+".npz"), arrays...); err != nil {
			return err
		}
	}
	if w.parquet != nil {
		return w.parquet.WriteQuestions(ctx, entries)
	}
	return nil
}

// Close releases the Parquet writer.
func (w *Writer) Close() error {
	if w.parquet != nil {
		return w.parquet.Close()
	}
	return nil
}

// ReadContext loads an entry written by WriteContext together with its
// phrase texts.
func ReadContext(contextDir, contextID string) (*types.IndexEntry, []string, error) {
	base := filepath.Join(contextDir, contextID)
	r, err := npz.Open(base + ".npz")
	if err != nil {
		return nil, nil, fmt.Errorf("open %s.npz: %w", base, err)
	}
	defer r.Close()

	dense, err := utils.ReadNPZMatrix(base+".npz", arrDense)
	if err != nil {
		return nil, nil, err
	}
	flat, err := utils.ReadNPZInts(r, arrSpans)
	if err != nil {
		return nil, nil, err
	}
	entry := &types.IndexEntry{ContextID: contextID, Dense: dense}
	for k := 0; k+1 < len(flat); k += 2 {
		entry.Spans = append(entry.Spans, types.Span{Start: flat[k], End: flat[k+1]})
	}

	keys := map[string]bool{}
	for _, k := range r.Keys() {
		keys[strings.TrimSuffix(k, ".npy")] = true
	}
	if keys[arrSparseIndptr] {
		indptr, err := utils.ReadNPZInts(r, arrSparseIndptr)
		if err != nil {
			return nil, nil, err
		}
		indices, err := utils.ReadNPZInts(r, arrSparseIndices)
		if err != nil {
			return nil, nil, err
		}
		values, err := utils.ReadNPZFloats(r, arrSparseValues)
		if err != nil {
			return nil, nil, err
		}
		if len(indptr) != len(entry.Spans)+1 || len(indices) != len(values) {
			return nil, nil, fmt.Errorf("%s: %w: sparse arrays", contextID, types.ErrShapeMismatch)
		}
		entry.Sparse = make([]types.SparseVector, len(entry.Spans))
		for i := range entry.Sparse {
			lo, hi := indptr[i], indptr[i+1]
			entry.Sparse[i] = types.SparseVector{
				Indices:   append([]int(nil), indices[lo:hi]...),
				Values:    append([]float64(nil), values[lo:hi]...),
				VocabSize: types.SparseVocabSize,
			}
		}
	}
	if keys[arrFilterScores] {
		if entry.FilterScores, err = utils.ReadNPZFloats(r, arrFilterScores); err != nil {
			return nil, nil, err
		}
	}
	if err := entry.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", contextID, err)
	}

	var texts []string
	if err := utils.ReadJSON(base+".json", &texts); err != nil {
		return nil, nil, err
	}
	return entry, texts, nil
}

// ReadPhrases reads the Parquet rows of one context phrase file.
func ReadPhrases(path string) ([]utils.ParquetPhrase, error) {
	return utils.ReadParquetPhrases(path)
}

func spanArray(spans []types.Span) []int64 {
	out := make([]int64, 0, 2*len(spans))
	for _, s := range spans {
		out = append(out, int64(s.Start), int64(s.End))
	}
	return out
}

func sparseArrays(rows []types.SparseVector) ([]int64, []int64, []float64) {
	indptr := make([]int64, len(rows)+1)
	indices := []int64{}
	values := []float64{}
	for i, row := range rows {
		for k, idx := range row.Indices {
			indices = append(indices, int64(idx))
			values = append(values, row.Values[k])
		}
		indptr[i+1] = int64(len(values))
	}
	return indptr, indices, values
}
