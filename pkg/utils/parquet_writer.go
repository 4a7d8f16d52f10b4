package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/piqa/pkg/types"
)

// ParquetIndexWriter writes phrase and question vectors to Parquet files,
// one file per context or question batch.
type ParquetIndexWriter struct {
	baseDir string
	runID   string
}

// NewParquetIndexWriter creates the phrases and questions directories
// under baseDir. Every row written carries runID.
func NewParquetIndexWriter(baseDir, runID string) (*ParquetIndexWriter, error) {
	for _, d := range []string{"phrases", "questions"} {
		if err := os.MkdirAll(filepath.Join(baseDir, d), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	if runID == "" {
		runID = GenerateUUID()
	}
	return &ParquetIndexWriter{baseDir: baseDir, runID: runID}, nil
}

// RunID identifies the rows written by this writer.
func (w *ParquetIndexWriter) RunID() string { return w.runID }

// ParquetPhrase is the Parquet schema of one indexed phrase.
type ParquetPhrase struct {
	RunID         string    `parquet:"run_id"`
	ContextID     string    `parquet:"context_id"`
	Position      int64     `parquet:"position"`
	Start         int64     `parquet:"start"`
	End           int64     `parquet:"end"`
	Text          string    `parquet:"text"`
	Dense         []float32 `parquet:"dense"`
	SparseIndices []int64   `parquet:"sparse_indices"`
	SparseValues  []float32 `parquet:"sparse_values"`
	FilterScore   *float64  `parquet:"filter_score,optional"`
	CreatedAt     time.Time `parquet:"created_at"`
}

// ParquetQuestion is the Parquet schema of one encoded question.
type ParquetQuestion struct {
	RunID         string    `parquet:"run_id"`
	QuestionID    string    `parquet:"question_id"`
	Dense         []float32 `parquet:"dense"`
	SparseIndices []int64   `parquet:"sparse_indices"`
	SparseValues  []float32 `parquet:"sparse_values"`
	CreatedAt     time.Time `parquet:"created_at"`
}

// PhraseFile is the path of the phrase file for a context.
func (w *ParquetIndexWriter) PhraseFile(contextID string) string {
	return filepath.Join(w.baseDir, "phrases", fmt.Sprintf("phrases_%s.parquet", contextID))
}

// WritePhrases writes the phrases of one context. texts may be nil.
func (w *ParquetIndexWriter) WritePhrases(ctx context.Context, entry *types.IndexEntry, texts []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("context %s: %w", entry.ContextID, err)
	}
	if len(entry.Spans) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]ParquetPhrase, 0, len(entry.Spans))
	for i, span := range entry.Spans {
		row := ParquetPhrase{
			RunID:     w.runID,
			ContextID: entry.ContextID,
			Position:  int64(i),
			Start:     int64(span.Start),
			End:       int64(span.End),
			Dense:     toFloat32(entry.Dense.RawRowView(i)),
			CreatedAt: now,
		}
		if i < len(texts) {
			row.Text = texts[i]
		}
		if entry.Sparse != nil {
			row.SparseIndices, row.SparseValues = sparseColumns(entry.Sparse[i])
		}
		if entry.FilterScores != nil {
			score := entry.FilterScores[i]
			row.FilterScore = &score
		}
		rows = append(rows, row)
	}
	return parquet.WriteFile(w.PhraseFile(entry.ContextID), rows)
}

// WriteQuestions writes a batch of questions to a single file.
func (w *ParquetIndexWriter) WriteQuestions(ctx context.Context, entries []types.QuestionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	rows := make([]ParquetQuestion, 0, len(entries))
	for _, e := range entries {
		row := ParquetQuestion{
			RunID:      w.runID,
			QuestionID: e.QuestionID,
			Dense:      toFloat32(e.Dense),
			CreatedAt:  now,
		}
		if e.Sparse != nil {
			row.SparseIndices, row.SparseValues = sparseColumns(*e.Sparse)
		}
		rows = append(rows, row)
	}
	filename := fmt.Sprintf("questions_%s_%d.parquet", w.runID, now.UnixNano())
	return parquet.WriteFile(filepath.Join(w.baseDir, "questions", filename), rows)
}

// ReadParquetPhrases reads the rows of a phrase file.
func ReadParquetPhrases(path string) ([]ParquetPhrase, error) {
	rows, err := parquet.ReadFile[ParquetPhrase](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// Close is a no-op; every write call owns its file.
func (w *ParquetIndexWriter) Close() error {
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func sparseColumns(v types.SparseVector) ([]int64, []float32) {
	idx := make([]int64, len(v.Indices))
	for i, x := range v.Indices {
		idx[i] = int64(x)
	}
	return idx, toFloat32(v.Values)
}
