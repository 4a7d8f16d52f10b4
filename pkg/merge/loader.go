package merge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio/npz"
	"github.com/soundprediction/piqa/pkg/squad"
	"github.com/soundprediction/piqa/pkg/types"
	"github.com/soundprediction/piqa/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrMissingInput is returned when a required input file is absent.
	ErrMissingInput = errors.New("missing merge input")
	// ErrNoMetadata marks a context without a metadata file. Run skips it.
	ErrNoMetadata = errors.New("context metadata not found")
	// ErrUnknownDocument is returned when metadata names a document that
	// the TF-IDF matrices do not contain.
	ErrUnknownDocument = errors.New("unknown document title")
)

// File names inside the document TF-IDF directory.
const (
	NegDocMatrix = "neg_doc_mat.npz"
	NegDocTitles = "neg_doc_titles.json"
	PosDocMatrix = "pos_doc_mat.npz"
	PosDocTitles = "pos_doc_titles.json"
)

// Metadata describes which documents the phrases of a context came from.
// Phrases of the NumEvalPar negative documents come first, followed by the
// phrases of the positive document.
type Metadata struct {
	NumEvalPar int
	Sources    []string // negative document titles
	NumPhrases []int    // NumEvalPar+1 counts, positive document last
}

// MarshalJSON writes the flat num_eval_par / context_src_<i> /
// num_phrases_<i> layout.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{"num_eval_par": m.NumEvalPar}
	for i, src := range m.Sources {
		out[fmt.Sprintf("context_src_%d", i)] = src
	}
	for i, n := range m.NumPhrases {
		out[fmt.Sprintf("num_phrases_%d", i)] = n
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat layout written by MarshalJSON.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	field := func(key string, v interface{}) error {
		msg, ok := raw[key]
		if !ok {
			return fmt.Errorf("%w: metadata key %s", ErrMissingInput, key)
		}
		return json.Unmarshal(msg, v)
	}
	if err := field("num_eval_par", &m.NumEvalPar); err != nil {
		return err
	}
	m.Sources = make([]string, m.NumEvalPar)
	m.NumPhrases = make([]int, m.NumEvalPar+1)
	for i := 0; i < m.NumEvalPar; i++ {
		if err := field(fmt.Sprintf("context_src_%d", i), &m.Sources[i]); err != nil {
			return err
		}
	}
	for i := 0; i <= m.NumEvalPar; i++ {
		if err := field(fmt.Sprintf("num_phrases_%d", i), &m.NumPhrases[i]); err != nil {
			return err
		}
	}
	return nil
}

// DocMatrix is a TF-IDF matrix with one row per document title.
type DocMatrix struct {
	Titles    map[string]int
	Rows      []types.SparseVector
	VocabSize int
}

// Row returns the TF-IDF vector of a document.
func (m *DocMatrix) Row(title string) (types.SparseVector, error) {
	i, ok := m.Titles[title]
	if !ok || i < 0 || i >= len(m.Rows) {
		return types.SparseVector{}, fmt.Errorf("%w: %q", ErrUnknownDocument, title)
	}
	return m.Rows[i], nil
}

// LoadDocMatrix reads a scipy CSR matrix and the JSON list of its row
// titles.
func LoadDocMatrix(matrixPath, titlesPath string) (*DocMatrix, error) {
	rows, vocab, err := ReadCSR(matrixPath)
	if err != nil {
		return nil, err
	}
	var titles []string
	if err := readJSON(titlesPath, &titles); err != nil {
		return nil, err
	}
	if len(titles) != len(rows) {
		return nil, fmt.Errorf("%w: %d titles for %d rows in %s", ErrCountMismatch, len(titles), len(rows), matrixPath)
	}
	m := &DocMatrix{Titles: make(map[string]int, len(titles)), Rows: rows, VocabSize: vocab}
	for i, t := range titles {
		m.Titles[t] = i
	}
	return m, nil
}

// ReadCSR reads a matrix saved by scipy.sparse.save_npz in CSR layout as
// one sparse vector per row.
func ReadCSR(path string) ([]types.SparseVector, int, error) {
	if err := requireFile(path); err != nil {
		return nil, 0, err
	}
	r, err := npz.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	shape, err := utils.ReadNPZInts(r, "shape")
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	if len(shape) != 2 {
		return nil, 0, fmt.Errorf("%s: %w: shape %v", path, ErrCountMismatch, shape)
	}
	indptr, err := utils.ReadNPZInts(r, "indptr")
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	indices, err := utils.ReadNPZInts(r, "indices")
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	data, err := utils.ReadNPZFloats(r, "data")
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	nrows, ncols := shape[0], shape[1]
	if len(indptr) != nrows+1 || len(indices) != len(data) || indptr[nrows] != len(data) {
		return nil, 0, fmt.Errorf("%s: %w: malformed CSR arrays", path, ErrCountMismatch)
	}
	rows := make([]types.SparseVector, nrows)
	for i := 0; i < nrows; i++ {
		lo, hi := indptr[i], indptr[i+1]
		rows[i] = types.SparseVector{
			Indices:   append([]int(nil), indices[lo:hi]...),
			Values:    append([]float64(nil), data[lo:hi]...),
			VocabSize: ncols,
		}
	}
	return rows, ncols, nil
}

// WriteCSR saves rows in the scipy CSR npz layout.
func WriteCSR(path string, rows []types.SparseVector, vocab int) error {
	indptr := make([]int64, len(rows)+1)
	var indices []int32
	var data []float64
	for i, row := range rows {
		for k, idx := range row.Indices {
			indices = append(indices, int32(idx))
			data = append(data, row.Values[k])
		}
		indptr[i+1] = int64(len(data))
	}
	if indices == nil {
		indices = []int32{}
		data = []float64{}
	}
	return utils.WriteNPZ(path,
		utils.NPZArray{Name: "indices", Value: indices},
		utils.NPZArray{Name: "indptr", Value: indptr},
		utils.NPZArray{Name: "shape", Value: []int64{int64(len(rows)), int64(vocab)}},
		utils.NPZArray{Name: "data", Value: data},
	)
}

// Loader assembles Bundles from the directories produced by indexing and
// TF-IDF extraction.
type Loader struct {
	ContextDir       string
	QuestionDir      string
	QuestionTfidfDir string
	Neg              *DocMatrix
	Pos              *DocMatrix
	logger           *slog.Logger
}

// NewLoader loads both document TF-IDF matrices from docTfidfDir.
func NewLoader(contextDir, docTfidfDir, questionDir, questionTfidfDir string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	neg, err := LoadDocMatrix(filepath.Join(docTfidfDir, NegDocMatrix), filepath.Join(docTfidfDir, NegDocTitles))
	if err != nil {
		return nil, fmt.Errorf("negative documents: %w", err)
	}
	pos, err := LoadDocMatrix(filepath.Join(docTfidfDir, PosDocMatrix), filepath.Join(docTfidfDir, PosDocTitles))
	if err != nil {
		return nil, fmt.Errorf("positive documents: %w", err)
	}
	if neg.VocabSize != pos.VocabSize {
		return nil, fmt.Errorf("%w: negative vocabulary %d, positive %d", ErrCountMismatch, neg.VocabSize, pos.VocabSize)
	}
	logger.Debug("Loaded document tfidf", "negative", len(neg.Rows), "positive", len(pos.Rows), "vocab", neg.VocabSize)
	return &Loader{
		ContextDir:       contextDir,
		QuestionDir:      questionDir,
		QuestionTfidfDir: questionTfidfDir,
		Neg:              neg,
		Pos:              pos,
		logger:           logger,
	}, nil
}

// ReadMetadata reads <cid>.metadata. A missing file yields ErrNoMetadata.
func (l *Loader) ReadMetadata(contextID string) (*Metadata, error) {
	path := filepath.Join(l.ContextDir, contextID+".metadata")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoMetadata, path)
	}
	var md Metadata
	if err := readJSON(path, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// Bundle assembles the inputs for one context and its questions.
func (l *Loader) Bundle(cq squad.ContextQuestions) (*Bundle, error) {
	cid := cq.ContextID
	md, err := l.ReadMetadata(cid)
	if err != nil {
		return nil, err
	}

	b := &Bundle{ContextID: cid, QuestionIDs: cq.QuestionIDs}
	for i := 0; i < md.NumEvalPar; i++ {
		vec, err := l.Neg.Row(md.Sources[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cid, err)
		}
		b.Docs = append(b.Docs, DocBlock{Title: md.Sources[i], Tfidf: vec, Count: md.NumPhrases[i]})
	}
	title := squad.DocTitle(cid)
	vec, err := l.Pos.Row(title)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cid, err)
	}
	b.Docs = append(b.Docs, DocBlock{Title: title, Tfidf: vec, Count: md.NumPhrases[md.NumEvalPar]})

	phrasePath := filepath.Join(l.ContextDir, cid+".npz")
	if err := requireFile(phrasePath); err != nil {
		return nil, err
	}
	if b.Phrases, err = utils.ReadNPZMatrix(phrasePath, "arr_0"); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(l.ContextDir, cid+".json"), &b.Texts); err != nil {
		return nil, err
	}

	if len(cq.QuestionIDs) == 0 {
		return b, nil
	}
	_, d := b.Phrases.Dims()
	b.Questions = mat.NewDense(len(cq.QuestionIDs), d, nil)
	for i, qid := range cq.QuestionIDs {
		rows, _, err := ReadCSR(filepath.Join(l.QuestionTfidfDir, qid+".tfidf.npz"))
		if err != nil {
			return nil, err
		}
		if len(rows) != 1 {
			return nil, fmt.Errorf("question %s: %w: %d tfidf rows", qid, ErrCountMismatch, len(rows))
		}
		b.QuestionTfidf = append(b.QuestionTfidf, rows[0])

		qPath := filepath.Join(l.QuestionDir, qid+".npz")
		if err := requireFile(qPath); err != nil {
			return nil, err
		}
		q, err := utils.ReadNPZMatrix(qPath, "arr_0")
		if err != nil {
			return nil, err
		}
		if r, c := q.Dims(); r != 1 || c != d {
			return nil, fmt.Errorf("question %s: %w: embedding %dx%d, want 1x%d", qid, ErrCountMismatch, r, c, d)
		}
		b.Questions.SetRow(i, q.RawRowView(0))
	}
	return b, nil
}

func requireFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingInput, path)
		}
		return err
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	if err := requireFile(path); err != nil {
		return err
	}
	return utils.ReadJSON(path, v)
}
