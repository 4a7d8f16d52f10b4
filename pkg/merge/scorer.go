// Package merge scores questions against the phrases of their context by
// concatenating TF-IDF document vectors with dense phrase vectors and
// taking the best phrase per question.
package merge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/soundprediction/piqa/pkg/types"
	"github.com/soundprediction/piqa/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

// DefaultTfidfWeight scales both TF-IDF blocks before concatenation.
const DefaultTfidfWeight = 10.0

var (
	// ErrCountMismatch is returned when phrase, text, or question rows do
	// not line up with the declared counts.
	ErrCountMismatch = errors.New("row count mismatch")
	// ErrNoPhrases is returned for a context without phrases.
	ErrNoPhrases = errors.New("context has no phrases")
)

// DocBlock is one document TF-IDF vector repeated for Count phrases.
type DocBlock struct {
	Title string
	Tfidf types.SparseVector
	Count int
}

// Bundle holds everything needed to answer the questions of one context.
// Doc blocks cover the phrase rows in order: negative documents first,
// the positive document last.
type Bundle struct {
	ContextID     string
	Docs          []DocBlock
	Phrases       *mat.Dense // P x D
	Texts         []string   // P
	QuestionIDs   []string
	QuestionTfidf []types.SparseVector
	Questions     *mat.Dense // Q x D
}

// Candidate is a scored phrase.
type Candidate struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Prediction is the best phrase for one question. NBest is filled when the
// scorer keeps more than one candidate.
type Prediction struct {
	QuestionID string      `json:"question_id"`
	Text       string      `json:"text"`
	Index      int         `json:"index"`
	Score      float64     `json:"score"`
	NBest      []Candidate `json:"nbest,omitempty"`
}

// Scorer ranks phrases for questions.
type Scorer struct {
	TfidfWeight float64
	NBest       int
}

// NewScorer returns a scorer with the given TF-IDF weight.
func NewScorer(tfidfWeight float64) *Scorer {
	return &Scorer{TfidfWeight: tfidfWeight}
}

// Validate checks the bundle row counts.
func (b *Bundle) Validate() error {
	if b.Phrases == nil {
		return fmt.Errorf("%s: %w", b.ContextID, ErrNoPhrases)
	}
	p, d := b.Phrases.Dims()
	total := 0
	for _, doc := range b.Docs {
		total += doc.Count
	}
	if total != p {
		return fmt.Errorf("%s: %w: documents declare %d phrases, embeddings have %d", b.ContextID, ErrCountMismatch, total, p)
	}
	if len(b.Texts) != p {
		return fmt.Errorf("%s: %w: %d phrase texts for %d phrases", b.ContextID, ErrCountMismatch, len(b.Texts), p)
	}
	q := len(b.QuestionIDs)
	if len(b.QuestionTfidf) != q {
		return fmt.Errorf("%s: %w: %d question tfidf rows for %d questions", b.ContextID, ErrCountMismatch, len(b.QuestionTfidf), q)
	}
	if q == 0 {
		return nil
	}
	if b.Questions == nil {
		return fmt.Errorf("%s: %w: missing question embeddings", b.ContextID, ErrCountMismatch)
	}
	if qr, qd := b.Questions.Dims(); qr != q || qd != d {
		return fmt.Errorf("%s: %w: question embeddings %dx%d, want %dx%d", b.ContextID, ErrCountMismatch, qr, qd, q, d)
	}
	vocab := b.vocabSize()
	for _, doc := range b.Docs {
		if doc.Tfidf.VocabSize != vocab {
			return fmt.Errorf("%s: %w: document %q vocabulary %d, want %d", b.ContextID, ErrCountMismatch, doc.Title, doc.Tfidf.VocabSize, vocab)
		}
		if err := doc.Tfidf.Validate(); err != nil {
			return fmt.Errorf("%s: document %q: %w", b.ContextID, doc.Title, err)
		}
	}
	for i, v := range b.QuestionTfidf {
		if v.VocabSize != vocab {
			return fmt.Errorf("%s: %w: question %s vocabulary %d, want %d", b.ContextID, ErrCountMismatch, b.QuestionIDs[i], v.VocabSize, vocab)
		}
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%s: question %s: %w", b.ContextID, b.QuestionIDs[i], err)
		}
	}
	return nil
}

func (b *Bundle) vocabSize() int {
	if len(b.Docs) > 0 {
		return b.Docs[0].Tfidf.VocabSize
	}
	if len(b.QuestionTfidf) > 0 {
		return b.QuestionTfidf[0].VocabSize
	}
	return 0
}

// ScoreContext answers every question of the bundle with its highest
// scoring phrase. Ties go to the lowest phrase index.
func (s *Scorer) ScoreContext(b *Bundle) ([]Prediction, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if len(b.QuestionIDs) == 0 {
		return nil, nil
	}

	vocab := b.vocabSize()
	phraseRows := make([]csrRow, 0, len(b.Texts))
	for _, doc := range b.Docs {
		for k := 0; k < doc.Count; k++ {
			i := len(phraseRows)
			phraseRows = append(phraseRows, concatRow(doc.Tfidf, s.TfidfWeight, b.Phrases.RawRowView(i), vocab))
		}
	}
	questionRows := make([]csrRow, len(b.QuestionIDs))
	for i := range b.QuestionIDs {
		questionRows[i] = concatRow(b.QuestionTfidf[i], s.TfidfWeight, b.Questions.RawRowView(i), vocab)
	}

	_, d := b.Phrases.Dims()
	phrases := buildCSR(phraseRows, vocab+d)
	questions := buildCSR(questionRows, vocab+d)

	var sim sparse.CSR
	sim.Mul(questions, phrases.T())

	p := len(b.Texts)
	preds := make([]Prediction, len(b.QuestionIDs))
	scores := make([]float64, p)
	for qi, qid := range b.QuestionIDs {
		for pi := 0; pi < p; pi++ {
			scores[pi] = sim.At(qi, pi)
		}
		best := utils.ArgMax(scores)
		preds[qi] = Prediction{QuestionID: qid, Text: b.Texts[best], Index: best, Score: scores[best]}
		if s.NBest > 1 {
			for _, idx := range utils.TopKIndicesByScore(scores, s.NBest) {
				preds[qi].NBest = append(preds[qi].NBest, Candidate{Index: idx, Text: b.Texts[idx], Score: scores[idx]})
			}
		}
	}
	return preds, nil
}

type csrRow struct {
	cols []int
	vals []float64
}

// concatRow lays out [w*tfidf | dense] with the dense block starting at
// column vocab. Repeated TF-IDF indices are summed.
func concatRow(tfidf types.SparseVector, w float64, dense []float64, vocab int) csrRow {
	acc := make(map[int]float64, len(tfidf.Indices))
	for k, idx := range tfidf.Indices {
		acc[idx] += w * tfidf.Values[k]
	}
	row := csrRow{
		cols: make([]int, 0, len(acc)+len(dense)),
		vals: make([]float64, 0, len(acc)+len(dense)),
	}
	keys := make([]int, 0, len(acc))
	for idx := range acc {
		keys = append(keys, idx)
	}
	sort.Ints(keys)
	for _, idx := range keys {
		if acc[idx] == 0 {
			continue
		}
		row.cols = append(row.cols, idx)
		row.vals = append(row.vals, acc[idx])
	}
	for j, v := range dense {
		if v == 0 {
			continue
		}
		row.cols = append(row.cols, vocab+j)
		row.vals = append(row.vals, v)
	}
	return row
}

func buildCSR(rows []csrRow, cols int) *sparse.CSR {
	ia := make([]int, len(rows)+1)
	var ja []int
	var data []float64
	for i, r := range rows {
		ja = append(ja, r.cols...)
		data = append(data, r.vals...)
		ia[i+1] = len(ja)
	}
	return sparse.NewCSR(len(rows), cols, ia, ja, data)
}
