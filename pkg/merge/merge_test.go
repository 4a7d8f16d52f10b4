package merge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/soundprediction/piqa/pkg/squad"
	"github.com/soundprediction/piqa/pkg/types"
	"github.com/soundprediction/piqa/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func tfidf(vocab int, pairs ...float64) types.SparseVector {
	v := types.SparseVector{VocabSize: vocab}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Indices = append(v.Indices, int(pairs[i]))
		v.Values = append(v.Values, pairs[i+1])
	}
	return v
}

func TestScoreContextPicksHigherSimilarity(t *testing.T) {
	b := &Bundle{
		ContextID:     "Doc_0",
		Docs:          []DocBlock{{Title: "Doc", Tfidf: tfidf(3, 0, 1), Count: 2}},
		Phrases:       mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		Texts:         []string{"first phrase", "second phrase"},
		QuestionIDs:   []string{"q1"},
		QuestionTfidf: []types.SparseVector{tfidf(3, 0, 1)},
		Questions:     mat.NewDense(1, 2, []float64{0, 1}),
	}

	preds, err := NewScorer(DefaultTfidfWeight).ScoreContext(b)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "q1", preds[0].QuestionID)
	assert.Equal(t, "second phrase", preds[0].Text)
	assert.Equal(t, 1, preds[0].Index)
	assert.InDelta(t, 101.0, preds[0].Score, 1e-9)
}

func TestScoreContextTiesGoToFirstPhrase(t *testing.T) {
	b := &Bundle{
		ContextID:     "Doc_0",
		Docs:          []DocBlock{{Title: "Doc", Tfidf: tfidf(2), Count: 3}},
		Phrases:       mat.NewDense(3, 1, []float64{1, 1, 1}),
		Texts:         []string{"a", "b", "c"},
		QuestionIDs:   []string{"q"},
		QuestionTfidf: []types.SparseVector{tfidf(2)},
		Questions:     mat.NewDense(1, 1, []float64{2}),
	}
	s := &Scorer{TfidfWeight: 1, NBest: 2}
	preds, err := s.ScoreContext(b)
	require.NoError(t, err)
	assert.Equal(t, "a", preds[0].Text)
	require.Len(t, preds[0].NBest, 2)
	assert.Equal(t, []int{0, 1}, []int{preds[0].NBest[0].Index, preds[0].NBest[1].Index})
}

func TestScoreContextTfidfWeight(t *testing.T) {
	// The negative phrase wins on dense similarity; the positive document
	// matches the question lexically.
	bundle := func() *Bundle {
		return &Bundle{
			ContextID: "Pos_0",
			Docs: []DocBlock{
				{Title: "Neg", Tfidf: tfidf(4, 1, 1), Count: 1},
				{Title: "Pos", Tfidf: tfidf(4, 0, 1, 0, 0.5), Count: 1},
			},
			Phrases:       mat.NewDense(2, 1, []float64{2, 1}),
			Texts:         []string{"negative", "positive"},
			QuestionIDs:   []string{"q"},
			QuestionTfidf: []types.SparseVector{tfidf(4, 0, 1)},
			Questions:     mat.NewDense(1, 1, []float64{1}),
		}
	}

	preds, err := NewScorer(10).ScoreContext(bundle())
	require.NoError(t, err)
	assert.Equal(t, "positive", preds[0].Text)
	// Repeated indices are summed: 10*1.5 * 10*1 + 1.
	assert.InDelta(t, 151.0, preds[0].Score, 1e-9)

	preds, err = NewScorer(0).ScoreContext(bundle())
	require.NoError(t, err)
	assert.Equal(t, "negative", preds[0].Text)
}

func TestBundleValidate(t *testing.T) {
	base := func() *Bundle {
		return &Bundle{
			ContextID:     "Doc_0",
			Docs:          []DocBlock{{Title: "Doc", Tfidf: tfidf(3, 0, 1), Count: 2}},
			Phrases:       mat.NewDense(2, 2, nil),
			Texts:         []string{"a", "b"},
			QuestionIDs:   []string{"q"},
			QuestionTfidf: []types.SparseVector{tfidf(3)},
			Questions:     mat.NewDense(1, 2, nil),
		}
	}
	tests := []struct {
		name   string
		mutate func(b *Bundle)
		want   error
	}{
		{name: "valid", mutate: func(b *Bundle) {}},
		{name: "declared count", mutate: func(b *Bundle) { b.Docs[0].Count = 3 }, want: ErrCountMismatch},
		{name: "texts", mutate: func(b *Bundle) { b.Texts = b.Texts[:1] }, want: ErrCountMismatch},
		{name: "question width", mutate: func(b *Bundle) { b.Questions = mat.NewDense(1, 3, nil) }, want: ErrCountMismatch},
		{name: "question tfidf rows", mutate: func(b *Bundle) { b.QuestionTfidf = nil }, want: ErrCountMismatch},
		{name: "vocabulary", mutate: func(b *Bundle) { b.QuestionTfidf[0].VocabSize = 5 }, want: ErrCountMismatch},
		{name: "index out of range", mutate: func(b *Bundle) { b.Docs[0].Tfidf = tfidf(3, 7, 1) }, want: types.ErrShapeMismatch},
		{name: "no phrases", mutate: func(b *Bundle) { b.Phrases = nil }, want: ErrNoPhrases},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := base()
			tt.mutate(b)
			err := b.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMetadataJSON(t *testing.T) {
	md := Metadata{NumEvalPar: 1, Sources: []string{"Other"}, NumPhrases: []int{4, 6}}
	data, err := json.Marshal(md)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "Other", raw["context_src_0"])
	assert.EqualValues(t, 6, raw["num_phrases_1"])

	var back Metadata
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, md, back)

	err = json.Unmarshal([]byte(`{"num_eval_par": 1, "num_phrases_0": 2}`), &back)
	assert.ErrorIs(t, err, ErrMissingInput)
}

type fixture struct {
	root, contexts, docs, questions, questionTfidf string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		root:          root,
		contexts:      filepath.Join(root, "contexts"),
		docs:          filepath.Join(root, "docs"),
		questions:     filepath.Join(root, "questions"),
		questionTfidf: filepath.Join(root, "questions_tfidf"),
	}
	for _, d := range []string{f.contexts, f.docs, f.questions, f.questionTfidf} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	require.NoError(t, WriteCSR(filepath.Join(f.docs, NegDocMatrix), []types.SparseVector{tfidf(3, 2, 1)}, 3))
	require.NoError(t, utils.WriteJSON(filepath.Join(f.docs, NegDocTitles), []string{"Other"}))
	require.NoError(t, WriteCSR(filepath.Join(f.docs, PosDocMatrix), []types.SparseVector{tfidf(3, 0, 1), tfidf(3, 1, 1)}, 3))
	require.NoError(t, utils.WriteJSON(filepath.Join(f.docs, PosDocTitles), []string{"Doc", "Second"}))
	return f
}

func (f fixture) addContext(t *testing.T, cid string, md *Metadata, phrases *mat.Dense, texts []string) {
	t.Helper()
	if md != nil {
		require.NoError(t, utils.WriteJSON(filepath.Join(f.contexts, cid+".metadata"), md))
	}
	require.NoError(t, utils.WriteNPZ(filepath.Join(f.contexts, cid+".npz"), utils.NPZArray{Name: "arr_0", Value: phrases}))
	require.NoError(t, utils.WriteJSON(filepath.Join(f.contexts, cid+".json"), texts))
}

func (f fixture) addQuestion(t *testing.T, qid string, dense []float64, tf types.SparseVector) {
	t.Helper()
	require.NoError(t, utils.WriteNPZ(filepath.Join(f.questions, qid+".npz"),
		utils.NPZArray{Name: "arr_0", Value: mat.NewDense(1, len(dense), dense)}))
	require.NoError(t, WriteCSR(filepath.Join(f.questionTfidf, qid+".tfidf.npz"), []types.SparseVector{tf}, tf.VocabSize))
}

func (f fixture) loader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader(f.contexts, f.docs, f.questions, f.questionTfidf, nil)
	require.NoError(t, err)
	return l
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	// Doc_0: one negative phrase from "Other", two positive phrases.
	f.addContext(t, "Doc_0",
		&Metadata{NumEvalPar: 1, Sources: []string{"Other"}, NumPhrases: []int{1, 2}},
		mat.NewDense(3, 2, []float64{5, 5, 1, 0, 0, 1}),
		[]string{"distractor", "alpha", "beta"})
	f.addQuestion(t, "q1", []float64{0, 1}, tfidf(3, 0, 1))
	f.addQuestion(t, "q2", []float64{1, 0}, tfidf(3, 0, 1))
	// Second_0 has no metadata and is skipped.
	f.addContext(t, "Second_0", nil, mat.NewDense(1, 2, []float64{1, 1}), []string{"x"})

	c2q := []squad.ContextQuestions{
		{ContextID: "Second_0", QuestionIDs: []string{"q9"}},
		{ContextID: "Doc_0", QuestionIDs: []string{"q1", "q2"}},
	}
	res, err := Run(context.Background(), c2q, f.loader(t), Options{TfidfWeight: 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"q1": "beta", "q2": "alpha"}, res.Predictions)
	assert.Equal(t, 1, res.Contexts)
	assert.Equal(t, 1, res.Skipped)

	out := filepath.Join(f.root, "pred.json")
	require.NoError(t, WritePredictions(out, res.Predictions))
	var written map[string]string
	require.NoError(t, utils.ReadJSON(out, &written))
	assert.Equal(t, res.Predictions, written)
}

func TestRunDraftStopsAfterFirstContext(t *testing.T) {
	f := newFixture(t)
	md := &Metadata{NumPhrases: []int{1}}
	f.addContext(t, "Doc_0", md, mat.NewDense(1, 1, []float64{1}), []string{"one"})
	f.addContext(t, "Second_0", md, mat.NewDense(1, 1, []float64{1}), []string{"two"})
	f.addQuestion(t, "a", []float64{1}, tfidf(3))
	f.addQuestion(t, "b", []float64{1}, tfidf(3))

	c2q := []squad.ContextQuestions{
		{ContextID: "Doc_0", QuestionIDs: []string{"a"}},
		{ContextID: "Second_0", QuestionIDs: []string{"b"}},
	}
	res, err := Run(context.Background(), c2q, f.loader(t), Options{TfidfWeight: 10, Draft: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "one"}, res.Predictions)
}

func TestRunAbortsOnMismatch(t *testing.T) {
	f := newFixture(t)
	f.addContext(t, "Doc_0",
		&Metadata{NumPhrases: []int{3}},
		mat.NewDense(2, 1, []float64{1, 2}),
		[]string{"a", "b"})
	f.addQuestion(t, "q", []float64{1}, tfidf(3))

	_, err := Run(context.Background(), []squad.ContextQuestions{{ContextID: "Doc_0", QuestionIDs: []string{"q"}}}, f.loader(t), Options{TfidfWeight: 10}, nil)
	assert.ErrorIs(t, err, ErrCountMismatch)
}

func TestRunMissingQuestionFile(t *testing.T) {
	f := newFixture(t)
	f.addContext(t, "Doc_0", &Metadata{NumPhrases: []int{1}}, mat.NewDense(1, 1, []float64{1}), []string{"a"})

	_, err := Run(context.Background(), []squad.ContextQuestions{{ContextID: "Doc_0", QuestionIDs: []string{"nope"}}}, f.loader(t), Options{}, nil)
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestRunUnknownNegativeDocument(t *testing.T) {
	f := newFixture(t)
	f.addContext(t, "Doc_0",
		&Metadata{NumEvalPar: 1, Sources: []string{"Missing"}, NumPhrases: []int{1, 1}},
		mat.NewDense(2, 1, []float64{1, 1}), []string{"a", "b"})

	_, err := Run(context.Background(), []squad.ContextQuestions{{ContextID: "Doc_0"}}, f.loader(t), Options{}, nil)
	assert.ErrorIs(t, err, ErrUnknownDocument)
}

func TestNewLoaderMissingDocs(t *testing.T) {
	_, err := NewLoader(t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, []squad.ContextQuestions{{ContextID: "Doc_0"}}, f.loader(t), Options{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
