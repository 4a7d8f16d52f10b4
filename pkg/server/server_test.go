package server

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/piqa/pkg/config"
	"github.com/soundprediction/piqa/pkg/embedder"
	"github.com/soundprediction/piqa/pkg/index"
	"github.com/soundprediction/piqa/pkg/model"
	"github.com/soundprediction/piqa/pkg/nn"
	"github.com/soundprediction/piqa/pkg/server/dto"
	"github.com/soundprediction/piqa/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testConfig() *config.Config {
	return &config.Config{Server: config.ServerConfig{Host: "localhost", Port: 9003, Mode: gin.TestMode}}
}

func testEncoder(t *testing.T) (*Encoder, *model.Model, *embedder.Vocab) {
	t.Helper()
	vocab := embedder.NewVocab([]string{"who", "built", "the", "tower", "eiffel", "?", "in", "paris"})
	table := &embedder.GloveTable{Vocab: vocab, Vectors: nn.Normal(vocab.Size(), 4, rand.New(rand.NewSource(3)))}
	cfg := model.DefaultConfig()
	cfg.HiddenSize = 3
	cfg.EmbedSize = 4
	cfg.MaxAnsLen = 2
	m, err := model.New(cfg, table, nil)
	require.NoError(t, err)
	return NewEncoder(m, vocab), m, vocab
}

func TestNewAndSetup(t *testing.T) {
	s := New(testConfig(), nil, nil, nil)
	require.NotNil(t, s)
	assert.Nil(t, s.phrases)

	var store *PhraseStore
	s = New(testConfig(), nil, store, nil)
	assert.Nil(t, s.phrases)

	s.Setup()
	assert.NotNil(t, s.Handler())
	assert.Equal(t, "localhost:9003", s.Addr())
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestAPIEncodesQuestion(t *testing.T) {
	enc, m, _ := testEncoder(t)
	s := New(testConfig(), enc, nil, nil)
	s.Setup()

	w := serve(s, http.MethodGet, "/api?query=Who+built+the+Eiffel+tower%3F")
	require.Equal(t, http.StatusOK, w.Code)
	var vec []float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vec))
	assert.Len(t, vec, 2*m.Config().DenseSize())

	direct, err := enc.EncodeQuery(context.Background(), "who built the eiffel tower?")
	require.NoError(t, err)
	assert.InDeltaSlice(t, direct, vec, 1e-9)

	assert.Equal(t, http.StatusBadRequest, serve(s, http.MethodGet, "/api").Code)
	assert.Equal(t, http.StatusNoContent, serve(s, http.MethodOptions, "/api").Code)
}

func TestEncoderRejectsEmptyQuery(t *testing.T) {
	enc, _, _ := testEncoder(t)
	_, err := enc.EncodeQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNoTokens)
}

func TestSearchOverIndexedContext(t *testing.T) {
	ctx := context.Background()
	enc, m, vocab := testEncoder(t)
	tokens := embedder.Tokenize("the eiffel tower in paris")

	entries, err := m.GetContext(ctx, []model.Example{{ContextID: "Paris_0", Context: vocab.IDs(tokens)}})
	require.NoError(t, err)

	dir := t.TempDir()
	w, err := index.NewWriter(index.Options{ContextDir: filepath.Join(dir, "ctx"), QuestionDir: filepath.Join(dir, "q")}, nil)
	require.NoError(t, err)
	require.NoError(t, w.WriteContext(ctx, &entries[0], index.PhraseTexts(tokens, entries[0].Spans)))

	store, err := LoadPhraseStore(filepath.Join(dir, "ctx"), m.Config().Metric, nil)
	require.NoError(t, err)
	assert.Equal(t, len(entries[0].Spans), store.Len())

	s := New(testConfig(), enc, store, nil)
	s.Setup()
	resp := serve(s, http.MethodGet, "/api/search?query=where+is+the+tower&k=3")
	require.Equal(t, http.StatusOK, resp.Code)

	var body dto.SearchResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Results, 3)
	for i, r := range body.Results {
		assert.Equal(t, "Paris_0", r.ContextID)
		assert.NotEmpty(t, r.Text)
		if i > 0 {
			assert.GreaterOrEqual(t, body.Results[i-1].Score, r.Score)
		}
	}
}

func TestPhraseStoreMetrics(t *testing.T) {
	entry := &types.IndexEntry{
		ContextID: "c",
		Spans:     []types.Span{{Start: 0, End: 0}, {Start: 1, End: 1}},
		Dense:     mat.NewDense(2, 2, []float64{3, 0, 1, 0}),
	}
	texts := [][]string{{"far", "near"}}

	ip, err := NewPhraseStore([]*types.IndexEntry{entry}, texts, model.MetricIP)
	require.NoError(t, err)
	res, err := ip.Search([]float64{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "far", res[0].Text)

	l2, err := NewPhraseStore([]*types.IndexEntry{entry}, texts, model.MetricL2)
	require.NoError(t, err)
	res, err = l2.Search([]float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "near", res[0].Text)
	assert.InDelta(t, 0.0, res[0].Score, 1e-12)
	assert.InDelta(t, -2.0, res[1].Score, 1e-12)

	_, err = l2.Search([]float64{1}, 1)
	assert.ErrorIs(t, err, types.ErrShapeMismatch)

	empty, err := NewPhraseStore(nil, nil, model.MetricIP)
	require.NoError(t, err)
	res, err = empty.Search([]float64{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestPhraseStoreAddsSparseScore(t *testing.T) {
	vocab := types.SparseVocabSize
	entry := &types.IndexEntry{
		ContextID: "c",
		Spans:     []types.Span{{Start: 0, End: 0}, {Start: 1, End: 1}},
		Dense:     mat.NewDense(2, 2, []float64{2, 0, 1, 0}),
		Sparse: []types.SparseVector{
			{Indices: []int{5}, Values: []float64{1}, VocabSize: vocab},
			{Indices: []int{7, 400009}, Values: []float64{1, 2}, VocabSize: vocab},
		},
	}
	store, err := NewPhraseStore([]*types.IndexEntry{entry}, [][]string{{"dense", "lexical"}}, model.MetricIP)
	require.NoError(t, err)

	q := types.QuestionEntry{
		Dense:  []float64{1, 0},
		Sparse: &types.SparseVector{Indices: []int{7, 400009}, Values: []float64{1, 1}, VocabSize: vocab},
	}
	res, err := store.SearchEntry(q, 2)
	require.NoError(t, err)
	assert.Equal(t, "lexical", res[0].Text)
	assert.InDelta(t, 4.0, res[0].Score, 1e-12)
	assert.InDelta(t, 2.0, res[1].Score, 1e-12)

	// Without a sparse question the dense ranking is unchanged.
	res, err = store.Search([]float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "dense", res[0].Text)
}
