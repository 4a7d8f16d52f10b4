package embedder

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// TokenEmbedder embeds token ids by sending their words to a Client.
// Vectors are cached per id up to cacheSize entries (unbounded when
// cacheSize <= 0); padding is zero.
type TokenEmbedder struct {
	client    Client
	vocab     *Vocab
	cacheSize int

	mu    sync.RWMutex
	cache map[int][]float64
}

func NewTokenEmbedder(client Client, vocab *Vocab, cacheSize int) *TokenEmbedder {
	return &TokenEmbedder{
		client:    client,
		vocab:     vocab,
		cacheSize: cacheSize,
		cache:     make(map[int][]float64),
	}
}

// Embed returns a len(ids) x Dimensions() matrix.
func (t *TokenEmbedder) Embed(ctx context.Context, ids []int) (*mat.Dense, error) {
	dim := t.client.Dimensions()
	out := mat.NewDense(len(ids), dim, nil)

	var missing []int
	var words []string
	queued := map[int]bool{}
	t.mu.RLock()
	for _, id := range ids {
		if id == PadID || queued[id] {
			continue
		}
		if _, ok := t.cache[id]; !ok {
			queued[id] = true
			missing = append(missing, id)
			words = append(words, t.vocab.Word(id))
		}
	}
	t.mu.RUnlock()

	fetched := make(map[int][]float64, len(missing))
	if len(words) > 0 {
		vecs, err := t.client.Embed(ctx, words)
		if err != nil {
			return nil, fmt.Errorf("embed tokens: %w", err)
		}
		if len(vecs) != len(words) {
			return nil, fmt.Errorf("embed tokens: got %d vectors for %d words", len(vecs), len(words))
		}
		for k, id := range missing {
			if len(vecs[k]) != dim {
				return nil, fmt.Errorf("embed tokens: %q has %d dimensions, want %d", words[k], len(vecs[k]), dim)
			}
			row := make([]float64, dim)
			for j, v := range vecs[k] {
				row[j] = float64(v)
			}
			fetched[id] = row
		}
		t.store(fetched)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, id := range ids {
		if id == PadID {
			continue
		}
		row, ok := fetched[id]
		if !ok {
			row = t.cache[id]
		}
		out.SetRow(i, row)
	}
	return out, nil
}

func (t *TokenEmbedder) store(rows map[int][]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, row := range rows {
		if t.cacheSize > 0 && len(t.cache) >= t.cacheSize {
			return
		}
		t.cache[id] = row
	}
}

// Weights returns nil: a remote client has no fixed table.
func (t *TokenEmbedder) Weights() *mat.Dense {
	return nil
}

// CacheLen reports the number of cached token vectors.
func (t *TokenEmbedder) CacheLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cache)
}
