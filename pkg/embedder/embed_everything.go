package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/soundprediction/go-embedeverything/pkg/embedder"
)

// ErrNoEmbeddings is returned when a backend answers with fewer vectors
// than requested.
var ErrNoEmbeddings = errors.New("no embeddings returned")

// EmbedEverythingClient runs a local embedding model through
// go-embedeverything.
type EmbedEverythingClient struct {
	model *embedder.Embedder
	cfg   Config
}

// EmbedEverythingConfig extends Config with EmbedEverything-specific settings.
type EmbedEverythingConfig struct {
	*Config
}

// NewEmbedEverythingClient loads a local embedding model. When no
// dimension is configured it is measured by embedding one sample word.
func NewEmbedEverythingClient(config *EmbedEverythingConfig) (*EmbedEverythingClient, error) {
	cfg := Config{}
	if config != nil && config.Config != nil {
		cfg = *config.Config
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	m, err := embedder.NewEmbedder(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	e := &EmbedEverythingClient{model: m, cfg: cfg}

	if e.cfg.Dimensions == 0 {
		sample, err := e.EmbedSingle(context.Background(), "the")
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to measure embedding size: %w", err)
		}
		e.cfg.Dimensions = len(sample)
	}
	return e, nil
}

// Embed generates embeddings for texts in batches of Config.BatchSize.
// The context is checked between batches.
func (e *EmbedEverythingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.cfg.BatchSize, len(texts))
		vecs, err := e.model.Embed(texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: %d of %d", ErrNoEmbeddings, len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedSingle generates an embedding for a single text.
func (e *EmbedEverythingClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (e *EmbedEverythingClient) Dimensions() int {
	return e.cfg.Dimensions
}

// Close releases the model.
func (e *EmbedEverythingClient) Close() error {
	e.model.Close()
	return nil
}
