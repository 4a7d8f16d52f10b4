package piqa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/soundprediction/piqa/pkg/checkpoint"
	"github.com/soundprediction/piqa/pkg/config"
	"github.com/soundprediction/piqa/pkg/embedder"
	"github.com/soundprediction/piqa/pkg/logger"
	"github.com/soundprediction/piqa/pkg/model"
	"github.com/soundprediction/piqa/pkg/squad"
	"github.com/soundprediction/piqa/pkg/telemetry"
)

// newLogger builds the logger for one command. When a telemetry path is
// configured, error records are also kept as parquet; the returned func
// flushes them.
func newLogger(cfg *config.Config, command string) (*slog.Logger, func()) {
	base := logger.NewLogger(os.Stderr, cfg.Log.Format, logger.ParseLevel(cfg.Log.Level))
	if cfg.Telemetry.ParquetPath == "" {
		return base, func() {}
	}

	h, err := telemetry.NewParquetHandler(base.Handler(), cfg.Telemetry.ParquetPath, telemetry.Options{Command: command})
	if err != nil {
		base.Warn("Error tracking disabled", "error", err)
		return base, func() {}
	}
	return slog.New(h), func() {
		if err := h.Close(); err != nil {
			base.Warn("Failed to flush telemetry", "error", err)
		}
	}
}

// datasetVocab collects every token of a dataset, contexts first.
func datasetVocab(ds *squad.Dataset) *embedder.Vocab {
	vocab := embedder.NewVocab(nil)
	if ds == nil {
		return vocab
	}
	for _, c := range ds.Contexts() {
		for _, w := range embedder.Tokenize(c.Text) {
			vocab.Add(w)
		}
	}
	for _, q := range ds.Questions() {
		for _, w := range embedder.Tokenize(q.Text) {
			vocab.Add(w)
		}
	}
	return vocab
}

// newEmbedder builds the token embedder selected by cfg.Embedding.Provider.
// GloVe brings its own vocabulary; the remote providers embed the words of
// ds on demand. The returned func releases the client.
func newEmbedder(cfg *config.Config, ds *squad.Dataset, log *slog.Logger) (model.Embedder, *embedder.Vocab, func(), error) {
	noop := func() {}
	emb := cfg.Embedding

	var client embedder.Client
	switch emb.Provider {
	case "glove":
		table, err := embedder.LoadGloveFile(emb.GlovePath, cfg.Model.EmbedSize, 0)
		if err != nil {
			return nil, nil, noop, err
		}
		log.Info("Loaded GloVe vectors", "path", emb.GlovePath, "words", table.Vocab.Size())
		return table, table.Vocab, noop, nil
	case "openai":
		if emb.APIKey == "" && emb.BaseURL == "" {
			return nil, nil, noop, errors.New("openai embedding provider needs an API key or a base URL")
		}
		dims := emb.Dimensions
		if dims == 0 {
			dims = cfg.Model.EmbedSize
		}
		client = embedder.NewOpenAIEmbedder(emb.APIKey, embedder.Config{
			Model:      emb.Model,
			BaseURL:    emb.BaseURL,
			Dimensions: dims,
			BatchSize:  emb.BatchSize,
		})
	case "embedeverything":
		c, err := embedder.NewEmbedEverythingClient(&embedder.EmbedEverythingConfig{
			Config: &embedder.Config{Model: emb.Model, BatchSize: emb.BatchSize},
		})
		if err != nil {
			return nil, nil, noop, err
		}
		client = c
	default:
		return nil, nil, noop, fmt.Errorf("unsupported embedding provider: %s", emb.Provider)
	}

	if d := client.Dimensions(); d != cfg.Model.EmbedSize {
		client.Close()
		return nil, nil, noop, fmt.Errorf("%s embeddings have %d dimensions, model.embed_size is %d", emb.Provider, d, cfg.Model.EmbedSize)
	}
	if cfg.CircuitBreaker.Enabled {
		client = embedder.NewCircuitBreakerClient(client, cfg.CircuitBreaker, log, emb.Provider)
	}

	vocab := datasetVocab(ds)
	log.Info("Embedding provider ready", "provider", emb.Provider, "model", emb.Model, "vocab", vocab.Size())
	closer := func() {
		if err := client.Close(); err != nil {
			log.Warn("Failed to close embedding client", "error", err)
		}
	}
	return embedder.NewTokenEmbedder(client, vocab, emb.CacheSize), vocab, closer, nil
}

// loadModel restores the configured checkpoint. A missing checkpoint falls
// back to freshly initialised weights from cfg.Model.
func loadModel(ctx context.Context, cfg *config.Config, emb model.Embedder, log *slog.Logger) (*model.Model, error) {
	mgr, err := checkpoint.NewManager(cfg.Checkpoint.Dir)
	if err != nil {
		return nil, err
	}
	m, state, err := mgr.Restore(ctx, cfg.Checkpoint.Name, emb, log)
	switch {
	case err == nil:
		log.Info("Loaded checkpoint", "name", state.Name, "step", state.Step, "params", state.ParamCount)
		return m, nil
	case errors.Is(err, checkpoint.ErrNotFound):
		log.Warn("Checkpoint not found, using fresh weights", "dir", mgr.Dir(), "name", cfg.Checkpoint.Name)
		return model.New(cfg.Model, emb, log)
	default:
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}
}
