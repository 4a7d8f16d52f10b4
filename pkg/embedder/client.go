package embedder

import "context"

// Client produces text embeddings.
type Client interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle embeds one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the width of every returned vector.
	Dimensions() int
	Close() error
}

// Config holds the settings shared by the remote clients.
type Config struct {
	Model      string
	BaseURL    string
	Dimensions int
	BatchSize  int
}
