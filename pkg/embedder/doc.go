// Package embedder turns token ids into the word vectors the encoders read.
//
// Two families of embedders are provided. GloveTable holds a fixed
// vocabulary and its vectors, loaded from a GloVe text file; it is the
// embedder trained models expect, and its table is shared with the dual
// decoder. TokenEmbedder adapts any text embedding Client into the same
// interface by embedding every token string, with a per-token cache.
//
// # Clients
//
// The following Client implementations are available:
//   - OpenAIEmbedder: text-embedding-3-small, text-embedding-3-large, text-embedding-ada-002
//   - EmbedEverythingClient: local models through go-embedeverything
//   - CircuitBreakerClient: wraps either with a circuit breaker
//
// # Usage
//
//	table, err := embedder.LoadGloveFile("glove.840B.300d.txt", 300, 0)
//	if err != nil {
//	    return err
//	}
//	ids := table.Vocab.Encode("Who wrote Hamlet?")
//	x, err := table.Embed(ctx, ids)
package embedder
