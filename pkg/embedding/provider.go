package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingFailed is returned after retries against the gateway are
// exhausted. Callers mark the affected chunk embedding-failed and keep it
// out of the searchable index.
var ErrEmbeddingFailed = errors.New("embedding generation failed")

// Provider generates vector embeddings from text. Implementations must
// support batching: one call, one vector per input, same order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
