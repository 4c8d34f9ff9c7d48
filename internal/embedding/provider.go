// Package embedding implements the Embedding Store (C1): vector generation
// behind a pluggable Provider, L2-normalization, per-document caching
// invalidated by content hash,
// and cosine-similarity search over the resulting vectors.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// Provider generates raw (not yet normalized) embedding vectors for text.
// The concrete transformer runtime behind Provider is out of scope for this
// service; Provider is the seam a real model-serving client plugs into.
type Provider interface {
	Name() string
	Dimensions() int
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	BatchGenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	HealthCheck(ctx context.Context) error
}

// ProviderError is returned by a Provider on failure; the Store wraps it as
// an EMBED_FAILURE service error.
type ProviderError struct {
	Provider    string
	Message     string
	IsRetryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

// ProviderConfig carries the common dial-out settings a real provider
// implementation (OpenAI/Bedrock/local-model-server) would need; unused by
// the in-repo mock but kept so config.go has a concrete shape to bind to.
type ProviderConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	MaxRetries     int
}
