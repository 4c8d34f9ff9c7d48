package embedding

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockProvider is a deterministic, dependency-free stand-in for a real
// transformer-backed embedding provider: same text always yields the same
// vector, so scoring and cache tests stay reproducible.
type MockProvider struct {
	mu          sync.RWMutex
	name        string
	dimensions  int
	latency     time.Duration
	failureRate float64
	closed      bool
}

// MockProviderOption configures a MockProvider.
type MockProviderOption func(*MockProvider)

// WithMockLatency simulates per-call latency.
func WithMockLatency(d time.Duration) MockProviderOption {
	return func(m *MockProvider) { m.latency = d }
}

// WithMockFailureRate causes GenerateEmbedding to fail a fraction of calls,
// for exercising the EMBED_FAILURE fallback path.
func WithMockFailureRate(rate float64) MockProviderOption {
	return func(m *MockProvider) { m.failureRate = rate }
}

// NewMockProvider constructs a MockProvider producing vectors of the given
// dimension.
func NewMockProvider(name string, dimensions int, opts ...MockProviderOption) *MockProvider {
	m := &MockProvider{name: name, dimensions: dimensions}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Dimensions() int { return m.dimensions }

func (m *MockProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	m.mu.RLock()
	closed := m.closed
	latency := m.latency
	failureRate := m.failureRate
	m.mu.RUnlock()

	if closed {
		return nil, &ProviderError{Provider: m.name, Message: "provider is closed"}
	}

	if latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
	}

	if failureRate > 0 && rand.Float64() < failureRate {
		return nil, &ProviderError{Provider: m.name, Message: "simulated embedding failure", IsRetryable: true}
	}

	return deterministicVector(text, m.dimensions), nil
}

func (m *MockProvider) BatchGenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.GenerateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return &ProviderError{Provider: m.name, Message: "provider is closed"}
	}
	return nil
}

// Close marks the provider unusable; subsequent calls return ProviderError.
func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// deterministicVector derives a reproducible pseudo-embedding from text so
// the same content always hashes to the same vector, independent of process
// restarts.
func deterministicVector(text string, dimensions int) []float32 {
	hash := int64(14695981039346656037)
	for _, ch := range text {
		hash = (hash ^ int64(ch)) * 1099511628211
	}
	r := rand.New(rand.NewSource(hash))

	vec := make([]float32, dimensions)
	for i := 0; i < dimensions; i++ {
		base := r.Float64()*2 - 1
		wave := math.Sin(float64(i)*0.1) * 0.15
		vec[i] = float32(base*0.85 + wave)
	}
	return vec
}
