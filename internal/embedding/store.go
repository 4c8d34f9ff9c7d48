package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// Config controls the Store's behavior, named per SPEC_FULL.md §4.6.
type Config struct {
	MaxCacheSize int
	BatchSize    int
	Parallelism  int
}

// DefaultConfig returns sensible defaults for an in-process Store.
func DefaultConfig() Config {
	return Config{
		MaxCacheSize: 5000,
		BatchSize:    32,
		Parallelism:  4,
	}
}

// Store is the Embedding Store (C1): it produces L2-normalized vectors for
// text, caches them by document id (a cached vector is reused only while the
// text's content hash is unchanged; identical text under different ids is
// embedded separately), and answers cosine-similarity queries.
// Its dimension is fixed for the lifetime of the process; a Provider that
// returns a vector of a different length is a fatal EMBED_DIM condition.
type Store struct {
	provider   Provider
	dimension  int
	config     Config
	cache      *lru.Cache[string, *model.EmbeddingRecord]
	logger     observability.Logger
	metrics    *observability.PromMetricsClient
}

// NewStore constructs a Store bound to provider, whose Dimensions() pins the
// dimension for the process lifetime.
func NewStore(provider Provider, config Config, logger observability.Logger, metrics *observability.PromMetricsClient) (*Store, error) {
	if config.MaxCacheSize <= 0 {
		config.MaxCacheSize = model.DefaultEmbeddingDimension * 10
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}

	cache, err := lru.New[string, *model.EmbeddingRecord](config.MaxCacheSize)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.KindEmbedFailure, "failed to allocate embedding cache", err)
	}

	return &Store{
		provider:  provider,
		dimension: provider.Dimensions(),
		config:    config,
		cache:     cache,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Dimension returns the fixed vector dimension for this process.
func (s *Store) Dimension() int { return s.dimension }

// ContentHash derives the content_hash stored with each record and used to
// detect stale cache entries: a SHA-256 of the exact text used to produce
// the vector, per
// spec.md §3's "content_hash equals the hash of the exact content" invariant.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the L2-normalized embedding for text, serving from the
// document-id cache when the cached record's content hash matches text.
func (s *Store) Embed(ctx context.Context, documentID, text string) (*model.EmbeddingRecord, error) {
	start := time.Now()
	hash := ContentHash(text)

	if rec, ok := s.cache.Get(documentID); ok && !rec.Stale(hash) {
		return rec, nil
	}

	raw, err := s.provider.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.KindEmbedFailure, "embedding generation failed", err).WithOp("embedding.Embed")
	}
	if len(raw) != s.dimension {
		return nil, svcerrors.New(svcerrors.KindEmbedFailure,
			fmt.Sprintf("EMBED_DIM: provider returned %d dimensions, expected %d", len(raw), s.dimension)).
			WithOp("embedding.Embed")
	}

	vec := normalize(raw)
	rec := &model.EmbeddingRecord{
		DocumentID:  documentID,
		Vector:      vec,
		ContentHash: hash,
		CreatedAt:   time.Now(),
	}
	s.cache.Add(documentID, rec)

	if s.metrics != nil {
		s.metrics.RecordSearchOperation("embed", "", time.Since(start).Seconds(), 1)
	}
	return rec, nil
}

// EmbedBatch embeds texts in groups of config.BatchSize with bounded
// parallelism across groups, matching spec.md §4.6's "batches of documents
// are embedded in groups of batchSize with bounded parallelism". documentIDs
// and texts must be the same length and order.
func (s *Store) EmbedBatch(ctx context.Context, documentIDs, texts []string) ([]*model.EmbeddingRecord, error) {
	if len(documentIDs) != len(texts) {
		return nil, svcerrors.New(svcerrors.KindValidation, "documentIDs and texts must have equal length")
	}

	results := make([]*model.EmbeddingRecord, len(texts))

	type batch struct {
		start, end int
	}
	var batches []batch
	for i := 0; i < len(texts); i += s.config.BatchSize {
		end := i + s.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{start: i, end: end})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)

	for _, b := range batches {
		b := b
		g.Go(func() error {
			for i := b.start; i < b.end; i++ {
				rec, err := s.Embed(gctx, documentIDs[i], texts[i])
				if err != nil {
					return err
				}
				results[i] = rec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CosineSimilarity computes the similarity between two vectors. Because
// Store only ever produces L2-normalized vectors, this is equivalent to a
// plain dot product for any pair it returns; it still normalizes defensively
// so a caller-supplied query vector need not already be unit length.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalize returns the L2-normalized copy of vec; a zero vector is returned
// unchanged rather than dividing by zero.
func normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec
	}
	mag := float32(math.Sqrt(sumSquares))

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / mag
	}
	return out
}
