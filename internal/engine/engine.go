// Package engine implements the Semantic Engine (C5): it orchestrates the
// Query Processor, Embedding Store, fuzzy/metadata scoring, and the Hybrid
// Scorer into a single search entry point over documents fanned out from
// the Adapter Registry, in front of the two-tier Search Cache.
package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	"github.com/opsknowledge/retrieval-service/internal/cache"
	"github.com/opsknowledge/retrieval-service/internal/embedding"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/internal/query"
	"github.com/opsknowledge/retrieval-service/internal/scoring"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// Filters narrows a search beyond what the Query Processor already derives,
// applied after hybrid scoring per spec.md §4.6 step 5.
type Filters struct {
	Categories          []string
	SourceTypes         []string
	MaxAgeDays          int
	ConfidenceThreshold float64
	MaxResults          int
}

func (f Filters) toMap() map[string]interface{} {
	m := make(map[string]interface{})
	if len(f.Categories) > 0 {
		m["categories"] = f.Categories
	}
	if len(f.SourceTypes) > 0 {
		m["source_types"] = f.SourceTypes
	}
	if f.MaxAgeDays > 0 {
		m["max_age_days"] = f.MaxAgeDays
	}
	if f.ConfidenceThreshold > 0 {
		m["confidence_threshold"] = f.ConfidenceThreshold
	}
	return m
}

// Result is the Semantic Engine's search response, annotated with the
// rolled-up timing and fallback signals spec.md §4.6 requires.
type Result struct {
	Documents        []*model.Document `json:"documents"`
	Cached           bool              `json:"cached"`
	RetrievalTimeMs  float64           `json:"retrieval_time_ms"`
	FallbackUsed     bool              `json:"fallback_used,omitempty"`
	Suspicious       bool              `json:"suspicious,omitempty"`
	SuspiciousReason string            `json:"suspicious_reason,omitempty"`
}

// Config controls the engine's own orchestration limits, on top of the
// scorer/embedding/cache configs each subcomponent already owns.
type Config struct {
	MaxResults            int
	FallbackEnabled       bool
	DefaultCacheTTL       time.Duration
	SuspiciousCacheTTL    time.Duration
	ApplyDiversityRerank  bool
	MMRLambda             float64
	RunbookScoreThreshold float64
}

// Engine composes the Query Processor, Embedding Store, Hybrid Scorer, the
// Adapter Registry's fan-out, and the two-tier Search Cache.
type Engine struct {
	registry  *adapters.Registry
	store     *embedding.Store
	scorer    *scoring.HybridScorer
	processor *query.Processor
	cache     *cache.MultiLevel
	cfg       Config

	logger  observability.Logger
	metrics *observability.PromMetricsClient
}

// New constructs an Engine from its already-built subcomponents.
func New(registry *adapters.Registry, store *embedding.Store, scorer *scoring.HybridScorer, processor *query.Processor, mlc *cache.MultiLevel, cfg Config, logger observability.Logger, metrics *observability.PromMetricsClient) *Engine {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	if cfg.DefaultCacheTTL <= 0 {
		cfg.DefaultCacheTTL = 5 * time.Minute
	}
	if cfg.SuspiciousCacheTTL <= 0 {
		cfg.SuspiciousCacheTTL = cfg.DefaultCacheTTL / 4
	}
	if cfg.MMRLambda <= 0 {
		cfg.MMRLambda = 0.7
	}
	if cfg.RunbookScoreThreshold <= 0 {
		cfg.RunbookScoreThreshold = 0.7
	}
	return &Engine{registry: registry, store: store, scorer: scorer, processor: processor, cache: mlc, cfg: cfg, logger: logger, metrics: metrics}
}

// Search implements spec.md §4.6's seven-step orchestration: cache
// hit-check, query embedding, fuzzy search, metadata scoring, hybrid
// combination with filtering and capping, conditional cache store, and a
// rolled-up retrieval_time_ms.
func (e *Engine) Search(ctx context.Context, queryText string, filters Filters, qctx *query.Context) (*Result, error) {
	start := time.Now()

	processed, err := e.processor.Process(queryText, qctx)
	if err != nil {
		return nil, err
	}

	key := cache.Key(processed.EnhancedQuery, filters.toMap())

	if raw, hit := e.cache.Get(ctx, key); hit {
		if res, ok := decodeResult(raw); ok {
			res.Cached = true
			res.RetrievalTimeMs = elapsedMs(start)
			return res, nil
		}
	}

	docs, fallbackUsed, err := e.scoredDocuments(ctx, processed, filters)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Documents:        docs,
		RetrievalTimeMs:  elapsedMs(start),
		FallbackUsed:     fallbackUsed,
		Suspicious:       processed.Suspicious,
		SuspiciousReason: processed.SuspiciousReason,
	}
	for _, d := range result.Documents {
		d.RetrievalTimeMs = result.RetrievalTimeMs
	}

	if len(docs) > 0 && len(docs) <= 100 {
		ttl := e.cfg.DefaultCacheTTL
		if processed.Suspicious {
			ttl = e.cfg.SuspiciousCacheTTL
		}
		tags := model.CacheTags{QueryHash: key}
		if len(filters.Categories) == 1 {
			tags.Category = filters.Categories[0]
		}
		if serr := e.cache.Set(ctx, key, result, tags, ttl); serr != nil && e.logger != nil {
			e.logger.Warn("engine: cache store failed", map[string]interface{}{"key": key, "error": serr.Error()})
		}
	}

	return result, nil
}

// scoredDocuments runs steps 2-5 of the orchestration: embedding, fuzzy and
// metadata scoring, hybrid combination, filtering and capping.
func (e *Engine) scoredDocuments(ctx context.Context, processed *query.Processed, filters Filters) ([]*model.Document, bool, error) {
	candidates, _ := e.registry.Search(ctx, processed.EnhancedQuery, filters.toMap())

	fallbackUsed := false
	var queryVec []float32

	queryRec, embErr := e.store.Embed(ctx, "query:"+embedding.ContentHash(processed.EnhancedQuery), processed.EnhancedQuery)
	if embErr != nil {
		if !e.cfg.FallbackEnabled {
			return nil, false, embErr
		}
		fallbackUsed = true
		if e.logger != nil {
			e.logger.Warn("engine: query embedding failed, falling back to fuzzy-only", map[string]interface{}{"error": embErr.Error()})
		}
	} else {
		queryVec = queryRec.Vector
	}

	now := time.Now()
	scored := make([]*model.Document, 0, len(candidates))

	for _, doc := range candidates {
		semanticScore := 0.0
		if queryVec != nil {
			docRec, derr := e.store.Embed(ctx, doc.ID, doc.Title+"\n"+doc.Content)
			if derr != nil {
				fallbackUsed = true
			} else {
				semanticScore = embedding.CosineSimilarity(queryVec, docRec.Vector)
			}
		}

		fuzzyScore := scoring.FuzzyScore(processed.EnhancedQuery, doc.Title, doc.Content)
		metaFilter := scoring.MetadataFilter{Category: categoryFilterFor(doc.Category, filters.Categories)}

		if !e.scorer.Score(doc, processed.EnhancedQuery, semanticScore, fuzzyScore, metaFilter, now) {
			continue
		}
		if !passesFilters(doc, filters, now) {
			continue
		}
		scored = append(scored, doc)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].ConfidenceScore > scored[j].ConfidenceScore })

	maxResults := filters.MaxResults
	if maxResults <= 0 {
		maxResults = processed.ResultLimit
	}
	if maxResults <= 0 || maxResults > e.cfg.MaxResults {
		maxResults = e.cfg.MaxResults
	}

	if e.cfg.ApplyDiversityRerank && len(scored) > 2 && queryVec != nil {
		scored = e.rerankDiverse(ctx, scored, queryVec, maxResults)
	}

	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}

	return scored, fallbackUsed, nil
}

// categoryFilterFor picks the category value to test for the metadata
// scorer's category-match bonus: the document's own category when it's one
// of the requested categories (awarding the bonus), otherwise the first
// requested category (never matching, so no bonus) when any were requested.
func categoryFilterFor(docCategory model.Category, categories []string) string {
	if len(categories) == 0 {
		return ""
	}
	for _, c := range categories {
		if c == string(docCategory) {
			return c
		}
	}
	return categories[0]
}

func passesFilters(doc *model.Document, filters Filters, now time.Time) bool {
	if len(filters.Categories) > 0 && !containsString(filters.Categories, string(doc.Category)) {
		return false
	}
	if len(filters.SourceTypes) > 0 && !containsString(filters.SourceTypes, string(doc.SourceType)) {
		return false
	}
	if filters.MaxAgeDays > 0 && !doc.LastUpdated.IsZero() {
		if now.Sub(doc.LastUpdated) > time.Duration(filters.MaxAgeDays)*24*time.Hour {
			return false
		}
	}
	if filters.ConfidenceThreshold > 0 && doc.ConfidenceScore < filters.ConfidenceThreshold {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// decodeResult converts the cache's generically-decoded value back into a
// *Result via a JSON round trip, since MultiLevel decodes into a bare
// interface{} rather than a caller-specific type.
func decodeResult(raw interface{}) (*Result, bool) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, false
	}
	return &res, true
}
