package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	"github.com/opsknowledge/retrieval-service/internal/cache"
	"github.com/opsknowledge/retrieval-service/internal/embedding"
	"github.com/opsknowledge/retrieval-service/internal/query"
	"github.com/opsknowledge/retrieval-service/internal/scoring"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

type stubAdapter struct {
	name string
	docs []*model.Document
}

func (s *stubAdapter) Initialize(ctx context.Context) error { return nil }
func (s *stubAdapter) Search(ctx context.Context, query string, filters map[string]interface{}) ([]*model.Document, error) {
	return s.docs, nil
}
func (s *stubAdapter) SearchRunbooks(ctx context.Context, alertType, severity string, affectedSystems []string, searchCtx map[string]interface{}) ([]*model.Runbook, error) {
	return nil, nil
}
func (s *stubAdapter) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return nil, nil
}
func (s *stubAdapter) HealthCheck(ctx context.Context) adapters.HealthResult {
	return adapters.HealthResult{Healthy: true}
}
func (s *stubAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) { return true, nil }
func (s *stubAdapter) GetMetadata() adapters.Metadata                             { return adapters.Metadata{Name: s.name, Type: "file"} }
func (s *stubAdapter) Configure(cfg model.AdapterConfig) error                    { return nil }
func (s *stubAdapter) Cleanup() error                                            { return nil }

func newTestEngine(t *testing.T, docs []*model.Document, provider embedding.Provider) *Engine {
	registry := adapters.NewRegistry(nil, nil, nil, 0)
	registry.Register(&stubAdapter{name: "stub", docs: docs})

	store, err := embedding.NewStore(provider, embedding.DefaultConfig(), nil, nil)
	require.NoError(t, err)

	scorer := scoring.NewHybridScorer(
		scoring.Weights{Semantic: 0.5, Fuzzy: 0.3, Metadata: 0.2},
		scoring.Thresholds{MinSemantic: 0, MinFuzzy: 0},
	)
	processor := query.NewProcessor(10)

	mlc, err := cache.New(cache.DefaultConfig(), nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { mlc.Close() })

	return New(registry, store, scorer, processor, mlc, Config{MaxResults: 20, FallbackEnabled: true}, nil, nil)
}

func sampleDocs() []*model.Document {
	now := time.Now()
	return []*model.Document{
		{
			ID:          "file:disk-full-runbook",
			Title:       "Disk Full Runbook",
			Content:     "Escalate to on-call when disk usage exceeds 95 percent on the database host.",
			SourceType:  model.SourceTypeFile,
			Category:    model.CategoryRunbook,
			LastUpdated: now,
		},
		{
			ID:          "file:architecture-overview",
			Title:       "System Architecture Overview",
			Content:     "This document describes the overall system architecture and deployment topology.",
			SourceType:  model.SourceTypeFile,
			Category:    model.CategoryGuide,
			LastUpdated: now.Add(-200 * 24 * time.Hour),
		},
	}
}

func TestEngine_SearchRanksAndCachesResult(t *testing.T) {
	e := newTestEngine(t, sampleDocs(), embedding.NewMockProvider("mock", 32))

	res, err := e.Search(context.Background(), "disk full database", Filters{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Documents)
	assert.False(t, res.Cached)
	assert.Equal(t, "file:disk-full-runbook", res.Documents[0].ID)

	res2, err := e.Search(context.Background(), "disk full database", Filters{}, nil)
	require.NoError(t, err)
	assert.True(t, res2.Cached)
	assert.Equal(t, res.Documents[0].ID, res2.Documents[0].ID)
}

func TestEngine_SearchAppliesCategoryFilter(t *testing.T) {
	e := newTestEngine(t, sampleDocs(), embedding.NewMockProvider("mock", 32))

	res, err := e.Search(context.Background(), "architecture", Filters{Categories: []string{"guide"}}, nil)
	require.NoError(t, err)
	for _, d := range res.Documents {
		assert.Equal(t, model.CategoryGuide, d.Category)
	}
}

func TestEngine_SearchFallsBackOnEmbeddingFailure(t *testing.T) {
	failing := embedding.NewMockProvider("failing", 32, embedding.WithMockFailureRate(1.0))
	e := newTestEngine(t, sampleDocs(), failing)

	res, err := e.Search(context.Background(), "disk full", Filters{}, nil)
	require.NoError(t, err)
	assert.True(t, res.FallbackUsed)
}

func TestEngine_SearchRejectsTooShortQuery(t *testing.T) {
	e := newTestEngine(t, sampleDocs(), embedding.NewMockProvider("mock", 32))

	_, err := e.Search(context.Background(), "a", Filters{}, nil)
	require.Error(t, err)
}

func TestEngine_SearchRunbooksAppliesRelevanceRefinement(t *testing.T) {
	docs := sampleDocs()
	docs[0].Metadata = map[string]interface{}{
		"runbook_data": map[string]interface{}{
			"id":               "file:disk-full-runbook",
			"title":            "Disk Full Runbook",
			"triggers":         []string{"disk_full", "database"},
			"severity_mapping": map[string]string{"critical": "sev1"},
		},
	}
	e := newTestEngine(t, docs, embedding.NewMockProvider("mock", 32))

	runbooks, err := e.SearchRunbooks(context.Background(), "disk_full", "critical", []string{"database"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, runbooks)
	assert.Greater(t, runbooks[0].RelevanceScore, 0.0)
}
