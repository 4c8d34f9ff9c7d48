package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	"github.com/opsknowledge/retrieval-service/internal/cache"
	"github.com/opsknowledge/retrieval-service/internal/config"
	"github.com/opsknowledge/retrieval-service/internal/dispatcher"
	"github.com/opsknowledge/retrieval-service/internal/embedding"
	"github.com/opsknowledge/retrieval-service/internal/engine"
	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/query"
	"github.com/opsknowledge/retrieval-service/internal/scoring"
	"github.com/opsknowledge/retrieval-service/internal/transform"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

type stubAdapter struct {
	name string
	docs []*model.Document
}

func (s *stubAdapter) Initialize(ctx context.Context) error { return nil }
func (s *stubAdapter) Search(ctx context.Context, q string, filters map[string]interface{}) ([]*model.Document, error) {
	return s.docs, nil
}
func (s *stubAdapter) SearchRunbooks(ctx context.Context, alertType, severity string, affectedSystems []string, searchCtx map[string]interface{}) ([]*model.Runbook, error) {
	return nil, nil
}
func (s *stubAdapter) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	for _, d := range s.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, svcerrors.New(svcerrors.KindNotFound, "document not found")
}
func (s *stubAdapter) HealthCheck(ctx context.Context) adapters.HealthResult {
	return adapters.HealthResult{Healthy: true}
}
func (s *stubAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) { return true, nil }
func (s *stubAdapter) GetMetadata() adapters.Metadata {
	return adapters.Metadata{Name: s.name, Type: "file", DocumentCount: len(s.docs)}
}
func (s *stubAdapter) Configure(cfg model.AdapterConfig) error { return nil }
func (s *stubAdapter) Cleanup() error                          { return nil }

func testServer(t *testing.T) *Server {
	registry := adapters.NewRegistry(nil, nil, nil, 0)
	registry.Register(&stubAdapter{name: "local-runbooks", docs: []*model.Document{runbookDoc()}})

	store, err := embedding.NewStore(embedding.NewMockProvider("mock", 32), embedding.DefaultConfig(), nil, nil)
	require.NoError(t, err)

	scorer := scoring.NewHybridScorer(
		scoring.Weights{Semantic: 0.5, Fuzzy: 0.3, Metadata: 0.2},
		scoring.Thresholds{MinSemantic: 0, MinFuzzy: 0},
	)
	processor := query.NewProcessor(10)

	mlc, err := cache.New(cache.DefaultConfig(), nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { mlc.Close() })

	eng := engine.New(registry, store, scorer, processor, mlc, engine.Config{MaxResults: 20, FallbackEnabled: true}, nil, nil)
	d := dispatcher.New(eng, registry, nil, nil)

	cfg := config.Default().API
	cfg.MaxConcurrentQueries = 1000
	return New(d, cfg, nil, nil)
}

func runbookDoc() *model.Document {
	return &model.Document{
		ID:          "file:disk-full-runbook",
		Title:       "Disk Full Runbook",
		Content:     "Escalate when disk usage on the database host exceeds 95 percent.",
		SourceName:  "local-runbooks",
		SourceType:  model.SourceTypeFile,
		Category:    model.CategoryRunbook,
		LastUpdated: time.Now(),
		Metadata: map[string]interface{}{
			"runbook_data": map[string]interface{}{
				"id":               "file:disk-full-runbook",
				"title":            "Disk Full Runbook",
				"triggers":         []string{"disk_full"},
				"severity_mapping": map[string]string{"critical": "sev1"},
				"procedures": []map[string]interface{}{
					{"id": "step-1", "name": "check disk usage"},
					{"id": "step-2", "name": "clear temp files"},
				},
				"escalation_path": []map[string]interface{}{
					{"order": 1, "contact": "email:oncall@example.com"},
				},
			},
		},
	}
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer) transform.Envelope {
	var env transform.Envelope
	require.NoError(t, json.Unmarshal(body.Bytes(), &env))
	return env
}

func TestServer_SearchReturns200(t *testing.T) {
	s := testServer(t)
	body, _ := json.Marshal(map[string]interface{}{"query": "disk full database"})
	req := httptest.NewRequest("POST", "/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	env := decodeEnvelope(t, rec.Body)
	assert.True(t, env.Success)
}

func TestServer_SearchMissingQueryReturns400(t *testing.T) {
	s := testServer(t)
	body, _ := json.Marshal(map[string]interface{}{})
	req := httptest.NewRequest("POST", "/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
	env := decodeEnvelope(t, rec.Body)
	assert.False(t, env.Success)
	assert.Equal(t, "VALIDATION", env.Error.Code)
}

func TestServer_GetRunbookByID(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/runbooks/file:disk-full-runbook", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	env := decodeEnvelope(t, rec.Body)
	assert.True(t, env.Success)
}

func TestServer_GetRunbookUnknownIDReturns404(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/runbooks/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestServer_GetProcedureSplitsRunbookAndStepID(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/procedures/file:disk-full-runbook:step-1", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	env := decodeEnvelope(t, rec.Body)
	assert.True(t, env.Success)
}

func TestServer_ListSourcesIncludesHealth(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/sources?include_health=true", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestServer_Health(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestServer_FeedbackRecordsResolution(t *testing.T) {
	s := testServer(t)
	body, _ := json.Marshal(map[string]interface{}{
		"runbook_id":              "file:disk-full-runbook",
		"procedure_id":            "step-1",
		"outcome":                 "resolved",
		"resolution_time_minutes": 12,
	})
	req := httptest.NewRequest("POST", "/feedback", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}
