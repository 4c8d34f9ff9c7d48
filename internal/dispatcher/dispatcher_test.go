package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	"github.com/opsknowledge/retrieval-service/internal/cache"
	"github.com/opsknowledge/retrieval-service/internal/embedding"
	"github.com/opsknowledge/retrieval-service/internal/engine"
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
	return nil, nil
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

func runbookDocument() *model.Document {
	return &model.Document{
		ID:          "file:disk-full-runbook",
		Title:       "Disk Full Runbook",
		Content:     "Escalate to on-call when disk usage exceeds 95 percent on the database host.",
		SourceName:  "local-runbooks",
		SourceType:  model.SourceTypeFile,
		Category:    model.CategoryRunbook,
		LastUpdated: time.Now(),
		Metadata: map[string]interface{}{
			"runbook_data": map[string]interface{}{
				"id":               "file:disk-full-runbook",
				"title":            "Disk Full Runbook",
				"triggers":         []string{"disk_full", "database"},
				"severity_mapping": map[string]string{"critical": "sev1"},
				"procedures": []map[string]interface{}{
					{"id": "step-1", "name": "check disk usage", "description": "run df -h"},
					{"id": "step-2", "name": "clear temp files", "description": "remove old logs"},
				},
				"escalation_path": []map[string]interface{}{
					{"order": 1, "contact": "email:oncall@example.com"},
					{"order": 2, "contact": "chat:#incident-response"},
				},
			},
		},
	}
}

func newTestDispatcher(t *testing.T, docs []*model.Document) *Dispatcher {
	registry := adapters.NewRegistry(nil, nil, nil, 0)
	registry.Register(&stubAdapter{name: "local-runbooks", docs: docs})

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

	return New(eng, registry, nil, nil)
}

func TestDispatch_SearchKnowledgeBaseReturnsSuccessEnvelope(t *testing.T) {
	d := newTestDispatcher(t, []*model.Document{runbookDocument()})

	env := d.Dispatch(context.Background(), "search_knowledge_base", map[string]interface{}{"query": "disk full database"})

	require.True(t, env.Success)
	assert.NotEmpty(t, env.Metadata["request_id"])
}

func TestDispatch_SearchKnowledgeBaseRejectsMissingQuery(t *testing.T) {
	d := newTestDispatcher(t, []*model.Document{runbookDocument()})

	env := d.Dispatch(context.Background(), "search_knowledge_base", map[string]interface{}{})

	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION", env.Error.Code)
}

func TestDispatch_SearchRunbooksEnrichesResponse(t *testing.T) {
	d := newTestDispatcher(t, []*model.Document{runbookDocument()})

	env := d.Dispatch(context.Background(), "search_runbooks", map[string]interface{}{
		"alert_type":       "disk_full",
		"severity":         "critical",
		"affected_systems": []interface{}{"database"},
	})

	require.True(t, env.Success)
	enriched, ok := env.Data.([]transform.EnrichedRunbook)
	require.True(t, ok)
	require.NotEmpty(t, enriched)
	assert.Equal(t, "/runbooks/file:disk-full-runbook", enriched[0].URL)
}

func TestDispatch_GetProcedureReturnsNextStep(t *testing.T) {
	d := newTestDispatcher(t, []*model.Document{runbookDocument()})

	env := d.Dispatch(context.Background(), "get_procedure", map[string]interface{}{
		"runbook_id": "file:disk-full-runbook",
		"step_name":  "step-1",
	})

	require.True(t, env.Success)
	proc, ok := env.Data.(transform.EnrichedProcedure)
	require.True(t, ok)
	require.NotNil(t, proc.Step)
	assert.Equal(t, "step-1", proc.Step.ID)
	require.Len(t, proc.RelatedSteps, 1)
	assert.Equal(t, "step-2", proc.RelatedSteps[0].ID)
}

func TestDispatch_GetProcedureUnknownStepIsNotFound(t *testing.T) {
	d := newTestDispatcher(t, []*model.Document{runbookDocument()})

	env := d.Dispatch(context.Background(), "get_procedure", map[string]interface{}{
		"runbook_id": "file:disk-full-runbook",
		"step_name":  "does-not-exist",
	})

	require.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestDispatch_GetEscalationPathParsesContacts(t *testing.T) {
	d := newTestDispatcher(t, []*model.Document{runbookDocument()})

	env := d.Dispatch(context.Background(), "get_escalation_path", map[string]interface{}{
		"severity":       "critical",
		"business_hours": false,
	})

	require.True(t, env.Success)
	contacts, ok := env.Data.([]transform.EnrichedContact)
	require.True(t, ok)
	require.NotEmpty(t, contacts)
	assert.Equal(t, "oncall@example.com", contacts[0].Email)
}

func TestDispatch_GetDecisionTreeSynthesizesFallback(t *testing.T) {
	d := newTestDispatcher(t, []*model.Document{runbookDocument()})

	env := d.Dispatch(context.Background(), "get_decision_tree", map[string]interface{}{
		"alert_context": "disk full on database host",
	})

	require.True(t, env.Success)
	tree, ok := env.Data.(DecisionTreeData)
	require.True(t, ok)
	assert.True(t, tree.Synthesized)
	assert.NotNil(t, tree.Tree)
}

func TestDispatch_ListSourcesIncludesHealthWhenRequested(t *testing.T) {
	d := newTestDispatcher(t, []*model.Document{runbookDocument()})

	env := d.Dispatch(context.Background(), "list_sources", map[string]interface{}{"include_health": true})

	require.True(t, env.Success)
	sources, ok := env.Data.([]SourceSummary)
	require.True(t, ok)
	require.Len(t, sources, 1)
	assert.Equal(t, "local-runbooks", sources[0].Name)
}

func TestDispatch_RecordResolutionFeedbackPersists(t *testing.T) {
	d := newTestDispatcher(t, []*model.Document{runbookDocument()})

	env := d.Dispatch(context.Background(), "record_resolution_feedback", map[string]interface{}{
		"runbook_id":              "file:disk-full-runbook",
		"procedure_id":            "step-1",
		"outcome":                 "resolved",
		"resolution_time_minutes": float64(12),
	})

	require.True(t, env.Success)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["recorded"])

	stored := d.feedback.ForRunbook("file:disk-full-runbook")
	require.Len(t, stored, 1)
	assert.Equal(t, "resolved", stored[0].Outcome)
}
