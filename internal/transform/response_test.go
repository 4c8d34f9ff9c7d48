package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

func TestResponseTransformer_SuccessEnvelope(t *testing.T) {
	rt := NewResponseTransformer()

	docs := []*model.Document{{ID: "file:a", Title: "A"}}
	env := rt.Transform("search_knowledge_base", "req-1", CachePriorityStandard, &ToolResult{
		Data:            docs,
		RetrievalTimeMs: 42,
		ConfidenceScore: 0.9,
		Source:          "file",
		Cached:          true,
		MatchReasons:    []string{"title_match"},
	}, nil)

	require.True(t, env.Success)
	assert.Nil(t, env.Error)
	assert.Equal(t, PerformanceTier("fast"), env.Metadata["performance_tier"])
	assert.Equal(t, StrategyHighConfidence, env.Metadata["cache_strategy"])
	assert.Equal(t, "req-1", env.Metadata["request_id"])
	assert.Equal(t, docs, env.Data)
}

func TestResponseTransformer_ErrorEnvelope(t *testing.T) {
	rt := NewResponseTransformer()

	err := svcerrors.New(svcerrors.KindNotFound, "runbook not found").WithOp("dispatcher.get_procedure")
	env := rt.Transform("get_procedure", "req-2", CachePriorityStandard, nil, err)

	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.Equal(t, "dispatcher.get_procedure", env.Error.Details)
}

func TestResponseTransformer_HighPriorityOverridesConfidenceStrategy(t *testing.T) {
	rt := NewResponseTransformer()

	env := rt.Transform("search_runbooks", "req-3", CachePriorityHigh, &ToolResult{
		Data:            SearchRunbooksData{},
		RetrievalTimeMs: 10,
		ConfidenceScore: 0.95,
	}, nil)

	assert.Equal(t, StrategyHighPriority, env.Metadata["cache_strategy"])
}

func TestResponseTransformer_EnrichesRunbooks(t *testing.T) {
	rt := NewResponseTransformer()

	rb := &model.Runbook{ID: "file:disk-full", Procedures: []model.ProcedureStep{{ID: "step-1"}}}
	env := rt.Transform("search_runbooks", "req-4", CachePriorityMedium, &ToolResult{
		Data:            SearchRunbooksData{Runbooks: []*model.Runbook{rb}},
		RetrievalTimeMs: 100,
	}, nil)

	enriched, ok := env.Data.([]EnrichedRunbook)
	require.True(t, ok)
	require.Len(t, enriched, 1)
	assert.Equal(t, "/runbooks/file:disk-full", enriched[0].URL)
	assert.Equal(t, []string{"/procedures/file:disk-full:step-1"}, enriched[0].ProceduresURL)
}

func TestResponseTransformer_EnrichesEscalationContacts(t *testing.T) {
	rt := NewResponseTransformer()

	steps := []*model.EscalationStep{
		{Order: 1, Contact: "email:oncall@example.com, phone:+1-555-0100"},
		{Order: 2, Contact: "chat:#incident-response"},
	}
	env := rt.Transform("get_escalation_path", "req-5", CachePriorityHigh, &ToolResult{
		Data:            EscalationData{Steps: steps},
		RetrievalTimeMs: 5,
	}, nil)

	contacts, ok := env.Data.([]EnrichedContact)
	require.True(t, ok)
	require.Len(t, contacts, 2)
	assert.Equal(t, "oncall@example.com", contacts[0].Email)
	assert.Equal(t, "+1-555-0100", contacts[0].Phone)
	assert.Equal(t, "#incident-response", contacts[1].Chat)
	assert.Equal(t, 30, contacts[1].EstimatedResponseMin)
}
