package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	"github.com/opsknowledge/retrieval-service/internal/engine"
	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/query"
	"github.com/opsknowledge/retrieval-service/internal/transform"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// DecisionTreeData is get_decision_tree's payload. It has no transform-layer
// enrichment of its own, so it passes through ResponseTransformer untouched.
type DecisionTreeData struct {
	RunbookID string              `json:"runbook_id"`
	Tree      *model.DecisionNode `json:"decision_tree"`
	Synthesized bool              `json:"synthesized"`
}

// SourceSummary is one entry of list_sources's payload.
type SourceSummary struct {
	Name            string                 `json:"name"`
	Type            string                 `json:"type"`
	DocumentCount   int                    `json:"document_count"`
	AvgResponseMs   float64                `json:"avg_response_time_ms"`
	SuccessRate     float64                `json:"success_rate"`
	Health          string                 `json:"health,omitempty"`
	HealthDetails   map[string]interface{} `json:"health_details,omitempty"`
}

func (d *Dispatcher) searchKnowledgeBase(ctx context.Context, params map[string]interface{}) (*transform.ToolResult, error) {
	queryText := stringParam(params, "query")

	filters := engine.Filters{
		Categories: stringSliceParam(params, "categories"),
		MaxAgeDays: intParam(params, "max_age_days", 0),
		MaxResults: intParam(params, "max_results", 0),
	}

	result, err := d.engine.Search(ctx, queryText, filters, nil)
	if err != nil {
		return nil, err
	}

	tr := &transform.ToolResult{
		Data:            result.Documents,
		RetrievalTimeMs: result.RetrievalTimeMs,
		Cached:          result.Cached,
	}
	if top := topDocument(result.Documents); top != nil {
		tr.ConfidenceScore = top.ConfidenceScore
		tr.Source = top.SourceName
		tr.MatchReasons = top.MatchReasons
	}
	return tr, nil
}

func (d *Dispatcher) searchRunbooks(ctx context.Context, params map[string]interface{}) (*transform.ToolResult, error) {
	alertType := stringParam(params, "alert_type")
	severity := stringParam(params, "severity")
	systems := stringSliceParam(params, "affected_systems")
	searchCtx := objectParam(params, "context")

	start := time.Now()
	runbooks, err := d.engine.SearchRunbooks(ctx, alertType, severity, systems, searchCtx)
	if err != nil {
		return nil, err
	}
	elapsed := elapsedMs(start)

	tr := &transform.ToolResult{
		Data:            transform.SearchRunbooksData{Runbooks: runbooks},
		RetrievalTimeMs: elapsed,
	}
	if len(runbooks) > 0 {
		tr.ConfidenceScore = runbooks[0].RelevanceScore
		tr.Source = "runbook"
	}
	return tr, nil
}

func (d *Dispatcher) getDecisionTree(ctx context.Context, params map[string]interface{}) (*transform.ToolResult, error) {
	alertContext := stringParam(params, "alert_context")

	qctx := &query.Context{Metadata: objectParam(params, "current_agent_state")}
	result, err := d.engine.Search(ctx, alertContext, engine.Filters{Categories: []string{string(model.CategoryRunbook)}}, qctx)
	if err != nil {
		return nil, err
	}

	doc := topDocument(result.Documents)
	if doc == nil {
		return nil, svcerrors.New(svcerrors.KindNotFound, "no runbook matched the given alert context").WithOp("dispatcher.get_decision_tree")
	}

	rb := model.RunbookFromDocument(doc)
	synthesized := false
	tree := rb.DecisionTree
	if tree == nil {
		synthesized = true
		tree = &model.DecisionNode{
			Condition:     fmt.Sprintf("no decision tree recorded for %s", rb.Title),
			Outcome:       "manual triage required",
			DefaultAction: "escalate to on-call",
		}
	}

	return &transform.ToolResult{
		Data:            DecisionTreeData{RunbookID: rb.ID, Tree: tree, Synthesized: synthesized},
		RetrievalTimeMs: result.RetrievalTimeMs,
		ConfidenceScore: doc.ConfidenceScore,
		Source:          doc.SourceName,
	}, nil
}

func (d *Dispatcher) getProcedure(ctx context.Context, params map[string]interface{}) (*transform.ToolResult, error) {
	runbookID := normalizeID(stringParam(params, "runbook_id"))
	stepName := stringParam(params, "step_name")

	start := time.Now()
	doc, err := d.registry.GetDocument(ctx, runbookID)
	if err != nil {
		return nil, err
	}
	elapsed := elapsedMs(start)

	rb := model.RunbookFromDocument(doc)
	idx := findProcedureStep(rb.Procedures, stepName)
	if idx < 0 {
		return nil, svcerrors.New(svcerrors.KindNotFound, fmt.Sprintf("step %q not found in runbook %q", stepName, runbookID)).WithOp("dispatcher.get_procedure")
	}

	var successors []model.ProcedureStep
	if idx+1 < len(rb.Procedures) {
		successors = rb.Procedures[idx+1:]
	}

	return &transform.ToolResult{
		Data: transform.ProcedureData{
			RunbookID:  rb.ID,
			Step:       &rb.Procedures[idx],
			Successors: successors,
		},
		RetrievalTimeMs: elapsed,
		ConfidenceScore: doc.ConfidenceScore,
		Source:          doc.SourceName,
	}, nil
}

func findProcedureStep(steps []model.ProcedureStep, name string) int {
	for i, s := range steps {
		if strings.EqualFold(s.ID, name) || strings.EqualFold(s.Name, name) {
			return i
		}
	}
	return -1
}

func (d *Dispatcher) getEscalationPath(ctx context.Context, params map[string]interface{}) (*transform.ToolResult, error) {
	severity := stringParam(params, "severity")
	businessHours := boolParam(params, "business_hours")
	failedAttempts := stringSliceParam(params, "failed_attempts")

	qctx := &query.Context{Severity: severity, Metadata: map[string]interface{}{"business_hours": businessHours}}
	result, err := d.engine.Search(ctx, fmt.Sprintf("escalation path severity %s", severity), engine.Filters{Categories: []string{string(model.CategoryRunbook)}}, qctx)
	if err != nil {
		return nil, err
	}

	var matched *model.Document
	var steps []model.EscalationStep
	for _, doc := range result.Documents {
		rb := model.RunbookFromDocument(doc)
		if len(rb.EscalationPath) == 0 {
			continue
		}
		matched = doc
		steps = rb.EscalationPath
		if rb.MapsSeverity(severity) {
			break
		}
	}
	if matched == nil {
		return nil, svcerrors.New(svcerrors.KindNotFound, fmt.Sprintf("no escalation path found for severity %q", severity)).WithOp("dispatcher.get_escalation_path")
	}

	if skip := len(failedAttempts); skip > 0 && skip < len(steps) {
		steps = steps[skip:]
	}

	stepPtrs := make([]*model.EscalationStep, len(steps))
	for i := range steps {
		stepPtrs[i] = &steps[i]
	}

	return &transform.ToolResult{
		Data:            transform.EscalationData{Steps: stepPtrs},
		RetrievalTimeMs: result.RetrievalTimeMs,
		ConfidenceScore: matched.ConfidenceScore,
		Source:          matched.SourceName,
	}, nil
}

func (d *Dispatcher) listSources(ctx context.Context, params map[string]interface{}) (*transform.ToolResult, error) {
	includeHealth := boolParam(params, "include_health")

	start := time.Now()
	adapterList := d.registry.List()

	var health map[string]adapters.HealthStatus
	if includeHealth {
		health = d.registry.Health()
	}

	sources := make([]SourceSummary, 0, len(adapterList))
	for _, a := range adapterList {
		meta := a.GetMetadata()
		s := SourceSummary{
			Name:          meta.Name,
			Type:          meta.Type,
			DocumentCount: meta.DocumentCount,
			AvgResponseMs: float64(meta.AvgResponseTime.Milliseconds()),
			SuccessRate:   meta.SuccessRate,
		}
		if includeHealth {
			if hs, ok := health[meta.Name]; ok {
				s.Health = hs.Status
				s.HealthDetails = hs.Details
			}
		}
		sources = append(sources, s)
	}

	return &transform.ToolResult{
		Data:            sources,
		RetrievalTimeMs: elapsedMs(start),
	}, nil
}

func (d *Dispatcher) recordResolutionFeedback(ctx context.Context, params map[string]interface{}) (*transform.ToolResult, error) {
	runbookID := normalizeID(stringParam(params, "runbook_id"))
	procedureID := normalizeID(stringParam(params, "procedure_id"))
	outcome := stringParam(params, "outcome")
	resolutionMinutes := intParam(params, "resolution_time_minutes", 0)
	notes := stringParam(params, "notes")

	start := time.Now()
	entry := d.feedback.Record(Feedback{
		RunbookID:            runbookID,
		ProcedureID:          procedureID,
		Outcome:              outcome,
		ResolutionTimeMinutes: resolutionMinutes,
		Notes:                notes,
	})

	return &transform.ToolResult{
		Data: map[string]interface{}{
			"feedback_id": entry.ID,
			"recorded":    true,
		},
		RetrievalTimeMs: elapsedMs(start),
	}, nil
}
