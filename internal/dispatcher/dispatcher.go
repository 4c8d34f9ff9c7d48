// Package dispatcher implements the Tool Dispatcher (C13): the seven named
// tools the retrieval service exposes, each resolved against the Semantic
// Engine and Adapter Registry and wrapped by the Transform Layer (C12)
// into the uniform response envelope. Dispatch is the single entry point
// both the MCP-style tool-invocation protocol and the HTTP API call into.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/engine"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/internal/transform"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// Dispatcher owns the seven tools and the request/response transforms
// bracketing every call.
type Dispatcher struct {
	engine   *engine.Engine
	registry *adapters.Registry
	feedback *FeedbackStore
	reqT     *transform.RequestTransformer
	respT    *transform.ResponseTransformer

	logger  observability.Logger
	metrics *observability.PromMetricsClient
}

// New constructs a Dispatcher over an already-built Engine and Registry.
func New(eng *engine.Engine, registry *adapters.Registry, logger observability.Logger, metrics *observability.PromMetricsClient) *Dispatcher {
	return &Dispatcher{
		engine:   eng,
		registry: registry,
		feedback: NewFeedbackStore(),
		reqT:     transform.NewRequestTransformer(),
		respT:    transform.NewResponseTransformer(),
		logger:   logger,
		metrics:  metrics,
	}
}

// Dispatch runs toolName through the request transform, the matching
// handler, and the response transform, returning the uniform envelope
// regardless of success or failure.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, params map[string]interface{}) *transform.Envelope {
	start := time.Now()

	req, err := d.reqT.Transform(toolName, params)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordToolOperation(toolName, time.Since(start).Seconds(), errorClass(err))
		}
		return d.respT.Transform(toolName, "", transform.CachePriorityStandard, nil, err)
	}

	handler, known := d.handlers()[toolName]
	if !known {
		err := svcerrors.New(svcerrors.KindValidation, fmt.Sprintf("unknown tool %q", toolName)).WithRequestID(req.RequestID)
		return d.respT.Transform(toolName, req.RequestID, req.CachePriority, nil, err)
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		if se, ok := err.(*svcerrors.ServiceError); ok {
			err = se.WithRequestID(req.RequestID)
		}
	}

	if d.metrics != nil {
		d.metrics.RecordToolOperation(toolName, time.Since(start).Seconds(), errorClass(err))
	}

	return d.respT.Transform(toolName, req.RequestID, req.CachePriority, result, err)
}

// Registry exposes the underlying Adapter Registry for callers (the HTTP
// API's health/performance endpoints) that need source-level detail no
// tool surfaces directly.
func (d *Dispatcher) Registry() *adapters.Registry {
	return d.registry
}

// GetRunbook resolves id directly against the registry, bypassing the
// search/scoring path. The HTTP API's GET /runbooks/:id uses this rather
// than a tool, since a direct id lookup has no query to score against.
func (d *Dispatcher) GetRunbook(ctx context.Context, id string) *transform.Envelope {
	start := time.Now()

	doc, err := d.registry.GetDocument(ctx, normalizeID(id))
	if err != nil {
		return d.respT.Transform("get_runbook", "", transform.CachePriorityStandard, nil, err)
	}

	rb := model.RunbookFromDocument(doc)
	result := &transform.ToolResult{
		Data:            transform.SearchRunbooksData{Runbooks: []*model.Runbook{rb}},
		RetrievalTimeMs: elapsedMs(start),
		Source:          doc.SourceName,
	}
	return d.respT.Transform("get_runbook", "", transform.CachePriorityStandard, result, nil)
}

type handlerFunc func(ctx context.Context, params map[string]interface{}) (*transform.ToolResult, error)

func (d *Dispatcher) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"search_knowledge_base":     d.searchKnowledgeBase,
		"search_runbooks":           d.searchRunbooks,
		"get_decision_tree":         d.getDecisionTree,
		"get_procedure":             d.getProcedure,
		"get_escalation_path":       d.getEscalationPath,
		"list_sources":              d.listSources,
		"record_resolution_feedback": d.recordResolutionFeedback,
	}
}

func errorClass(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := err.(*svcerrors.ServiceError); ok {
		return string(se.Kind)
	}
	return string(svcerrors.KindUnknown)
}

func topDocument(docs []*model.Document) *model.Document {
	if len(docs) == 0 {
		return nil
	}
	return docs[0]
}

func stringSliceParam(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func boolParam(params map[string]interface{}, key string) bool {
	b, _ := params[key].(bool)
	return b
}

func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func objectParam(params map[string]interface{}, key string) map[string]interface{} {
	m, _ := params[key].(map[string]interface{})
	return m
}

func normalizeID(s string) string {
	return strings.TrimSpace(s)
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
