package transform

import (
	"fmt"
	"strings"
	"time"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
)

// CachePriority is how urgently a request's result should be cached,
// derived from the alert shape the caller supplied.
type CachePriority string

const (
	CachePriorityHigh     CachePriority = "high"
	CachePriorityMedium   CachePriority = "medium"
	CachePriorityStandard CachePriority = "standard"
)

var urgentSeverities = map[string]bool{"critical": true, "high": true}
var validSeverities = map[string]bool{"critical": true, "high": true, "medium": true, "low": true, "info": true}

// PerformanceHints suggests how the dispatcher should execute a request:
// its deadline, whether adapter lookups should fan out in parallel, and an
// urgency multiplier downstream rate limiters and schedulers can weigh
// priority by.
type PerformanceHints struct {
	SuggestedTimeoutMs int     `json:"suggested_timeout_ms"`
	ParallelLookup     bool    `json:"parallel_lookup"`
	UrgencyMultiplier  float64 `json:"urgency_multiplier"`
}

// TransformedRequest is the sanitized, validated, annotated form of an
// inbound tool call, ready for the dispatcher.
type TransformedRequest struct {
	ToolName        string
	Params          map[string]interface{}
	RequestID       string
	CachePriority   CachePriority
	Hints           PerformanceHints
	TransformTimeMs float64
}

type fieldKind string

const (
	kindString fieldKind = "string"
	kindArray  fieldKind = "array"
	kindBool   fieldKind = "bool"
	kindNumber fieldKind = "number"
	kindObject fieldKind = "object"
)

type fieldSpec struct {
	required bool
	kind     fieldKind
}

// toolSchemas names, per tool, which parameters are required and what
// shape they must take. Unlisted parameters are not validated but are still
// sanitized.
var toolSchemas = map[string]map[string]fieldSpec{
	"search_knowledge_base": {
		"query":        {required: true, kind: kindString},
		"categories":   {kind: kindArray},
		"max_age_days": {kind: kindNumber},
		"max_results":  {kind: kindNumber},
	},
	"search_runbooks": {
		"alert_type":       {required: true, kind: kindString},
		"severity":         {required: true, kind: kindString},
		"affected_systems": {required: true, kind: kindArray},
		"context":          {kind: kindObject},
	},
	"get_decision_tree": {
		"alert_context":        {required: true, kind: kindString},
		"current_agent_state":  {kind: kindObject},
	},
	"get_procedure": {
		"runbook_id":      {required: true, kind: kindString},
		"step_name":       {required: true, kind: kindString},
		"current_context": {kind: kindObject},
	},
	"get_escalation_path": {
		"severity":        {required: true, kind: kindString},
		"business_hours":  {required: true, kind: kindBool},
		"failed_attempts": {kind: kindArray},
	},
	"list_sources": {
		"include_health": {kind: kindBool},
	},
	"record_resolution_feedback": {
		"runbook_id":              {required: true, kind: kindString},
		"procedure_id":            {required: true, kind: kindString},
		"outcome":                 {required: true, kind: kindString},
		"resolution_time_minutes": {required: true, kind: kindNumber},
		"notes":                   {kind: kindString},
	},
}

// RequestTransformer validates, sanitizes, and annotates an inbound tool
// call before the dispatcher invokes its handler.
type RequestTransformer struct{}

func NewRequestTransformer() *RequestTransformer {
	return &RequestTransformer{}
}

// Transform validates presence/type of toolName's required fields,
// sanitizes every string value, clamps max_results to [1,100], and
// attaches a request id, cache priority and performance hints.
func (t *RequestTransformer) Transform(toolName string, params map[string]interface{}) (*TransformedRequest, error) {
	start := time.Now()

	schema, known := toolSchemas[toolName]
	if !known {
		return nil, svcerrors.New(svcerrors.KindValidation, fmt.Sprintf("unknown tool %q", toolName)).WithOp("transform.Request")
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	if err := validateFields(toolName, schema, params); err != nil {
		return nil, err
	}

	sanitized, badKey := sanitizeParams(params)
	if badKey != "" {
		return nil, svcerrors.New(svcerrors.KindValidation, fmt.Sprintf("parameter key %q is not permitted", badKey)).WithOp("transform.Request")
	}

	clampMaxResults(sanitized)

	severity, _ := sanitized["severity"].(string)
	alertType, _ := sanitized["alert_type"].(string)
	systems := stringSlice(sanitized["affected_systems"])

	priority := cachePriorityFor(severity, alertType, systems)

	req := &TransformedRequest{
		ToolName:        toolName,
		Params:          sanitized,
		RequestID:       NewRequestID(),
		CachePriority:   priority,
		Hints:           hintsFor(priority),
		TransformTimeMs: elapsedMs(start),
	}
	return req, nil
}

func validateFields(toolName string, schema map[string]fieldSpec, params map[string]interface{}) error {
	for name, spec := range schema {
		v, present := params[name]
		if !present {
			if spec.required {
				return svcerrors.New(svcerrors.KindValidation, fmt.Sprintf("%s: missing required field %q", toolName, name)).WithOp("transform.Request")
			}
			continue
		}
		if !matchesKind(v, spec.kind) {
			return svcerrors.New(svcerrors.KindValidation, fmt.Sprintf("%s: field %q must be a %s", toolName, name, spec.kind)).WithOp("transform.Request")
		}
	}

	if toolName == "search_knowledge_base" {
		if q, ok := params["query"].(string); ok {
			trimmed := strings.TrimSpace(q)
			if len(trimmed) < 2 || len(trimmed) > 500 {
				return svcerrors.New(svcerrors.KindValidation, "query must be between 2 and 500 characters").WithOp("transform.Request")
			}
		}
	}
	if sev, ok := params["severity"].(string); ok && !validSeverities[strings.ToLower(sev)] {
		return svcerrors.New(svcerrors.KindValidation, fmt.Sprintf("severity %q is not one of critical|high|medium|low|info", sev)).WithOp("transform.Request")
	}

	return nil
}

func matchesKind(v interface{}, kind fieldKind) bool {
	switch kind {
	case kindString:
		_, ok := v.(string)
		return ok
	case kindBool:
		_, ok := v.(bool)
		return ok
	case kindNumber:
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case kindArray:
		_, ok := v.([]interface{})
		return ok
	case kindObject:
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return true
	}
}

// clampMaxResults enforces the [1,100] cap on max_results in place, per
// the tool contract table. Non-numeric or absent values are left alone;
// validateFields already rejected a max_results of the wrong type.
func clampMaxResults(params map[string]interface{}) {
	v, ok := params["max_results"]
	if !ok {
		return
	}
	n, ok := toFloat(v)
	if !ok {
		return
	}
	if n < 1 {
		n = 1
	}
	if n > 100 {
		n = 100
	}
	params["max_results"] = int(n)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func cachePriorityFor(severity, alertType string, affectedSystems []string) CachePriority {
	sev := strings.ToLower(severity)
	if urgentSeverities[sev] {
		return CachePriorityHigh
	}
	if sev == "medium" || len(affectedSystems) > 0 || alertType != "" {
		return CachePriorityMedium
	}
	return CachePriorityStandard
}

func hintsFor(priority CachePriority) PerformanceHints {
	switch priority {
	case CachePriorityHigh:
		return PerformanceHints{SuggestedTimeoutMs: 2000, ParallelLookup: true, UrgencyMultiplier: 2.0}
	case CachePriorityMedium:
		return PerformanceHints{SuggestedTimeoutMs: 5000, ParallelLookup: true, UrgencyMultiplier: 1.0}
	default:
		return PerformanceHints{SuggestedTimeoutMs: 10000, ParallelLookup: false, UrgencyMultiplier: 1.0}
	}
}

func stringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
