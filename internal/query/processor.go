// Package query implements the Query Processor (C3): intent classification,
// entity extraction, query enhancement and validation for an inbound search
// request.
package query

import (
	"regexp"
	"strings"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
)

// Intent is the classified purpose of a query.
type Intent string

const (
	IntentEmergencyResponse Intent = "EMERGENCY_RESPONSE"
	IntentFindRunbook       Intent = "FIND_RUNBOOK"
	IntentEscalationPath    Intent = "ESCALATION_PATH"
	IntentProcedureLookup   Intent = "PROCEDURE_LOOKUP"
	IntentGeneralSearch     Intent = "GENERAL_SEARCH"

	minQueryLength = 2
	maxQueryLength = 500
)

// Context is the optional caller-supplied context accompanying a query.
type Context struct {
	AlertType string
	Severity  string
	Systems   []string
	Urgent    bool
	Metadata  map[string]interface{}
}

// Entities are the values the processor extracted from the query text
// itself (as opposed to ones the caller supplied in Context).
type Entities struct {
	Systems   []string
	Severity  string
	AlertType string
}

// Processed is the Query Processor's output.
type Processed struct {
	Original        string
	EnhancedQuery   string
	Intent          Intent
	Entities        Entities
	RecommendedFilters map[string]interface{}
	ResultLimit     int
	Suspicious      bool
	SuspiciousReason string
}

var (
	knownSystems = []string{
		"database", "postgres", "mysql", "redis", "kafka", "elasticsearch",
		"kubernetes", "docker", "nginx", "load balancer", "api gateway",
		"cache", "queue", "web server", "dns", "network",
	}

	severityPattern = regexp.MustCompile(`(?i)\b(sev[-_ ]?[1-5]|p[0-4]|critical|high|medium|low)\b`)

	emergencyPattern  = regexp.MustCompile(`(?i)\b(outage|down|emergency|critical|urgent|sev[-_ ]?1|p0|incident)\b`)
	runbookPattern    = regexp.MustCompile(`(?i)\b(runbook|play ?book)\b`)
	escalationPattern = regexp.MustCompile(`(?i)\b(escalat|page|on[- ]?call|contact)\w*\b`)
	procedurePattern  = regexp.MustCompile(`(?i)\b(procedure|step|how to|instructions?)\b`)

	scriptInjectionPattern = regexp.MustCompile(`(?i)<script|javascript:|on\w+\s*=`)
	pathTraversalPattern   = regexp.MustCompile(`\.\./|\.\.\\`)
	sqlInjectionPattern    = regexp.MustCompile(`(?i)\b(union\s+select|drop\s+table|;\s*--|'\s*or\s*'1'\s*=\s*'1)\b`)
)

// Processor turns a raw query + optional Context into a Processed query.
type Processor struct {
	defaultResultLimit int
}

// NewProcessor constructs a Processor using defaultResultLimit when the
// caller's context doesn't imply a different one.
func NewProcessor(defaultResultLimit int) *Processor {
	if defaultResultLimit <= 0 {
		defaultResultLimit = 10
	}
	return &Processor{defaultResultLimit: defaultResultLimit}
}

// Process validates, classifies and enhances query. Queries shorter than 2
// characters or longer than 500 are rejected with VALIDATION, per
// spec.md §4.6.
func (p *Processor) Process(query string, ctx *Context) (*Processed, error) {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < minQueryLength {
		return nil, svcerrors.New(svcerrors.KindValidation, "query is shorter than the minimum of 2 characters").WithOp("query.Process")
	}
	if len(trimmed) > maxQueryLength {
		return nil, svcerrors.New(svcerrors.KindValidation, "query exceeds the maximum of 500 characters").WithOp("query.Process")
	}

	entities := extractEntities(trimmed, ctx)
	intent := classifyIntent(trimmed, ctx, entities)
	enhanced := enhanceQuery(trimmed, entities)
	filters := recommendedFilters(intent, entities, ctx)
	limit := resultLimit(intent, p.defaultResultLimit)
	suspicious, reason := detectSuspiciousPattern(trimmed)

	return &Processed{
		Original:           trimmed,
		EnhancedQuery:      enhanced,
		Intent:             intent,
		Entities:           entities,
		RecommendedFilters: filters,
		ResultLimit:        limit,
		Suspicious:         suspicious,
		SuspiciousReason:   reason,
	}, nil
}

func extractEntities(query string, ctx *Context) Entities {
	lower := strings.ToLower(query)
	e := Entities{}

	for _, sys := range knownSystems {
		if strings.Contains(lower, sys) {
			e.Systems = append(e.Systems, sys)
		}
	}
	if ctx != nil {
		for _, sys := range ctx.Systems {
			if !containsString(e.Systems, sys) {
				e.Systems = append(e.Systems, sys)
			}
		}
	}

	if match := severityPattern.FindString(query); match != "" {
		e.Severity = strings.ToLower(match)
	}
	if ctx != nil && ctx.Severity != "" {
		e.Severity = ctx.Severity
	}

	if ctx != nil && ctx.AlertType != "" {
		e.AlertType = ctx.AlertType
	} else if emergencyPattern.MatchString(query) {
		e.AlertType = "incident"
	}

	return e
}

func classifyIntent(query string, ctx *Context, entities Entities) Intent {
	urgent := ctx != nil && ctx.Urgent
	switch {
	case urgent || emergencyPattern.MatchString(query):
		return IntentEmergencyResponse
	case escalationPattern.MatchString(query):
		return IntentEscalationPath
	case runbookPattern.MatchString(query):
		return IntentFindRunbook
	case procedurePattern.MatchString(query):
		return IntentProcedureLookup
	default:
		return IntentGeneralSearch
	}
}

// enhanceQuery appends extracted entities not already present in the query
// text, giving downstream scoring more surface to match against.
func enhanceQuery(query string, entities Entities) string {
	var extra []string
	lower := strings.ToLower(query)

	for _, sys := range entities.Systems {
		if !strings.Contains(lower, strings.ToLower(sys)) {
			extra = append(extra, sys)
		}
	}
	if entities.Severity != "" && !strings.Contains(lower, entities.Severity) {
		extra = append(extra, entities.Severity)
	}

	if len(extra) == 0 {
		return query
	}
	return query + " " + strings.Join(extra, " ")
}

func recommendedFilters(intent Intent, entities Entities, ctx *Context) map[string]interface{} {
	filters := make(map[string]interface{})

	if intent == IntentFindRunbook || intent == IntentEmergencyResponse {
		filters["category"] = "runbook"
	}
	if len(entities.Systems) > 0 {
		filters["systems"] = entities.Systems
	}
	if entities.Severity != "" {
		filters["severity"] = entities.Severity
	}
	if ctx != nil {
		for k, v := range ctx.Metadata {
			if _, exists := filters[k]; !exists {
				filters[k] = v
			}
		}
	}
	return filters
}

func resultLimit(intent Intent, defaultLimit int) int {
	switch intent {
	case IntentEmergencyResponse:
		return 5
	case IntentEscalationPath:
		return 3
	default:
		return defaultLimit
	}
}

func detectSuspiciousPattern(query string) (bool, string) {
	switch {
	case scriptInjectionPattern.MatchString(query):
		return true, "script_injection"
	case pathTraversalPattern.MatchString(query):
		return true, "path_traversal"
	case sqlInjectionPattern.MatchString(query):
		return true, "sql_injection"
	default:
		return false, ""
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
