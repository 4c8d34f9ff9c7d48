package transform

import (
	"fmt"
	"regexp"
	"strings"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// PerformanceTier buckets a request's retrieval_time_ms for callers that
// want a coarse signal without reading the raw number.
type PerformanceTier string

const (
	TierFast   PerformanceTier = "fast"
	TierMedium PerformanceTier = "medium"
	TierSlow   PerformanceTier = "slow"
)

// CacheStrategy is a hint about why (or whether) this response is worth
// caching aggressively upstream of this service.
type CacheStrategy string

const (
	StrategyHighPriority   CacheStrategy = "high_priority"
	StrategyHighConfidence CacheStrategy = "high_confidence"
	StrategyPerformance    CacheStrategy = "performance_cache"
	StrategyStandard       CacheStrategy = "standard"
)

// ErrorEnvelope is the `error` member of a failed response, matching
// SPEC_FULL.md §6's tool-invocation wire shape.
type ErrorEnvelope struct {
	Code         string                 `json:"code"`
	Message      string                 `json:"message"`
	Severity     string                 `json:"severity"`
	RetryAfterMs int64                  `json:"retry_after_ms,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Details      string                 `json:"details,omitempty"`
}

// Envelope is the uniform `{success, data, error?, metadata}` shape every
// tool invocation and every HTTP endpoint returns.
type Envelope struct {
	Success  bool                   `json:"success"`
	Data     interface{}            `json:"data,omitempty"`
	Error    *ErrorEnvelope         `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ToolResult is what a dispatcher handler hands the response transform:
// the payload plus the signals the transform extracts into metadata.
type ToolResult struct {
	Data            interface{}
	RetrievalTimeMs float64
	ConfidenceScore float64
	Source          string
	Cached          bool
	MatchReasons    []string
}

// SearchRunbooksData wraps search_runbooks's payload so the response
// transform can attach url/procedures_url per runbook.
type SearchRunbooksData struct {
	Runbooks []*model.Runbook
}

// ProcedureData wraps get_procedure's payload: the named step, its
// immediate successors in the runbook's procedure list, and the owning
// runbook id the transform needs to build execution_url/runbook_url.
type ProcedureData struct {
	RunbookID  string
	Step       *model.ProcedureStep
	Successors []model.ProcedureStep
}

// EscalationData wraps get_escalation_path's payload.
type EscalationData struct {
	Steps []*model.EscalationStep
}

// ResponseTransformer folds a tool handler's result (or error) into the
// uniform envelope, extracting timing/confidence/cache signals into
// metadata and applying tool-specific enrichments to Data.
type ResponseTransformer struct{}

func NewResponseTransformer() *ResponseTransformer {
	return &ResponseTransformer{}
}

// Transform builds the envelope for one completed tool call. requestID and
// cachePriority come from the matching TransformedRequest.
func (t *ResponseTransformer) Transform(toolName, requestID string, priority CachePriority, result *ToolResult, err error) *Envelope {
	if err != nil {
		return &Envelope{
			Success: false,
			Error:   errorEnvelope(err),
			Metadata: map[string]interface{}{
				"request_id": requestID,
				"tool":       toolName,
			},
		}
	}

	tier := performanceTier(result.RetrievalTimeMs)
	strategy := cacheStrategy(priority, tier, result.ConfidenceScore)

	metadata := map[string]interface{}{
		"request_id":        requestID,
		"tool":              toolName,
		"retrieval_time_ms": result.RetrievalTimeMs,
		"cached":            result.Cached,
		"performance_tier":  tier,
		"cache_strategy":    strategy,
	}
	if result.ConfidenceScore > 0 {
		metadata["confidence_score"] = result.ConfidenceScore
	}
	if result.Source != "" {
		metadata["source"] = result.Source
	}
	if len(result.MatchReasons) > 0 {
		metadata["match_reasons"] = result.MatchReasons
	}

	return &Envelope{
		Success:  true,
		Data:     enrich(toolName, result.Data),
		Metadata: metadata,
	}
}

func errorEnvelope(err error) *ErrorEnvelope {
	se, ok := err.(*svcerrors.ServiceError)
	if !ok {
		return &ErrorEnvelope{Code: string(svcerrors.KindUnknown), Message: err.Error(), Severity: string(svcerrors.SeverityMedium)}
	}
	env := &ErrorEnvelope{
		Code:         string(se.Kind),
		Message:      se.Message,
		Severity:     string(se.Severity),
		RetryAfterMs: se.RetryAfterMs,
		Context:      se.Context,
	}
	if se.Op != "" {
		env.Details = se.Op
	}
	return env
}

func performanceTier(retrievalTimeMs float64) PerformanceTier {
	switch {
	case retrievalTimeMs < 200:
		return TierFast
	case retrievalTimeMs < 1000:
		return TierMedium
	default:
		return TierSlow
	}
}

func cacheStrategy(priority CachePriority, tier PerformanceTier, confidence float64) CacheStrategy {
	switch {
	case priority == CachePriorityHigh:
		return StrategyHighPriority
	case confidence >= 0.8:
		return StrategyHighConfidence
	case tier == TierSlow:
		return StrategyPerformance
	default:
		return StrategyStandard
	}
}

func enrich(toolName string, data interface{}) interface{} {
	switch v := data.(type) {
	case SearchRunbooksData:
		return enrichRunbooks(v.Runbooks)
	case ProcedureData:
		return enrichProcedure(v)
	case EscalationData:
		return enrichEscalation(v.Steps)
	default:
		return data
	}
}

// EnrichedRunbook attaches the response transform's url/procedures_url
// annotations to a Runbook without mutating the runbook itself.
type EnrichedRunbook struct {
	*model.Runbook
	URL           string   `json:"url"`
	ProceduresURL []string `json:"procedures_url"`
}

func enrichRunbooks(runbooks []*model.Runbook) []EnrichedRunbook {
	out := make([]EnrichedRunbook, 0, len(runbooks))
	for _, rb := range runbooks {
		procURLs := make([]string, 0, len(rb.Procedures))
		for _, step := range rb.Procedures {
			procURLs = append(procURLs, fmt.Sprintf("/procedures/%s:%s", rb.ID, step.ID))
		}
		out = append(out, EnrichedRunbook{
			Runbook:       rb,
			URL:           fmt.Sprintf("/runbooks/%s", rb.ID),
			ProceduresURL: procURLs,
		})
	}
	return out
}

// EnrichedProcedure is get_procedure's response shape: the requested step,
// its immediate successors, and execution/runbook links.
type EnrichedProcedure struct {
	Step          *model.ProcedureStep  `json:"step"`
	RelatedSteps  []model.ProcedureStep `json:"related_steps"`
	ExecutionURL  string                `json:"execution_url"`
	RunbookURL    string                `json:"runbook_url"`
}

func enrichProcedure(p ProcedureData) EnrichedProcedure {
	return EnrichedProcedure{
		Step:         p.Step,
		RelatedSteps: p.Successors,
		ExecutionURL: fmt.Sprintf("/procedures/%s:%s/execute", p.RunbookID, stepID(p.Step)),
		RunbookURL:   fmt.Sprintf("/runbooks/%s", p.RunbookID),
	}
}

func stepID(step *model.ProcedureStep) string {
	if step == nil {
		return ""
	}
	return step.ID
}

// EnrichedContact is get_escalation_path's parsed contact shape.
type EnrichedContact struct {
	Order               int    `json:"order"`
	Email               string `json:"email,omitempty"`
	Phone                string `json:"phone,omitempty"`
	Chat                string `json:"chat,omitempty"`
	EstimatedResponseMin int    `json:"estimated_response_minutes"`
}

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[\d][\d\s().-]{6,}\d`)
)

func enrichEscalation(steps []*model.EscalationStep) []EnrichedContact {
	out := make([]EnrichedContact, 0, len(steps))
	for _, s := range steps {
		out = append(out, EnrichedContact{
			Order:                s.Order,
			EstimatedResponseMin: s.Order * 15,
			Email:                firstMatch(s.Contact, "email"),
			Phone:                firstMatch(s.Contact, "phone"),
			Chat:                 firstMatch(s.Contact, "chat"),
		})
	}
	return out
}

// firstMatch extracts a labeled contact method ("email:a@b.com") when
// present, otherwise falls back to pattern-sniffing the whole string for
// the requested kind.
func firstMatch(contact, kind string) string {
	for _, part := range strings.Split(contact, ",") {
		part = strings.TrimSpace(part)
		prefix := kind + ":"
		if strings.HasPrefix(strings.ToLower(part), prefix) {
			return strings.TrimSpace(part[len(prefix):])
		}
	}
	switch kind {
	case "email":
		return emailPattern.FindString(contact)
	case "phone":
		return phonePattern.FindString(contact)
	case "chat":
		if strings.Contains(contact, "#") {
			return "#" + strings.TrimPrefix(strings.SplitN(contact, "#", 2)[1], " ")
		}
	}
	return ""
}
