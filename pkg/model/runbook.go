package model

import (
	"encoding/json"
	"time"
)

// DecisionNode is one branch of a Runbook's decision tree: a condition to
// evaluate, the outcome when it holds, and a default action otherwise.
type DecisionNode struct {
	Condition     string          `json:"condition"`
	Outcome       string          `json:"outcome"`
	DefaultAction string          `json:"default_action,omitempty"`
	Children      []*DecisionNode `json:"children,omitempty"`
}

// ProcedureStep is one ordered step of a Runbook's procedure list.
type ProcedureStep struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	ExpectedOutcome  string `json:"expected_outcome,omitempty"`
}

// RunbookMetadata carries authorship and quality-tracking fields that don't
// belong in the operational fields above.
type RunbookMetadata struct {
	Author      string    `json:"author,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Confidence  float64   `json:"confidence"`
	SuccessRate float64   `json:"success_rate"`
}

// Runbook is an operational document: triggers that fire it, a decision
// tree, an ordered procedure list, and an escalation path.
type Runbook struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Version         string            `json:"version"`
	Description     string            `json:"description"`
	Triggers        []string          `json:"triggers"`
	SeverityMapping map[string]string `json:"severity_mapping,omitempty"`
	DecisionTree    *DecisionNode     `json:"decision_tree,omitempty"`
	Procedures      []ProcedureStep   `json:"procedures"`
	EscalationPath  []EscalationStep  `json:"escalation_path,omitempty"`
	Metadata        RunbookMetadata   `json:"metadata"`

	// Populated by searchRunbooks's relevance refinement and used to sort
	// runbooks; never serialized (the tool response reports it as
	// confidence_score metadata).
	RelevanceScore float64 `json:"-"`
}

// EscalationStep is one entry in a Runbook's escalation path before contact
// parsing splits its raw `Contact` string into structured methods.
type EscalationStep struct {
	Order   int    `json:"order"`
	Contact string `json:"contact"`
}

// MatchesTrigger reports whether alertType appears as a substring of any
// declared trigger, used by searchRunbooks's relevance refinement.
func (r *Runbook) MatchesTrigger(alertType string) bool {
	for _, t := range r.Triggers {
		if containsFold(t, alertType) {
			return true
		}
	}
	return false
}

// ReferencesSystem reports whether system appears in any trigger string.
func (r *Runbook) ReferencesSystem(system string) bool {
	for _, t := range r.Triggers {
		if containsFold(t, system) {
			return true
		}
	}
	return false
}

// MapsSeverity reports whether alertSeverity has a declared severity mapping.
func (r *Runbook) MapsSeverity(alertSeverity string) bool {
	_, ok := r.SeverityMapping[alertSeverity]
	return ok
}

// RunbookFromDocument builds a Runbook from a category=runbook Document. A
// source adapter that already knows the full structure (triggers, decision
// tree, procedures, escalation path) carries it as JSON under the
// "runbook_data" metadata key; when present it's decoded directly. Otherwise
// a minimal Runbook is derived from the Document's own fields so every
// runbook-classified document is still addressable by the runbook-shaped
// tools, just without a decision tree or procedure list.
func RunbookFromDocument(doc *Document) *Runbook {
	if raw, ok := doc.Metadata["runbook_data"]; ok {
		if rb, ok := decodeRunbookData(raw); ok {
			if rb.ID == "" {
				rb.ID = doc.ID
			}
			if rb.Title == "" {
				rb.Title = doc.Title
			}
			return rb
		}
	}

	return &Runbook{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Content,
		Metadata: RunbookMetadata{
			UpdatedAt:   doc.LastUpdated,
			Confidence:  doc.ConfidenceScore,
			SuccessRate: floatMetadataField(doc.Metadata, "success_rate"),
		},
	}
}

func decodeRunbookData(raw interface{}) (*Runbook, bool) {
	var payload []byte
	switch v := raw.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	case map[string]interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		payload = b
	default:
		return nil, false
	}

	var rb Runbook
	if json.Unmarshal(payload, &rb) != nil {
		return nil, false
	}
	return &rb, true
}

func floatMetadataField(m map[string]interface{}, key string) float64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}
