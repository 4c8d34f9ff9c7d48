// Package model defines the wire and in-memory shapes shared by every
// adapter, the semantic engine, the cache, and the transform layer.
package model

import "time"

// SourceType enumerates the backing stores a Document can originate from.
type SourceType string

const (
	SourceTypeFile     SourceType = "file"
	SourceTypeHTTP     SourceType = "http"
	SourceTypeWiki     SourceType = "wiki"
	SourceTypeRepo     SourceType = "repo"
	SourceTypeDatabase SourceType = "database"
)

// Category classifies what kind of document this is, independent of source.
type Category string

const (
	CategoryRunbook   Category = "runbook"
	CategoryGuide     Category = "guide"
	CategoryAPI       Category = "api"
	CategoryGeneral   Category = "general"
	CategoryProcedure Category = "procedure"
	CategoryFAQ       Category = "faq"
)

// MaxDocumentBytes is the default content truncation limit (configurable).
const MaxDocumentBytes = 100 * 1024

const truncationSentinel = "…"

// Document is the unit of search returned by every adapter and by the
// semantic engine. Its identity is `id`, formatted "<source>:<locator>" or a
// deterministic hash when the source has no natural key.
type Document struct {
	ID               string                 `json:"id"`
	Title            string                 `json:"title"`
	Content          string                 `json:"content"`
	SourceName       string                 `json:"source_name"`
	SourceType       SourceType             `json:"source_type"`
	Category         Category               `json:"category"`
	URL              string                 `json:"url,omitempty"`
	LastUpdated      time.Time              `json:"last_updated"`
	ConfidenceScore  float64                `json:"confidence_score"`
	MatchReasons     []string               `json:"match_reasons,omitempty"`
	RetrievalTimeMs  float64                `json:"retrieval_time_ms"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`

	// Scoring sub-factors; no code sets or reads them. Never serialized on
	// the wire; ConfidenceScore is the only score the Hybrid Scorer writes.
	BaseScore       float64 `json:"-"`
	FreshnessScore  float64 `json:"-"`
	AuthorityScore  float64 `json:"-"`
	PopularityScore float64 `json:"-"`
	QualityScore    float64 `json:"-"`
}

// ClampConfidence enforces the [0,1] invariant on ConfidenceScore.
func (d *Document) ClampConfidence() {
	if d.ConfidenceScore < 0 {
		d.ConfidenceScore = 0
	}
	if d.ConfidenceScore > 1 {
		d.ConfidenceScore = 1
	}
}

// TruncateContent enforces the max-document-bytes invariant, appending a
// truncation sentinel when content is cut.
func (d *Document) TruncateContent(maxBytes int) {
	if maxBytes <= 0 {
		maxBytes = MaxDocumentBytes
	}
	if len(d.Content) <= maxBytes {
		return
	}
	cut := maxBytes - len(truncationSentinel)
	if cut < 0 {
		cut = 0
	}
	d.Content = d.Content[:cut] + truncationSentinel
}

// AddMatchReason appends a reason tag if not already present, preserving
// insertion order (the transform layer and tests depend on stable ordering).
func (d *Document) AddMatchReason(reason string) {
	for _, r := range d.MatchReasons {
		if r == reason {
			return
		}
	}
	d.MatchReasons = append(d.MatchReasons, reason)
}
