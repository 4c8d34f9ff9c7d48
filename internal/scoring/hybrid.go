package scoring

import (
	"strings"
	"time"

	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// Boost reason tags, matching spec.md §4.6's table exactly.
const (
	ReasonTitleMatch      = "title_match"
	ReasonContentMatch    = "content_match"
	ReasonRecentDocument  = "recent_document"
	ReasonCategoryMatch   = "category_match"
	ReasonHighConfidence  = "high_confidence"
)

const (
	boostTitleMatch     = 1.5
	boostContentMatch   = 1.3
	boostRecentDocument = 1.2
	boostCategoryMatch  = 1.1
	boostHighConfidence = 1.1

	recentDocumentWindow   = 7 * 24 * time.Hour
	highConfidenceExisting = 0.8
)

// Weights are the Hybrid Scorer's three input weights, normalized by Score
// so they always sum to 1 regardless of how a caller supplies them.
type Weights struct {
	Semantic float64
	Fuzzy    float64
	Metadata float64
}

func (w Weights) normalized() Weights {
	sum := w.Semantic + w.Fuzzy + w.Metadata
	if sum <= 0 {
		return Weights{Semantic: 1.0 / 3, Fuzzy: 1.0 / 3, Metadata: 1.0 / 3}
	}
	return Weights{
		Semantic: w.Semantic / sum,
		Fuzzy:    w.Fuzzy / sum,
		Metadata: w.Metadata / sum,
	}
}

// Thresholds gates a candidate out before boosting, per spec.md §4.6:
// "Documents below both min_semantic_threshold and min_fuzzy_threshold are
// discarded before boosting."
type Thresholds struct {
	MinSemantic float64
	MinFuzzy    float64
}

// HybridScorer combines a document's semantic, fuzzy and metadata scores
// into its final confidence score and attaches match-reason boosts.
type HybridScorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewHybridScorer constructs a scorer with the given weights (normalized
// internally) and discard thresholds.
func NewHybridScorer(weights Weights, thresholds Thresholds) *HybridScorer {
	return &HybridScorer{
		weights:    weights.normalized(),
		thresholds: thresholds,
	}
}

// Score computes doc's final confidence score for query given its semantic
// and fuzzy similarity scores, mutates doc.ConfidenceScore and
// doc.MatchReasons in place, and reports whether doc survives the
// pre-boost threshold gate (false means the caller should discard it).
func (s *HybridScorer) Score(doc *model.Document, query string, semanticScore, fuzzyScore float64, filter MetadataFilter, now time.Time) bool {
	if semanticScore < s.thresholds.MinSemantic && fuzzyScore < s.thresholds.MinFuzzy {
		return false
	}

	metadataScore := MetadataScore(doc, filter, now)

	final := semanticScore*s.weights.Semantic + fuzzyScore*s.weights.Fuzzy + metadataScore*s.weights.Metadata

	final *= s.boostFactor(doc, query, now)

	if final < 0 {
		final = 0
	}
	if final > 1 {
		final = 1
	}

	doc.ConfidenceScore = final
	return true
}

// boostFactor applies every qualifying multiplicative boost and records its
// reason tag on doc.
func (s *HybridScorer) boostFactor(doc *model.Document, query string, now time.Time) float64 {
	factor := 1.0
	lowerQuery := strings.ToLower(query)

	if lowerQuery != "" && strings.Contains(strings.ToLower(doc.Title), lowerQuery) {
		factor *= boostTitleMatch
		doc.AddMatchReason(ReasonTitleMatch)
	}

	if lowerQuery != "" && strings.Contains(strings.ToLower(doc.Content), lowerQuery) {
		factor *= boostContentMatch
		doc.AddMatchReason(ReasonContentMatch)
	}

	if !doc.LastUpdated.IsZero() && now.Sub(doc.LastUpdated) <= recentDocumentWindow {
		factor *= boostRecentDocument
		doc.AddMatchReason(ReasonRecentDocument)
	}

	if doc.Category == model.CategoryRunbook && mentionsRunbookOrProcedure(lowerQuery) {
		factor *= boostCategoryMatch
		doc.AddMatchReason(ReasonCategoryMatch)
	}

	if doc.ConfidenceScore >= highConfidenceExisting {
		factor *= boostHighConfidence
		doc.AddMatchReason(ReasonHighConfidence)
	}

	return factor
}

func mentionsRunbookOrProcedure(lowerQuery string) bool {
	return strings.Contains(lowerQuery, "runbook") || strings.Contains(lowerQuery, "procedure")
}
