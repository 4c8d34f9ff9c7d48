package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opsknowledge/retrieval-service/pkg/model"
)

func TestWeights_Normalized(t *testing.T) {
	w := Weights{Semantic: 2, Fuzzy: 1, Metadata: 1}.normalized()
	assert.InDelta(t, 0.5, w.Semantic, 1e-9)
	assert.InDelta(t, 0.25, w.Fuzzy, 1e-9)
	assert.InDelta(t, 0.25, w.Metadata, 1e-9)

	zero := Weights{}.normalized()
	assert.InDelta(t, 1.0/3, zero.Semantic, 1e-9)
}

func TestHybridScorer_DiscardsBelowBothThresholds(t *testing.T) {
	scorer := NewHybridScorer(Weights{1, 1, 1}, Thresholds{MinSemantic: 0.5, MinFuzzy: 0.5})
	doc := &model.Document{Title: "x", Content: "y"}

	kept := scorer.Score(doc, "query", 0.1, 0.2, MetadataFilter{}, time.Now())
	assert.False(t, kept)
}

func TestHybridScorer_KeepsAboveEitherThreshold(t *testing.T) {
	scorer := NewHybridScorer(Weights{1, 1, 1}, Thresholds{MinSemantic: 0.5, MinFuzzy: 0.5})
	doc := &model.Document{Title: "x", Content: "y"}

	kept := scorer.Score(doc, "query", 0.9, 0.1, MetadataFilter{}, time.Now())
	assert.True(t, kept)
}

func TestHybridScorer_TitleMatchBoost(t *testing.T) {
	scorer := NewHybridScorer(Weights{1, 0, 0}, Thresholds{})
	now := time.Now()
	doc := &model.Document{
		Title:       "Database Connection Timeout Runbook",
		Content:     "steps to resolve",
		LastUpdated: now.Add(-60 * 24 * time.Hour),
	}

	scorer.Score(doc, "database connection timeout", 0.5, 0, MetadataFilter{}, now)

	assert.Contains(t, doc.MatchReasons, ReasonTitleMatch)
	assert.GreaterOrEqual(t, doc.ConfidenceScore, 0.5)
}

func TestHybridScorer_ScoreClampedTo1(t *testing.T) {
	scorer := NewHybridScorer(Weights{1, 1, 1}, Thresholds{})
	now := time.Now()
	doc := &model.Document{
		Title:           "outage runbook",
		Content:         "outage runbook procedure content",
		Category:        model.CategoryRunbook,
		LastUpdated:     now,
		ConfidenceScore: 0.9,
	}

	scorer.Score(doc, "outage runbook", 1.0, 1.0, MetadataFilter{}, now)

	assert.LessOrEqual(t, doc.ConfidenceScore, 1.0)
	assert.Contains(t, doc.MatchReasons, ReasonCategoryMatch)
	assert.Contains(t, doc.MatchReasons, ReasonRecentDocument)
	assert.Contains(t, doc.MatchReasons, ReasonHighConfidence)
}

func TestHybridScorer_NoBoostsWithoutMatches(t *testing.T) {
	scorer := NewHybridScorer(Weights{1, 0, 0}, Thresholds{})
	now := time.Now()
	doc := &model.Document{
		Title:       "unrelated document",
		Content:     "nothing relevant here",
		LastUpdated: now.Add(-365 * 24 * time.Hour),
	}

	scorer.Score(doc, "database timeout", 0.4, 0, MetadataFilter{}, now)

	assert.Empty(t, doc.MatchReasons)
	assert.InDelta(t, 0.4, doc.ConfidenceScore, 1e-9)
}

func TestFuzzyScore(t *testing.T) {
	score := FuzzyScore("database timeout", "Database Connection Timeout", "resolving database timeouts")
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)

	assert.Equal(t, 0.0, FuzzyScore("", "title", "content"))
	assert.Equal(t, 0.0, FuzzyScore("query", "", ""))
}

func TestMetadataScore_BaseAndBonuses(t *testing.T) {
	now := time.Now()
	doc := &model.Document{
		Category:    model.CategoryRunbook,
		LastUpdated: now.Add(-3 * 24 * time.Hour),
		Content:     string(make([]byte, 500)),
		Metadata: map[string]interface{}{
			"priority":     1,
			"success_rate": 0.9,
		},
	}

	score := MetadataScore(doc, MetadataFilter{Category: "runbook"}, now)

	// base 0.5 + category 0.2 + priority(1)->0.1*5=0.5 (clamped later) + recency 0.15 + success_rate 0.18 + length 0.1
	assert.Equal(t, 1.0, score, "sum of bonuses should be clamped at 1.0")
}

func TestMetadataScore_NoBonusesStaysAtBase(t *testing.T) {
	doc := &model.Document{}
	score := MetadataScore(doc, MetadataFilter{}, time.Now())
	assert.InDelta(t, 0.5, score, 1e-9)
}
