package scoring

import (
	"time"

	"github.com/opsknowledge/retrieval-service/pkg/model"
)

const (
	metadataBaseScore = 0.5

	categoryMatchBonus = 0.2

	recencyBonus7Day  = 0.15
	recencyBonus30Day = 0.10
	recencyBonus90Day = 0.05

	contentLengthBonusPrimary   = 0.1
	contentLengthBonusSecondary = 0.05
)

// MetadataFilter names the category a caller is filtering for, used to
// award the category-match bonus below.
type MetadataFilter struct {
	Category string
}

// MetadataScore implements spec.md §4.6's metadata-score formula: a base of
// 0.5 plus bonuses for category-filter match, priority, recency bucket,
// success rate, and content length, capped at 1.0.
func MetadataScore(doc *model.Document, filter MetadataFilter, now time.Time) float64 {
	score := metadataBaseScore

	if filter.Category != "" && string(doc.Category) == filter.Category {
		score += categoryMatchBonus
	}

	if priority, ok := intMetadata(doc.Metadata, "priority"); ok && priority >= 1 && priority <= 5 {
		score += 0.1 * float64(6-priority)
	}

	score += recencyBonus(doc.LastUpdated, now)

	if successRate, ok := floatMetadata(doc.Metadata, "success_rate"); ok && successRate >= 0 && successRate <= 1 {
		score += 0.2 * successRate
	}

	contentLen := len(doc.Content)
	switch {
	case contentLen >= 100 && contentLen <= 5000:
		score += contentLengthBonusPrimary
	case contentLen > 5000 && contentLen <= 10000:
		score += contentLengthBonusSecondary
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func recencyBonus(lastUpdated, now time.Time) float64 {
	if lastUpdated.IsZero() {
		return 0
	}
	age := now.Sub(lastUpdated)
	switch {
	case age <= 7*24*time.Hour:
		return recencyBonus7Day
	case age <= 30*24*time.Hour:
		return recencyBonus30Day
	case age <= 90*24*time.Hour:
		return recencyBonus90Day
	default:
		return 0
	}
}

func intMetadata(m map[string]interface{}, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func floatMetadata(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
