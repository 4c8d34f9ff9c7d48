package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opsknowledge/retrieval-service/internal/query"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

const (
	refinementSystemMatch   = 0.30
	refinementSeverityMatch = 0.20
	refinementAlertMatch    = 0.20
)

var urgentSeverities = map[string]bool{"critical": true, "high": true}

// SearchRunbooks implements spec.md §4.6's searchRunbooks: builds a derived
// query from the alert shape, runs it through Search restricted to the
// runbook category, converts matching documents into Runbooks, and applies
// the runbook-relevance refinement before sorting desc.
func (e *Engine) SearchRunbooks(ctx context.Context, alertType, severity string, affectedSystems []string, searchCtx map[string]interface{}) ([]*model.Runbook, error) {
	derivedQuery := buildRunbookQuery(alertType, severity, affectedSystems)

	qctx := &query.Context{
		AlertType: alertType,
		Severity:  severity,
		Systems:   affectedSystems,
		Urgent:    urgentSeverities[strings.ToLower(severity)],
		Metadata:  searchCtx,
	}

	result, err := e.Search(ctx, derivedQuery, Filters{Categories: []string{string(model.CategoryRunbook)}}, qctx)
	if err != nil {
		return nil, err
	}

	runbooks := make([]*model.Runbook, 0, len(result.Documents))
	for _, doc := range result.Documents {
		if doc.Category != model.CategoryRunbook {
			continue
		}
		rb := model.RunbookFromDocument(doc)
		rb.RelevanceScore = runbookRelevance(rb, alertType, severity, affectedSystems)
		runbooks = append(runbooks, rb)
	}

	sort.SliceStable(runbooks, func(i, j int) bool { return runbooks[i].RelevanceScore > runbooks[j].RelevanceScore })
	return runbooks, nil
}

func buildRunbookQuery(alertType, severity string, affectedSystems []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "runbook for %s severity %s", alertType, severity)
	for _, s := range affectedSystems {
		fmt.Fprintf(&b, " system %s", s)
	}
	return b.String()
}

func runbookRelevance(rb *model.Runbook, alertType, severity string, affectedSystems []string) float64 {
	score := 0.0

	for _, sys := range affectedSystems {
		if rb.ReferencesSystem(sys) {
			score += refinementSystemMatch
			break
		}
	}
	if rb.MapsSeverity(severity) {
		score += refinementSeverityMatch
	}
	if rb.MatchesTrigger(alertType) {
		score += refinementAlertMatch
	}

	return score
}
