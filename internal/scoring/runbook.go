package scoring

import (
	"regexp"
	"strings"
)

// RunbookClass is the operational shape a detected runbook is classified
// into, used to populate Document.Metadata["runbook_class"].
type RunbookClass string

const (
	RunbookClassIncident     RunbookClass = "incident"
	RunbookClassMaintenance  RunbookClass = "maintenance"
	RunbookClassTroubleshoot RunbookClass = "troubleshooting"
	RunbookClassProcedure    RunbookClass = "procedure"
)

var (
	titleKeywords = []string{"runbook", "playbook", "on-call", "oncall", "incident response", "sop", "standard operating procedure"}

	emergencyTerms = []string{"emergency", "incident", "escalate", "escalation", "outage", "sev1", "sev2", "p1", "p0", "urgent", "critical"}

	structuralSteps = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|step\s+\d+|[-*])\s+\S`)

	decisionLanguage = []string{"if ", "then ", "otherwise", "when this happens", "in case of"}

	incidentTerms     = []string{"incident", "outage", "sev1", "sev2", "downtime", "pager"}
	maintenanceTerms  = []string{"maintenance", "upgrade", "migration", "patch", "scheduled"}
	troubleshootTerms = []string{"troubleshoot", "diagnose", "debug", "investigate", "root cause"}
)

// RunbookSignals carries the metadata hints a caller already has on hand, so
// the heuristic does not need to re-derive them from free text.
type RunbookSignals struct {
	Category string
	Tags     []string
}

// RunbookScore combines title keywords, content keywords, structural cues,
// and declared metadata into a single weighted score in [0,1]. A caller
// compares the result against its own configured threshold (default 0.7 per
// the originating design) to decide whether a document is a runbook.
func RunbookScore(title, content string, signals RunbookSignals) float64 {
	lowerTitle := strings.ToLower(title)
	lowerContent := strings.ToLower(content)

	var score float64

	if containsAny(lowerTitle, titleKeywords) {
		score += 0.25
	}

	if structuralSteps.MatchString(content) {
		score += 0.20
	}

	if containsAny(lowerContent, emergencyTerms) {
		score += 0.25
	}

	if containsAny(lowerContent, decisionLanguage) {
		score += 0.15
	}

	if strings.EqualFold(signals.Category, "runbook") || containsFold(signals.Tags, "runbook") {
		score += 0.15
	}

	if score > 1 {
		score = 1
	}
	return score
}

// ClassifyRunbook maps title/content text onto one of the four operational
// shapes. Ties resolve in the declared precedence order: an incident-shaped
// document always outranks a merely procedural one.
func ClassifyRunbook(title, content string) RunbookClass {
	lower := strings.ToLower(title + " " + content)

	switch {
	case containsAny(lower, incidentTerms):
		return RunbookClassIncident
	case containsAny(lower, troubleshootTerms):
		return RunbookClassTroubleshoot
	case containsAny(lower, maintenanceTerms):
		return RunbookClassMaintenance
	default:
		return RunbookClassProcedure
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
