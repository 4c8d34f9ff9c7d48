package dispatcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Feedback is one record_resolution_feedback submission: did a runbook's
// procedure actually resolve the incident it was matched against.
type Feedback struct {
	ID                    string
	RunbookID             string
	ProcedureID           string
	Outcome               string
	ResolutionTimeMinutes int
	Notes                 string
	RecordedAt            time.Time
}

// FeedbackStore is an in-memory sink for resolution feedback. Nothing else
// in this service persists write-path data, so this is the minimal store
// that satisfies record_resolution_feedback's side effect; a durable
// backing store is an adapter-layer concern this exercise doesn't need.
type FeedbackStore struct {
	mu      sync.Mutex
	entries []Feedback
}

func NewFeedbackStore() *FeedbackStore {
	return &FeedbackStore{}
}

// Record appends f (with a generated id and timestamp) and returns it.
func (s *FeedbackStore) Record(f Feedback) Feedback {
	f.ID = uuid.NewString()
	f.RecordedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, f)
	return f
}

// ForRunbook returns every feedback entry recorded against runbookID, oldest
// first.
func (s *FeedbackStore) ForRunbook(runbookID string) []Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Feedback, 0)
	for _, f := range s.entries {
		if f.RunbookID == runbookID {
			out = append(out, f)
		}
	}
	return out
}
