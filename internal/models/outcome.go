package models

import "time"

// OutcomeKind enumerates what happened to a message in one processing attempt
type OutcomeKind string

const (
	OutcomeCreated           OutcomeKind = "created"
	OutcomeSkippedNotInvoice OutcomeKind = "skipped_not_invoice"
	OutcomeSkippedDuplicate  OutcomeKind = "skipped_duplicate"
	OutcomeSkippedTimeout    OutcomeKind = "skipped_timeout"
	OutcomeError             OutcomeKind = "error"
)

// IsSkip reports whether the kind is one of the skipped outcomes
func (k OutcomeKind) IsSkip() bool {
	switch k {
	case OutcomeSkippedNotInvoice, OutcomeSkippedDuplicate, OutcomeSkippedTimeout:
		return true
	}
	return false
}

// Outcome is the result of processing one CandidateMessage
type Outcome struct {
	MessageID   string
	Kind        OutcomeKind
	Record      *InvoiceRecord
	ArtifactRef string
	FileURL     string
	Reason      string
	Err         error
}

// RunState holds the counters of a single run
type RunState struct {
	RunID               string
	StartedAt           time.Time
	Elapsed             time.Duration
	ConsecutiveTimeouts int
	Candidates          int
	Processed           int
	Created             int
	Skipped             int
	Errors              int
}

// Record folds an outcome into the counters
func (s *RunState) Record(o Outcome) {
	s.Processed++
	switch {
	case o.Kind == OutcomeCreated:
		s.Created++
	case o.Kind.IsSkip():
		s.Skipped++
	default:
		s.Errors++
	}
}

// RunSummary is handed back to the caller when a run ends
type RunSummary struct {
	RunState
	Remaining             int
	BreakerTripped        bool
	DeadlineReached       bool
	ContinuationScheduled bool
	Outcomes              []Outcome
}
