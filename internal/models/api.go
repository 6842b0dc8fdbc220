package models

import "time"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler map[string]string `json:"scheduler"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// OutcomeResponse is the API view of one message outcome
type OutcomeResponse struct {
	MessageID string      `json:"message_id"`
	Kind      OutcomeKind `json:"kind"`
	FileURL   string      `json:"file_url,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// SummaryResponse is the API view of a finished run
type SummaryResponse struct {
	RunID                 string            `json:"run_id"`
	StartedAt             time.Time         `json:"started_at"`
	ElapsedSeconds        float64           `json:"elapsed_seconds"`
	Candidates            int               `json:"candidates"`
	Processed             int               `json:"processed"`
	Created               int               `json:"created"`
	Skipped               int               `json:"skipped"`
	Errors                int               `json:"errors"`
	Remaining             int               `json:"remaining"`
	BreakerTripped        bool              `json:"breaker_tripped"`
	DeadlineReached       bool              `json:"deadline_reached"`
	ContinuationScheduled bool              `json:"continuation_scheduled"`
	Outcomes              []OutcomeResponse `json:"outcomes"`
}

// NewSummaryResponse converts a run summary for the API
func NewSummaryResponse(s *RunSummary) SummaryResponse {
	resp := SummaryResponse{
		RunID:                 s.RunID,
		StartedAt:             s.StartedAt,
		ElapsedSeconds:        s.Elapsed.Seconds(),
		Candidates:            s.Candidates,
		Processed:             s.Processed,
		Created:               s.Created,
		Skipped:               s.Skipped,
		Errors:                s.Errors,
		Remaining:             s.Remaining,
		BreakerTripped:        s.BreakerTripped,
		DeadlineReached:       s.DeadlineReached,
		ContinuationScheduled: s.ContinuationScheduled,
		Outcomes:              make([]OutcomeResponse, 0, len(s.Outcomes)),
	}
	for _, o := range s.Outcomes {
		out := OutcomeResponse{MessageID: o.MessageID, Kind: o.Kind, FileURL: o.FileURL, Reason: o.Reason}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	return resp
}
