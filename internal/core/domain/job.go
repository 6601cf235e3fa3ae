package domain

import "time"

// IngestJob asks the processor to ingest one file from the drop folder.
type IngestJob struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Source       Source    `json:"source"`
	OriginalName string    `json:"original_name"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

type ProcessOutcome string

const (
	OutcomeGone          ProcessOutcome = "gone"
	OutcomeDuplicate     ProcessOutcome = "duplicate"
	OutcomeAutoAssigned  ProcessOutcome = "auto_assigned"
	OutcomePendingReview ProcessOutcome = "pending_review"
)

// FailedJob is one failed delivery kept for operator inspection.
type FailedJob struct {
	JobID    string    `json:"job_id"`
	Path     string    `json:"path"`
	Attempt  int       `json:"attempt"`
	Final    bool      `json:"final"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
