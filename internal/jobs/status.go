// Package jobs defines the durable bulk-pricing job record and its status
// state machine.
//
// Valid status graph:
//
//	pending ──► processing ──► completed
//	                 │
//	                 └───────► failed
//
// completed and failed are terminal. cancelled exists in the type system for
// submitters that withdraw a job before it is claimed, but no transition into
// or out of it is performed by this service.
package jobs

import "fmt"

// Status values mirror the status CHECK constraint on pricing_jobs.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	// completed, failed and cancelled are terminal — no outgoing transitions
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// CanTransition returns true when moving from → to is permitted by the
// state machine.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// IsActive reports whether the job still occupies the work queue
// (pending or processing).
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}
