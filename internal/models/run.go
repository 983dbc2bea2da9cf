package models

import "time"

// RunType identifies a logical agent.
type RunType string

// Logical agents driven by the orchestrator.
const (
	RunTypeSummarizer RunType = "summarizer"
	RunTypeDecider    RunType = "decider"
	RunTypeFeedback   RunType = "feedback"
)

// RunTypes lists all logical agents in scheduling order.
var RunTypes = []RunType{RunTypeSummarizer, RunTypeDecider, RunTypeFeedback}

// Valid reports whether t names a known run type.
func (t RunType) Valid() bool {
	switch t {
	case RunTypeSummarizer, RunTypeDecider, RunTypeFeedback:
		return true
	}
	return false
}

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Run is one scheduled or manually triggered execution of a logical agent.
// At most one Run per type is ever in the running state. SlotKey names the
// schedule slot that produced the run ("manual" runs carry a manual slot);
// the orchestrator uses it to fire each slot at most once.
type Run struct {
	ID        string    `json:"id" badgerhold:"key"`
	Type      RunType   `json:"run_type"`
	SlotKey   string    `json:"slot_key"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
