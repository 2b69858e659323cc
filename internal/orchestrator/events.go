package orchestrator

import (
	"context"
	"time"

	"challengeflow/internal/challenge"
)

// EventKind names a journaled step of a Session.
type EventKind string

const (
	EventSessionStarted  EventKind = "session_started"
	EventSnapshot        EventKind = "snapshot"
	EventTap             EventKind = "tap"
	EventTaskSubmitted   EventKind = "task_submitted"
	EventSubmitFailed    EventKind = "submit_failed"
	EventSolution        EventKind = "solution"
	EventSolveFailed     EventKind = "solve_failed"
	EventInvalidIndex    EventKind = "invalid_solution_index"
	EventAbandonedHandle EventKind = "abandoned_handle"
	EventAttemptAborted  EventKind = "attempt_aborted"
	EventOutcome         EventKind = "outcome"
)

// Event is one journaled step. Only the fields relevant to Kind are set.
type Event struct {
	SessionID      string
	Kind           EventKind
	Attempt        int
	At             time.Time
	Classification challenge.Classification
	Text           string
	Image          []byte
	Handle         challenge.SolveHandle
	GridType       string
	Cells          []int
	Position       string
	Detail         string
}

// Recorder persists Session events. Recording failures never affect the
// resolution flow.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) error { return nil }
