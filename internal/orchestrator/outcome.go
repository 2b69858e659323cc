package orchestrator

import (
	"errors"
	"fmt"
)

// Status is the terminal state of a Session.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// ErrBudgetExhausted ends a Session after the configured number of attempts.
var ErrBudgetExhausted = errors.New("attempt budget exhausted")

// ErrMonitorTimeout aborts an attempt whose monitoring exceeded its cap.
var ErrMonitorTimeout = errors.New("continuous monitoring exceeded its duration cap")

// Outcome is the single report of a Session.
type Outcome struct {
	SessionID      string
	Status         Status
	Reason         string
	Attempts       int
	TasksSubmitted int
	Solved         int
	InvalidIndices int
	// LastError is the error that ended the final aborted attempt, if any.
	LastError error
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Status.String()
	}
	return fmt.Sprintf("%s(%s)", o.Status, o.Reason)
}
