package solver

import (
	"errors"
	"fmt"
)

// TransportError is a timeout, connection failure, or non-2xx response.
type TransportError struct {
	Op         string // createTask or getTaskResult
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("solver %s: http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("solver %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transient reports whether the failure happened below HTTP (no response),
// which the poll loop retries on the backoff schedule.
func (e *TransportError) Transient() bool { return e.StatusCode == 0 }

// LogicError is a terminal status reported by the solving service itself.
type LogicError struct {
	Op          string
	Status      string
	Code        string
	Description string
}

func (e *LogicError) Error() string {
	desc := e.Description
	if desc == "" {
		desc = "no description"
	}
	if e.Code != "" {
		return fmt.Sprintf("solver %s: %s (%s)", e.Op, desc, e.Code)
	}
	return fmt.Sprintf("solver %s: %s", e.Op, desc)
}

// IsTransient reports whether err is a transport failure worth retrying.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Transient()
}
