// Package fanout delivers rendered reminders over their channel and records
// the terminal outcome of every delivery job.
package fanout

import (
	"errors"
	"fmt"
	"time"
)

// Result classifies the outcome of one delivery attempt.
type Result int

const (
	ResultSuccess Result = iota
	ResultTransient
	ResultTerminal
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultTransient:
		return "transient"
	case ResultTerminal:
		return "terminal"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Outcome is the typed result a handler returns for one attempt.
type Outcome struct {
	Result       Result
	Err          error
	ResponseTime time.Duration
}

// Success reports a delivery accepted by its channel.
func Success(rt time.Duration) Outcome {
	return Outcome{Result: ResultSuccess, ResponseTime: rt}
}

// Failure reports a failed attempt, classified by Classify.
func Failure(err error, rt time.Duration) Outcome {
	return Outcome{Result: Classify(err), Err: err, ResponseTime: rt}
}

// Message returns the error text of a failed outcome.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// TransientError is a failure worth retrying: timeouts, 5xx, broker hiccups.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError is a failure that retrying cannot fix: bad recipient,
// rejected content, missing event.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Transient wraps err as a *TransientError.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// Terminal wraps err as a *TerminalError.
func Terminal(err error) error {
	return &TerminalError{Err: err}
}

// Classify maps an error to a Result. Unrecognised errors are transient so
// they go through the retry budget rather than failing on first sight.
func Classify(err error) Result {
	if err == nil {
		return ResultSuccess
	}

	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return ResultTerminal
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return ResultTransient
	}
	return ResultTransient
}
