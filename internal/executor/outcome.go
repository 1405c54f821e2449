package executor

import (
	"fmt"
	"time"
)

// Kind is the pipeline-level classification of a child run.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindSoftFailure Kind = "soft_failure"
	KindHardFailure Kind = "hard_failure"
)

// Cause tags how a non-success outcome came about.
type Cause string

const (
	CauseNone    Cause = ""
	CauseExit    Cause = "exit"
	CauseLaunch  Cause = "launch"
	CauseTimeout Cause = "timeout"
	CauseSignal  Cause = "signal"
)

// Outcome is the interpreted result of one child process.
type Outcome struct {
	Kind     Kind
	Code     int
	Cause    Cause
	Program  string
	Duration time.Duration
	Err      error
}

// PipelineSucceeded reports whether the orchestrating run should pass.
// Soft failures pass on purpose: a downstream notifier reports them.
func (o Outcome) PipelineSucceeded() bool {
	return o.Kind == KindSuccess || o.Kind == KindSoftFailure
}

// Message is the human readable line shown in the pipeline log.
func (o Outcome) Message() string {
	program := o.Program
	if program == "" {
		program = "child process"
	}
	switch {
	case o.Kind == KindSuccess:
		return fmt.Sprintf("%s completed successfully", program)
	case o.Kind == KindSoftFailure:
		return fmt.Sprintf("%s exited with status %d; the pipeline is not failed, a downstream notification is expected to report the outcome", program, o.Code)
	case o.Cause == CauseLaunch:
		return fmt.Sprintf("%s could not be started: %v", program, o.Err)
	case o.Cause == CauseTimeout:
		return fmt.Sprintf("%s did not finish within %s", program, o.Duration.Round(time.Second))
	case o.Cause == CauseSignal:
		return fmt.Sprintf("%s was terminated by a signal", program)
	default:
		return fmt.Sprintf("%s failed with exit status %d", program, o.Code)
	}
}

// ExitPolicy maps raw exit statuses onto outcome kinds. Codes missing from
// the table take the fallback kind.
type ExitPolicy struct {
	table    map[int]Kind
	fallback Kind
}

func NewExitPolicy(table map[int]Kind, fallback Kind) ExitPolicy {
	copied := make(map[int]Kind, len(table))
	for code, kind := range table {
		copied[code] = kind
	}
	if fallback == "" {
		fallback = KindHardFailure
	}
	return ExitPolicy{table: copied, fallback: fallback}
}

// DefaultExitPolicy is the canonical mapping: 0 succeeds, 2 is a soft
// failure, everything else fails the pipeline.
func DefaultExitPolicy() ExitPolicy {
	return NewExitPolicy(map[int]Kind{
		0: KindSuccess,
		2: KindSoftFailure,
	}, KindHardFailure)
}

// StrictExitPolicy fails on anything but 0. Used for setup steps.
func StrictExitPolicy() ExitPolicy {
	return NewExitPolicy(map[int]Kind{0: KindSuccess}, KindHardFailure)
}

// Classify interprets an exit status.
func (p ExitPolicy) Classify(code int) Outcome {
	if p.table == nil {
		p = DefaultExitPolicy()
	}
	kind, ok := p.table[code]
	if !ok {
		kind = p.fallback
		if kind == "" {
			kind = KindHardFailure
		}
	}
	cause := CauseExit
	if kind == KindSuccess {
		cause = CauseNone
	}
	return Outcome{Kind: kind, Code: code, Cause: cause}
}
