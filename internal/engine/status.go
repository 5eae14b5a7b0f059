package engine

import (
	"context"
	"fmt"

	"github.com/roach88/orchd/internal/task"
)

// Status is the outcome of handling one pending Task.
type Status int

const (
	// StatusSuccess means the Task was applied and is consumed.
	StatusSuccess Status = iota
	// StatusNeedRetry keeps the Task (or its replacement) pending.
	StatusNeedRetry
	// StatusFailed means the Task could not be applied and is dropped.
	StatusFailed
	// StatusInvalidEntry means the Task is malformed and is dropped.
	StatusInvalidEntry
	// StatusIgnore means the Task is not for this reconciler and is dropped.
	StatusIgnore
)

// String returns the label used in logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNeedRetry:
		return "need_retry"
	case StatusFailed:
		return "failed"
	case StatusInvalidEntry:
		return "invalid_entry"
	case StatusIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is what a HandlerFunc returns for one Task.
//
// Replace is only read for StatusNeedRetry: when set, it takes the place of
// the visited Task in the queue (typically the same Task narrowed to the
// fields that still have to be applied).
type Result struct {
	Status  Status
	Replace *task.Task
}

// Consumed reports the Task as applied.
func Consumed() Result { return Result{Status: StatusSuccess} }

// Retry keeps the Task unchanged.
func Retry() Result { return Result{Status: StatusNeedRetry} }

// RetryWith keeps t in place of the visited Task.
func RetryWith(t task.Task) Result { return Result{Status: StatusNeedRetry, Replace: &t} }

// Failed drops the Task after a terminal failure.
func Failed() Result { return Result{Status: StatusFailed} }

// Invalid drops a malformed Task.
func Invalid() Result { return Result{Status: StatusInvalidEntry} }

// Ignore drops a Task the reconciler does not act on.
func Ignore() Result { return Result{Status: StatusIgnore} }

// Retained reports whether the Task stays pending.
func (r Result) Retained() bool { return r.Status == StatusNeedRetry }

// HandlerFunc applies one Task. The error return is reserved for the fatal
// class (*FatalError); any other outcome is expressed through Result.
type HandlerFunc func(ctx context.Context, t task.Task) (Result, error)
