package engine

import (
	"errors"
	"fmt"
)

// FatalError aborts the dispatcher. It is the only error a Reconciler
// returns from Process; everything else is handled per task.
type FatalError struct {
	// Code identifies the error category.
	Code FatalErrorCode

	// Table and Key identify the task being processed, when known.
	Table string
	Key   string

	// Err is the cause.
	Err error
}

// FatalErrorCode categorizes fatal errors.
type FatalErrorCode string

const (
	// ErrCodeDevice indicates a device call failed in a way the agent cannot
	// recover from.
	ErrCodeDevice FatalErrorCode = "DEVICE_FATAL"

	// ErrCodeInvariant indicates internal state contradicts itself.
	ErrCodeInvariant FatalErrorCode = "INVARIANT_VIOLATION"

	// ErrCodeStore indicates the table store failed mid-bootstrap.
	ErrCodeStore FatalErrorCode = "STORE_FATAL"
)

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Table != "" && e.Key != "" {
		return fmt.Sprintf("%s: %s|%s: %v", e.Code, e.Table, e.Key, e.Err)
	}
	if e.Table != "" {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Table, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap returns the cause.
func (e *FatalError) Unwrap() error { return e.Err }

// NewDeviceFatal builds a FatalError for an unrecoverable device failure.
func NewDeviceFatal(table, key string, err error) *FatalError {
	return &FatalError{Code: ErrCodeDevice, Table: table, Key: key, Err: err}
}

// NewInvariantFatal builds a FatalError for an internal inconsistency.
func NewInvariantFatal(table, key string, format string, args ...any) *FatalError {
	return &FatalError{Code: ErrCodeInvariant, Table: table, Key: key, Err: fmt.Errorf(format, args...)}
}

// IsFatal returns true if err is or wraps a *FatalError.
// Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ErrDuplicateExecutor is returned by Dispatcher.Add for a name already
// registered.
var ErrDuplicateExecutor = errors.New("duplicate executor name")
