package refgraph

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes reference resolution failures.
type ErrorCode string

const (
	// ErrCodeMalformed indicates a reference surrounded by "[" and "]".
	ErrCodeMalformed ErrorCode = "MALFORMED"

	// ErrCodeUnknownType indicates the referenced table is not registered.
	ErrCodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// ErrCodeNotFound indicates the referenced object does not exist or is
	// pending removal.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeMultipleInstances indicates the reference field appears more
	// than once in a task.
	ErrCodeMultipleInstances ErrorCode = "MULTIPLE_INSTANCES"

	// ErrCodeFieldNotFound indicates the task has no such field.
	ErrCodeFieldNotFound ErrorCode = "FIELD_NOT_FOUND"

	// ErrCodeNotResolved indicates the field value did not resolve to a
	// live object.
	ErrCodeNotResolved ErrorCode = "NOT_RESOLVED"

	// ErrCodeEmpty indicates the field is present with an empty value, which
	// callers treat as "clear the reference".
	ErrCodeEmpty ErrorCode = "EMPTY"
)

// RefError reports a reference resolution failure.
type RefError struct {
	Code  ErrorCode
	Table string
	Name  string
	Field string
	Err   error
}

// Error implements the error interface.
func (e *RefError) Error() string {
	msg := string(e.Code)
	if e.Field != "" {
		msg += fmt.Sprintf(" field=%s", e.Field)
	}
	if e.Table != "" {
		msg += fmt.Sprintf(" table=%s", e.Table)
	}
	if e.Name != "" {
		msg += fmt.Sprintf(" name=%q", e.Name)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *RefError) Unwrap() error { return e.Err }

// ErrPendingRemove is the cause attached to NOT_FOUND when the object
// exists but is waiting to be removed.
var ErrPendingRemove = errors.New("object is pending removal")

func codeOf(err error) ErrorCode {
	var re *RefError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND reference error.
func IsNotFound(err error) bool { return codeOf(err) == ErrCodeNotFound }

// IsNotResolved reports whether err is a NOT_RESOLVED reference error.
// Reconcilers retry these: the referenced object may still be created.
func IsNotResolved(err error) bool { return codeOf(err) == ErrCodeNotResolved }

// IsEmpty reports whether err marks an empty reference value.
func IsEmpty(err error) bool { return codeOf(err) == ErrCodeEmpty }

// IsFieldNotFound reports whether err is a FIELD_NOT_FOUND reference error.
func IsFieldNotFound(err error) bool { return codeOf(err) == ErrCodeFieldNotFound }

// IsMultipleInstances reports whether err is a MULTIPLE_INSTANCES error.
func IsMultipleInstances(err error) bool { return codeOf(err) == ErrCodeMultipleInstances }

// IsUnknownType reports whether err is an UNKNOWN_TYPE error.
func IsUnknownType(err error) bool { return codeOf(err) == ErrCodeUnknownType }

// IsMalformed reports whether err is a MALFORMED error.
func IsMalformed(err error) bool { return codeOf(err) == ErrCodeMalformed }

// IsRetryable reports whether err is a NOT_RESOLVED error caused by a
// missing or pending-remove object, which may clear once the object is
// created. Malformed references are not retryable.
func IsRetryable(err error) bool {
	var re *RefError
	if !errors.As(err, &re) || re.Code != ErrCodeNotResolved {
		return false
	}
	var cause *RefError
	return errors.As(re.Err, &cause) && cause.Code == ErrCodeNotFound
}
