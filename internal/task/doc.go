// Package task defines the unit of desired-state change consumed by
// reconcilers: a key, an operation, and an ordered list of field/value pairs.
//
// Tasks are values. Nothing in this package mutates a Task in place; the
// helpers that change fields return a new Task. The engine relies on this
// when it retains a narrowed Task for retry.
//
// The package imports nothing internal so every other package may depend on
// it.
package task
