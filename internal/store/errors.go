package store

import (
	"errors"
	"fmt"
)

// SchemaError reports an unreachable backend or a table whose structure
// cannot be used or extended additively.
type SchemaError struct {
	Table  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := "schema"
	if e.Table != "" {
		msg += " " + e.Table
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error { return e.Err }

// NotFoundError reports a key lookup miss.
type NotFoundError struct {
	Table string
	Key   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: no row with key %q", e.Table, e.Key)
}

// StorageTimeoutError reports a backend call that exceeded its deadline.
// Callers may retry with backoff.
type StorageTimeoutError struct {
	Table string
	Op    string
	Err   error
}

func (e *StorageTimeoutError) Error() string {
	return fmt.Sprintf("%s %s: storage timeout: %v", e.Op, e.Table, e.Err)
}

func (e *StorageTimeoutError) Unwrap() error { return e.Err }

// ValidationError reports a record that does not fit its table's columns.
type ValidationError struct {
	Table  string
	Column string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Reason)
}

// DuplicateKeyError reports an insert whose explicit key already exists.
type DuplicateKeyError struct {
	Table string
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: key %q already exists", e.Table, e.Key)
}

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTimeout reports whether err is or wraps a *StorageTimeoutError.
func IsTimeout(err error) bool {
	var te *StorageTimeoutError
	return errors.As(err, &te)
}
