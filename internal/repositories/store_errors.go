package repositories

import (
	"errors"
	"fmt"
)

// StoreErrorKind classifies failures raised by non-Firestore backends.
type StoreErrorKind string

const (
	StoreErrorNotFound    StoreErrorKind = "not_found"
	StoreErrorConflict    StoreErrorKind = "conflict"
	StoreErrorUnavailable StoreErrorKind = "unavailable"
)

// StoreError implements RepositoryError for the memory, Redis and file backends.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// NewStoreError constructs a categorised repository error.
func NewStoreError(op string, kind StoreErrorKind, err error) *StoreError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }

// IsNotFound reports whether err is a repository error flagged as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a repository error flagged as a conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a repository error flagged as a transient outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
