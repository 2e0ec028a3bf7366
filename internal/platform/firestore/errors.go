package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is a failed Firestore call tagged with the operation and gRPC code. It satisfies
// repositories.RepositoryError so services can classify failures without importing this package.
type Error struct {
	Op   string
	Code codes.Code
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.Code == codes.NotFound }

// IsConflict reports a failed precondition, an existing document on create, or a lost transaction.
func (e *Error) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return true
	}
	return false
}

// IsUnavailable reports a transient backend failure worth retrying later.
func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return true
	}
	return false
}

// conflictf builds the conflict returned when an optimistic check fails inside a transaction.
func conflictf(op, format string, args ...any) *Error {
	return &Error{Op: op, Code: codes.Aborted, Err: fmt.Errorf(format, args...)}
}

// wrap tags err with op. Cancellation and deadlines come back as the context errors; an existing
// *Error keeps its code and only gains op when it had none.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		if tagged.Op == "" {
			tagged.Op = op
		}
		return tagged
	}
	switch code := status.Code(err); code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return &Error{Op: op, Code: code, Err: err}
	}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
