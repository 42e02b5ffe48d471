package rag

import (
	"errors"
	"fmt"
)

// ValidationError marks failures caused by the caller's input: empty files,
// disallowed extensions, unparseable content, missing fields. Never retried.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a client-caused error with a human-readable reason.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// InfrastructureError marks failures of a backing system: vector store
// unreachable, embedding or generation backend down, temp-file I/O. Safe to
// retry at the caller/queue level.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// NewInfrastructureError wraps err as a system-caused, retryable failure.
func NewInfrastructureError(op string, err error) *InfrastructureError {
	return &InfrastructureError{Op: op, Err: err}
}

// DimensionMismatchError reports an embedding whose length does not match
// the collection contract. Operator intervention required; not retryable.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Sentinel errors used by parsers and the chunker.
var (
	// ErrUnsupportedFormat is returned when neither the declared content
	// type nor the filename extension resolves to a parser.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrParse marks input that is not a well-formed container for its
	// declared format, or decodes to zero extractable text.
	ErrParse = errors.New("parse failure")

	// ErrNoChunks reports that parsed text produced zero chunks. The
	// orchestrator treats this as a reportable condition, not a crash.
	ErrNoChunks = errors.New("no chunks produced")
)

// IsValidation reports whether err is client-caused (4xx-equivalent).
func IsValidation(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrParse) || errors.Is(err, ErrNoChunks)
}

// IsRetryable reports whether err is a system failure the queue may retry.
func IsRetryable(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}
