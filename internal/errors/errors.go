// Package errors provides the typed error taxonomy shared by the core
// components. Callers branch on semantic codes instead of string matching.
package errors

import (
	"errors"
	"fmt"
)

// Code is a semantic error code carried by every core error.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeParseFailure       Code = "PARSE_FAILURE"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeQueueUnavailable   Code = "QUEUE_UNAVAILABLE"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeEmbedding          Code = "EMBEDDING_ERROR"
	CodeTimeout            Code = "TIMEOUT"
)

// CoreError is the unified error type surfaced by the core packages.
type CoreError struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *CoreError) Unwrap() error { return e.Cause }

// Is matches on code so sentinel comparisons work across wrap layers.
func (e *CoreError) Is(target error) bool {
	var ce *CoreError
	if errors.As(target, &ce) {
		return ce.Code == e.Code && (ce.Message == "" || ce.Message == e.Message)
	}
	return false
}

// New creates a CoreError with a code and message.
func New(code Code, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// Wrap creates a CoreError wrapping a cause.
func Wrap(code Code, message string, cause error) *CoreError {
	return &CoreError{Code: code, Message: message, Cause: cause}
}

// NotFound reports a missing blob, session, job or collection.
func NotFound(what, id string) *CoreError {
	return &CoreError{Code: CodeNotFound, Message: fmt.Sprintf("%s not found: %s", what, id)}
}

// ParseFailure reports an unsupported or malformed document.
func ParseFailure(message string, cause error) *CoreError {
	return &CoreError{Code: CodeParseFailure, Message: message, Cause: cause}
}

// StorageUnavailable reports a vector-store or relational-store failure.
func StorageUnavailable(message string, cause error) *CoreError {
	return &CoreError{Code: CodeStorageUnavailable, Message: message, Cause: cause}
}

// QueueUnavailable reports a job-queue failure.
func QueueUnavailable(message string, cause error) *CoreError {
	return &CoreError{Code: CodeQueueUnavailable, Message: message, Cause: cause}
}

// Validation reports a missing or malformed argument.
func Validation(message string) *CoreError {
	return &CoreError{Code: CodeValidation, Message: message}
}

// Embedding reports an embedding-service failure.
func Embedding(message string, cause error) *CoreError {
	return &CoreError{Code: CodeEmbedding, Message: message, Cause: cause}
}

// Timeout reports an exceeded deadline.
func Timeout(message string) *CoreError {
	return &CoreError{Code: CodeTimeout, Message: message}
}

// CodeOf extracts the semantic code from any error chain. Errors outside
// the taxonomy report as storage-unavailable, the §7 catch-all.
func CodeOf(err error) Code {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeStorageUnavailable
}

// IsNotFound reports whether the chain contains a NOT_FOUND error.
func IsNotFound(err error) bool {
	var ce *CoreError
	return errors.As(err, &ce) && ce.Code == CodeNotFound
}
