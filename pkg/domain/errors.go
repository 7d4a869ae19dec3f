package domain

import (
	"errors"
	"fmt"
)

// ErrorKind tags an error with its category. The HTTP layer maps kinds to
// status codes; nothing below the boundary depends on transport semantics.
type ErrorKind string

const (
	ErrKindValidation        ErrorKind = "validation"
	ErrKindNotFound          ErrorKind = "not_found"
	ErrKindUnsupportedType   ErrorKind = "unsupported_type"
	ErrKindExtraction        ErrorKind = "extraction"
	ErrKindEmbedding         ErrorKind = "embedding"
	ErrKindQueue             ErrorKind = "queue"
	ErrKindNoRelevantContent ErrorKind = "no_relevant_content"
	ErrKindConflict          ErrorKind = "conflict"
	ErrKindRateLimited       ErrorKind = "rate_limited"
	ErrKindInternal          ErrorKind = "internal"
)

// Error carries a kind alongside a message and an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a tagged error.
func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Ef builds a tagged error with a formatted message.
func Ef(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error. Returns nil when err is nil.
func Wrap(kind ErrorKind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, cause: err}
}

// KindOf returns the kind of err, or ErrKindInternal for untagged errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrKindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
