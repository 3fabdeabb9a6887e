package expandodb

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an IndexError: validation, parse, schema and
// internal/IO failures, plus not-found, engine-closed and argument errors.
type ErrorCode string

const (
	ErrValidation   ErrorCode = "ValidationError"
	ErrParse        ErrorCode = "ParseError"
	ErrSchema       ErrorCode = "SchemaError"
	ErrNotFound     ErrorCode = "NotFoundError"
	ErrEngineClosed ErrorCode = "EngineClosedError"
	ErrInternal     ErrorCode = "InternalError"
	ErrArgument     ErrorCode = "ArgumentError"
)

// IndexError is the general runtime error raised by the engine. It carries
// an optional Code and a free-form Context map for extra debugging data.
type IndexError struct {
	Message string
	Code    ErrorCode
	Context map[string]any
	Cause   error
}

func (e *IndexError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *IndexError) Unwrap() error { return e.Cause }

// NewError constructs an IndexError.
func NewError(msg string, opts ...func(*IndexError)) *IndexError {
	err := &IndexError{Message: msg}
	for _, o := range opts {
		o(err)
	}
	return err
}

// WithCode sets the error code.
func WithCode(c ErrorCode) func(*IndexError) {
	return func(e *IndexError) { e.Code = c }
}

// WithContext attaches a context map.
func WithContext(ctx map[string]any) func(*IndexError) {
	return func(e *IndexError) { e.Context = ctx }
}

// WithCause wraps an underlying error.
func WithCause(cause error) func(*IndexError) {
	return func(e *IndexError) { e.Cause = cause }
}

// ArgError is for invalid argument / constructor-time configuration errors.
type ArgError struct {
	Message string
	Code    ErrorCode
	Context map[string]any
}

func (e *ArgError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

// NewArgError constructs an ArgError.
func NewArgError(msg string, code ...ErrorCode) *ArgError {
	c := ErrArgument
	if len(code) > 0 {
		c = code[0]
	}
	return &ArgError{Message: msg, Code: c}
}

// IsNotFound reports whether err (or anything it wraps) is a not-found
// IndexError.
func IsNotFound(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Code == ErrNotFound
	}
	return false
}
