// Package errors provides structured error handling for the protocol stack.
// It defines error types that map to JSON-RPC error codes and carry enough
// context for both programmatic handling and debugging.
package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category classifies an error for programmatic handling. Callers branch on
// categories rather than codes: a timeout and a cancellation are different
// outcomes even though both abort a pending request.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"
	CategoryNotFound   Category = "not_found"
	CategoryTransport  Category = "transport"
	CategoryInternal   Category = "internal"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
	CategoryProtocol   Category = "protocol"
)

// Severity indicates how critical an error is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where and when an error occurred.
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProtocolError is the interface implemented by all errors this module
// produces.
type ProtocolError interface {
	error

	// Code returns the JSON-RPC error code (or local diagnostic code)
	Code() int

	// Message returns the human-readable error message
	Message() string

	// Data returns structured error data for programmatic handling
	Data() interface{}

	// Category returns the error category for classification
	Category() Category

	// Severity returns the error severity level
	Severity() Severity

	// Context returns the error context information
	Context() *Context

	// WithContext returns a copy of the error with the provided context
	WithContext(ctx *Context) ProtocolError

	// WithDetail returns a copy of the error with additional detail appended
	WithDetail(detail string) ProtocolError

	// WithData returns a copy of the error with structured data attached
	WithData(data interface{}) ProtocolError

	// Unwrap returns the underlying error, if any
	Unwrap() error
}

type baseError struct {
	code     int
	message  string
	detail   string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("%s: %s", e.message, e.detail)
	}
	return e.message
}

func (e *baseError) Code() int          { return e.code }
func (e *baseError) Message() string    { return e.message }
func (e *baseError) Data() interface{}  { return e.data }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) Context() *Context  { return e.context }
func (e *baseError) Unwrap() error      { return e.cause }

func (e *baseError) WithContext(ctx *Context) ProtocolError {
	clone := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}
	clone.context = ctx
	return &clone
}

func (e *baseError) WithDetail(detail string) ProtocolError {
	clone := *e
	if clone.detail != "" {
		clone.detail = fmt.Sprintf("%s; %s", clone.detail, detail)
	} else {
		clone.detail = detail
	}
	return &clone
}

func (e *baseError) WithData(data interface{}) ProtocolError {
	clone := *e
	clone.data = data
	return &clone
}

// MarshalJSON serializes the error for structured logging.
func (e *baseError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"code":     e.code,
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}
	if e.detail != "" {
		out["detail"] = e.detail
	}
	if e.data != nil {
		out["data"] = e.data
	}
	if e.context != nil {
		out["context"] = e.context
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	return json.Marshal(out)
}

// New creates a new ProtocolError.
func New(code int, message string, category Category, severity Severity) ProtocolError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		context:  &Context{Timestamp: time.Now()},
	}
}

// Newf creates a new ProtocolError with a formatted message.
func Newf(code int, category Category, severity Severity, format string, args ...interface{}) ProtocolError {
	return New(code, fmt.Sprintf(format, args...), category, severity)
}

// Wrap wraps an existing error as a ProtocolError.
func Wrap(err error, code int, message string, category Category, severity Severity) ProtocolError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		cause:    err,
		context:  &Context{Timestamp: time.Now()},
	}
}

// AsProtocolError extracts a ProtocolError from any error.
func AsProtocolError(err error) (ProtocolError, bool) {
	if err == nil {
		return nil, false
	}
	pe, ok := err.(ProtocolError)
	return pe, ok
}

// IsCategory reports whether err is a ProtocolError of the given category.
func IsCategory(err error, category Category) bool {
	if pe, ok := AsProtocolError(err); ok {
		return pe.Category() == category
	}
	return false
}

// IsCode reports whether err is a ProtocolError with the given code.
func IsCode(err error, code int) bool {
	if pe, ok := AsProtocolError(err); ok {
		return pe.Code() == code
	}
	return false
}

// IsTimeout reports whether err is a request timeout. Timeouts are a distinct
// kind from transport failures: they abort one request, not the connection.
func IsTimeout(err error) bool {
	return IsCategory(err, CategoryTimeout)
}

// IsCancelled reports whether err is a cancellation (disconnect or explicit).
func IsCancelled(err error) bool {
	return IsCategory(err, CategoryCancelled)
}
