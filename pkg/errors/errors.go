package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a failure so callers can decide how to present or retry it
type ErrorType string

const (
	// Supervision and streaming failures
	ErrorTypeSpawn              ErrorType = "spawn"
	ErrorTypeProbeTimeout       ErrorType = "probe_timeout"
	ErrorTypeStreamParse        ErrorType = "stream_parse"
	ErrorTypeClassified         ErrorType = "classified"
	ErrorTypeServiceUnreachable ErrorType = "service_unreachable"
	ErrorTypeUpstreamTask       ErrorType = "upstream_task"

	// General failures
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ContextString returns a string context value, or "" when absent
func (e *DomainError) ContextString(key string) string {
	if e.Context == nil {
		return ""
	}
	if s, ok := e.Context[key].(string); ok {
		return s
	}
	return ""
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Supervision errors

func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewProbeTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProbeTimeout, message, cause)
}

func NewStreamParseError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStreamParse, message, cause)
}

func NewClassifiedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeClassified, message, cause)
}

func NewServiceUnreachableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeServiceUnreachable, message, cause)
}

func NewUpstreamTaskError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeUpstreamTask, message, cause)
}

// General errors

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// TypeOf returns the type of the outermost DomainError in the chain, or "" if there is none
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// As exposes the standard library errors.As so callers do not need two "errors" imports
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func hasType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsSpawnError(err error) bool              { return hasType(err, ErrorTypeSpawn) }
func IsProbeTimeoutError(err error) bool       { return hasType(err, ErrorTypeProbeTimeout) }
func IsStreamParseError(err error) bool        { return hasType(err, ErrorTypeStreamParse) }
func IsClassifiedError(err error) bool         { return hasType(err, ErrorTypeClassified) }
func IsServiceUnreachableError(err error) bool { return hasType(err, ErrorTypeServiceUnreachable) }
func IsUpstreamTaskError(err error) bool       { return hasType(err, ErrorTypeUpstreamTask) }
func IsValidationError(err error) bool         { return hasType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool           { return hasType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool           { return hasType(err, ErrorTypeConflict) }
func IsProcessError(err error) bool            { return hasType(err, ErrorTypeProcess) }
func IsTimeoutError(err error) bool            { return hasType(err, ErrorTypeTimeout) }
func IsIOError(err error) bool                 { return hasType(err, ErrorTypeIO) }
func IsNetworkError(err error) bool            { return hasType(err, ErrorTypeNetwork) }
func IsInternalError(err error) bool           { return hasType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool          { return hasType(err, ErrorTypeCancelled) }

// ErrorCollection aggregates errors from bulk operations such as config validation
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred, first: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unwrap lets errors.Is and errors.As look into every collected error
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
