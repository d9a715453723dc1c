package knowledge

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an engine error.
type ErrorClass string

const (
	// ErrorClassValidation indicates a malformed unit or template, such as
	// a missing required field or a malformed identifier. During bulk
	// ingestion these are surfaced as warnings and do not abort the batch.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassState indicates an operation against a record in the wrong
	// lifecycle state, such as translating a non-active template or
	// activating a template without units. Fatal to that single call.
	ErrorClassState ErrorClass = "state"

	// ErrorClassLookup indicates an unknown identifier on a path that must
	// fail. Plain absence on read paths is a normal comma-ok return, not
	// an error.
	ErrorClassLookup ErrorClass = "lookup"

	// ErrorClassStep indicates an execution-time failure within a single
	// plan step. It is captured and recorded on the step; execution
	// continues unless the critical short-circuit rule applies.
	ErrorClassStep ErrorClass = "step"
)

// Error represents a classified engine error with context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Template is the template identifier involved, if applicable.
	Template string `json:"template,omitempty"`

	// Step is the plan step order involved, if applicable.
	Step int `json:"step,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Template != "" && e.Step > 0:
		return fmt.Sprintf("[%s] %s (template=%s, step=%d)%s",
			e.Class, e.Message, shortID(e.Template), e.Step, e.unwrapSuffix())
	case e.Template != "":
		return fmt.Sprintf("[%s] %s (template=%s)%s",
			e.Class, e.Message, shortID(e.Template), e.unwrapSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func (e *Error) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewStateError creates a new lifecycle state error.
func NewStateError(message string, err error) *Error {
	return &Error{Class: ErrorClassState, Message: message, Err: err}
}

// NewLookupError creates a new unknown-identifier error.
func NewLookupError(message string, err error) *Error {
	return &Error{Class: ErrorClassLookup, Message: message, Err: err}
}

// NewStepError creates a new step execution error.
func NewStepError(message string, err error) *Error {
	return &Error{Class: ErrorClassStep, Message: message, Err: err}
}

// WithTemplate adds template context to an error.
func (e *Error) WithTemplate(id string) *Error {
	e.Template = id
	return e
}

// WithStep adds step context to an error.
func (e *Error) WithStep(order int) *Error {
	e.Step = order
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	return hasClass(err, ErrorClassValidation)
}

// IsState returns true if the error is classified as a state error.
func IsState(err error) bool {
	return hasClass(err, ErrorClassState)
}

// IsLookup returns true if the error is classified as a lookup error.
func IsLookup(err error) bool {
	return hasClass(err, ErrorClassLookup)
}

// IsStep returns true if the error is classified as a step failure.
func IsStep(err error) bool {
	return hasClass(err, ErrorClassStep)
}

func hasClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// Common error codes.
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotActive     = "NOT_ACTIVE"
	ErrCodeNoUnits       = "NO_UNITS"
	ErrCodeArchived      = "ARCHIVED"
	ErrCodeBadTransition = "BAD_TRANSITION"
	ErrCodeMalformed     = "MALFORMED"
	ErrCodePrecondition  = "PRECONDITION_FAILED"
	ErrCodeTimeout       = "TIMEOUT"
)

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
