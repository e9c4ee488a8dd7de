package errors

import (
	"errors"
	"fmt"
)

// Generic failures. Callers wrap these with context and match them with Is.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternal      = errors.New("internal error")
	ErrTimeout       = errors.New("operation timeout")
	// ErrUnavailable marks an optional dependency that is not configured or
	// not reachable.
	ErrUnavailable    = errors.New("service unavailable")
	ErrNotImplemented = errors.New("not implemented")
	// ErrExternal wraps failures reported by LLM providers and other APIs.
	ErrExternal          = errors.New("external service error")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Document errors

var (
	// ErrDocumentUnreadable indicates a PDF could not be opened or parsed
	ErrDocumentUnreadable = errors.New("document unreadable")

	// ErrDocumentEmpty indicates a PDF contained no extractable text
	ErrDocumentEmpty = errors.New("document has no text")

	// ErrUnsupportedFormat indicates an upload that is not a PDF
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Crew errors

var (
	// ErrMaxIterations indicates an agent reached its max_iter budget
	ErrMaxIterations = errors.New("agent reached maximum iterations")

	// ErrUnknownAgent indicates a task references an agent that is not configured
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrUnknownTool indicates an agent or task references a tool that is not registered
	ErrUnknownTool = errors.New("unknown tool")

	// ErrMissingInput indicates a template placeholder had no input value
	ErrMissingInput = errors.New("missing template input")

	// ErrEmptyOutput indicates an agent finished without producing text
	ErrEmptyOutput = errors.New("agent produced no output")
)

// AI cost-related errors

var (
	// ErrQuotaExceeded indicates cost quota limit exceeded
	ErrQuotaExceeded = errors.New("cost quota exceeded")

	// ErrExecutionLimitExceeded indicates single run cost limit exceeded
	ErrExecutionLimitExceeded = errors.New("execution cost limit exceeded")
)

// TaskError attributes a crew failure to the task that was running.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError returns nil when err is nil.
func NewTaskError(task string, err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Task: task, Err: err}
}

// FailedTask returns the task err is attributed to, if any.
func FailedTask(err error) (string, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Task, true
	}
	return "", false
}

// ValidationError names the request field that was rejected. It matches
// ErrInvalidInput.
type ValidationError struct {
	Field   string
	Message string
	Value   any
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// MultiError collects independent failures, such as closing several
// connections at shutdown.
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Unwrap exposes every collected error to Is and As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the list
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// ToError returns the MultiError as an error, or nil if no errors
func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
