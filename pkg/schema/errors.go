package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeAssertionFailed   = "ASSERTION_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeActionUnavailable = "ACTION_UNAVAILABLE"
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeLoad              = "LOAD_ERROR"
)

// Error is the structured error type for all assertflow operations that are not
// part of a run outcome (bad input, validation, store and loader failures).
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// StepError is returned by a step executor when a step's action fails.
// The cause is opaque: the engine surfaces it but never interprets it.
type StepError struct {
	StepID string
	Cause  error
}

// NewStepError wraps cause as the failure of stepID.
func NewStepError(stepID string, cause error) *StepError {
	return &StepError{StepID: stepID, Cause: cause}
}

func (e *StepError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("step %s failed", e.StepID)
	}
	return fmt.Sprintf("step %s failed: %s", e.StepID, e.Cause.Error())
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// EvalErrorKind enumerates the ways evaluating a condition can fail.
type EvalErrorKind string

const (
	EvalParseError      EvalErrorKind = "parse_error"
	EvalUnboundVariable EvalErrorKind = "unbound_variable"
	EvalTypeMismatch    EvalErrorKind = "type_mismatch"
)

// EvalError describes why a condition could not be evaluated to a boolean.
//   - parse_error:      Position is the byte offset of the offending token.
//   - unbound_variable: Name is the missing variable.
//   - type_mismatch:    Message explains the operand types involved.
type EvalError struct {
	Kind     EvalErrorKind `json:"kind"`
	Name     string        `json:"name,omitempty"`
	Position int           `json:"position,omitempty"`
	Message  string        `json:"message"`
}

func (e *EvalError) Error() string {
	switch e.Kind {
	case EvalParseError:
		return fmt.Sprintf("parse error at position %d: %s", e.Position, e.Message)
	case EvalUnboundVariable:
		return fmt.Sprintf("unbound variable %q", e.Name)
	case EvalTypeMismatch:
		return "type mismatch: " + e.Message
	default:
		return e.Message
	}
}

// ParseError builds a parse_error EvalError.
func ParseError(pos int, format string, args ...any) *EvalError {
	return &EvalError{Kind: EvalParseError, Position: pos, Message: fmt.Sprintf(format, args...)}
}

// UnboundVariable builds an unbound_variable EvalError.
func UnboundVariable(name string) *EvalError {
	return &EvalError{Kind: EvalUnboundVariable, Name: name, Message: fmt.Sprintf("variable %q is not bound", name)}
}

// TypeMismatch builds a type_mismatch EvalError.
func TypeMismatch(format string, args ...any) *EvalError {
	return &EvalError{Kind: EvalTypeMismatch, Message: fmt.Sprintf(format, args...)}
}
