package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeDisabled          = "DISABLED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeStore             = "STORE_ERROR"
)

// Error is the structured error type for all automation-engine operations.
type Error struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ActionIndex int            `json:"action_index,omitempty"`
	Cause       error          `json:"-"`

	// hasAction distinguishes "attributed to action 0" from "no action
	// attribution"; only WithAction sets it.
	hasAction bool
}

func (e *Error) Error() string {
	if e.hasAction {
		return fmt.Sprintf("[%s] action %d: %s", e.Code, e.ActionIndex, e.Message)
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

// WithAction attaches the index of the failing action.
func (e *Error) WithAction(index int) *Error {
	e.ActionIndex = index
	e.hasAction = true
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

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code string) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
