// Package verrs defines the closed machine error-code taxonomy every verb
// handler surfaces (spec §7) and the helpers for wrapping/constructing it.
package verrs

import "fmt"

// Code is the closed set of machine error codes the core emits.
type Code string

const (
	ValidationError  Code = "validation_error"
	NotFound         Code = "not_found"
	LockConflict     Code = "lock_conflict"
	PermissionDenied Code = "permission_denied"
	InternalError    Code = "internal_error"
)

// Error is the structured error attached to ActionResult.data.error and
// surfaced on the verb envelope's error field.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an *Error. Always returns error (not nil) so callers can
// `return verrs.New(...)` directly from a function returning error.
func New(code Code, message string, details map[string]any) error {
	return &Error{Code: code, Message: message, Details: details}
}

// Wrap produces an internal_error (or the given code) carrying cause's
// message as additional detail, without leaking the Go error type across
// the verb boundary.
func Wrap(code Code, message string, cause error) error {
	details := map[string]any{}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return &Error{Code: code, Message: message, Details: details}
}

// As extracts an *Error from err, returning (nil, false) if err is not one
// (or is nil).
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	e, ok := err.(*Error)
	return e, ok
}
