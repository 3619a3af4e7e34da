package security

import (
	"errors"
	"fmt"
)

// ErrCodeAccess is the code of every AccessError.
const ErrCodeAccess = "ACCESS"

// AccessError reports a denied operation.
type AccessError struct {
	Code      string
	Principal string
	Model     string
	Operation Operation
	Message   string
}

// Error implements the error interface.
func (e *AccessError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %q may not %s %s", e.Code, e.Principal, e.Operation, e.Model)
}

// NewAccessError creates an AccessError.
func NewAccessError(principal, model string, op Operation) *AccessError {
	return &AccessError{
		Code:      ErrCodeAccess,
		Principal: principal,
		Model:     model,
		Operation: op,
	}
}

// IsAccessError returns true if err is or wraps an AccessError.
func IsAccessError(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}
