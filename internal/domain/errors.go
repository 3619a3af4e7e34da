package domain

import (
	"errors"
	"fmt"
)

// ErrCodeDomainSyntax identifies malformed domains.
const ErrCodeDomainSyntax = "DOMAIN_SYNTAX"

// SyntaxError reports a malformed domain. It is fatal to the call and never
// retried.
type SyntaxError struct {
	Code    string
	Message string
	// Index is the offending term position, or -1 for whole-domain errors.
	Index int
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s: %s (term %d)", e.Code, e.Message, e.Index)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSyntaxError creates a SyntaxError at term index (-1 for none).
func NewSyntaxError(index int, format string, args ...any) *SyntaxError {
	return &SyntaxError{
		Code:    ErrCodeDomainSyntax,
		Message: fmt.Sprintf(format, args...),
		Index:   index,
	}
}

// IsSyntaxError returns true if err is or wraps a SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}
