package orm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/recordkit/internal/browse"
	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/security"
)

// Error codes of the CRUD pipeline.
const (
	ErrCodeValidation  = "VALIDATION"
	ErrCodeConcurrency = "CONCURRENCY"
	ErrCodeRecursion   = "RECURSION"
)

// Failure is one failed business rule.
type Failure struct {
	Field   string
	Message string
}

// ValidationError reports every failed rule of one operation.
type ValidationError struct {
	Code     string
	Model    string
	Failures []Failure
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		if f.Field == "" {
			parts[i] = f.Message
			continue
		}
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Model, strings.Join(parts, "; "))
}

func newValidationError(model string, failures ...Failure) *ValidationError {
	return &ValidationError{Code: ErrCodeValidation, Model: model, Failures: failures}
}

// ConcurrencyError reports records modified since the caller read them.
type ConcurrencyError struct {
	Code  string
	Model string
	IDs   []int64
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: %s records %v were modified since they were read", e.Code, e.Model, e.IDs)
}

// RecursionError reports a hierarchy write that would create a cycle.
type RecursionError struct {
	Code  string
	Model string
	IDs   []int64
}

// Error implements the error interface.
func (e *RecursionError) Error() string {
	return fmt.Sprintf("%s: %s records %v would be their own ancestors", e.Code, e.Model, e.IDs)
}

func newRecursionError(model string, ids ...int64) *RecursionError {
	return &RecursionError{Code: ErrCodeRecursion, Model: model, IDs: ids}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsConcurrencyError reports whether err is a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var e *ConcurrencyError
	return errors.As(err, &e)
}

// IsRecursionError reports whether err is a RecursionError.
func IsRecursionError(err error) bool {
	var e *RecursionError
	return errors.As(err, &e)
}

// IsMissingRecord reports whether err reports ids without a row.
func IsMissingRecord(err error) bool {
	return browse.IsMissingRecord(err)
}

// ErrorCode returns the code of the first typed error in the chain of err,
// or "" for untyped errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var (
		validation  *ValidationError
		concurrency *ConcurrencyError
		recursion   *RecursionError
		access      *security.AccessError
		missing     *browse.MissingRecordError
		cycle       *browse.VirtualCycleError
		syntax      *domain.SyntaxError
		unknown     *model.UnknownFieldError
		unknownM    *model.UnknownModelError
		mismatch    *model.TypeMismatchError
		definition  *model.DefinitionError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Code
	case errors.As(err, &concurrency):
		return concurrency.Code
	case errors.As(err, &recursion):
		return recursion.Code
	case errors.As(err, &access):
		return access.Code
	case errors.As(err, &missing):
		return missing.Code
	case errors.As(err, &cycle):
		return cycle.Code
	case errors.As(err, &syntax):
		return syntax.Code
	case errors.As(err, &unknown):
		return unknown.Code
	case errors.As(err, &unknownM):
		return unknownM.Code
	case errors.As(err, &mismatch):
		return mismatch.Code
	case errors.As(err, &definition):
		return definition.Code
	}
	return ""
}
