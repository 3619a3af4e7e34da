package model

import (
	"errors"
	"fmt"
)

// Error codes of metadata errors.
const (
	ErrCodeUnknownField      = "UNKNOWN_FIELD"
	ErrCodeUnknownModel      = "UNKNOWN_MODEL"
	ErrCodeTypeMismatch      = "TYPE_MISMATCH"
	ErrCodeInvalidDefinition = "INVALID_DEFINITION"
)

// UnknownFieldError reports a field that no model in the delegation chain declares.
type UnknownFieldError struct {
	Code  string
	Model string
	Field string
}

// Error implements the error interface.
func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: field %q does not exist on model %q", e.Code, e.Field, e.Model)
}

// NewUnknownFieldError creates an UnknownFieldError.
func NewUnknownFieldError(model, field string) *UnknownFieldError {
	return &UnknownFieldError{Code: ErrCodeUnknownField, Model: model, Field: field}
}

// UnknownModelError reports a model name missing from the registry.
type UnknownModelError struct {
	Code  string
	Model string
}

// Error implements the error interface.
func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("%s: model %q is not registered", e.Code, e.Model)
}

// TypeMismatchError reports a value that cannot be stored in a column.
type TypeMismatchError struct {
	Code     string
	Model    string
	Field    string
	Expected Kind
	Value    any
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: %s.%s expects %s, got %T (%v)", e.Code, e.Model, e.Field, e.Expected, e.Value, e.Value)
}

// DefinitionError reports an invalid model declaration.
type DefinitionError struct {
	Code    string
	Model   string
	Field   string
	Message string
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Code, e.Model, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Model, e.Message)
}

func definitionError(model, field, format string, args ...any) *DefinitionError {
	return &DefinitionError{
		Code:    ErrCodeInvalidDefinition,
		Model:   model,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsUnknownField returns true if err is or wraps an UnknownFieldError.
func IsUnknownField(err error) bool {
	var ue *UnknownFieldError
	return errors.As(err, &ue)
}

// IsUnknownModel returns true if err is or wraps an UnknownModelError.
func IsUnknownModel(err error) bool {
	var ue *UnknownModelError
	return errors.As(err, &ue)
}

// IsTypeMismatch returns true if err is or wraps a TypeMismatchError.
func IsTypeMismatch(err error) bool {
	var te *TypeMismatchError
	return errors.As(err, &te)
}

// IsDefinitionError returns true if err is or wraps a DefinitionError.
func IsDefinitionError(err error) bool {
	var de *DefinitionError
	return errors.As(err, &de)
}
