package browse

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes of the browse layer.
const (
	ErrCodeMissingRecord = "MISSING_RECORD"
	ErrCodeVirtualCycle  = "VIRTUAL_CYCLE"
)

// MissingRecordError reports ids that have no row.
type MissingRecordError struct {
	Code  string
	Model string
	IDs   []int64
}

// Error implements the error interface.
func (e *MissingRecordError) Error() string {
	return fmt.Sprintf("%s: %s records %v do not exist", e.Code, e.Model, e.IDs)
}

// NewMissingRecordError creates a MissingRecordError.
func NewMissingRecordError(model string, ids ...int64) *MissingRecordError {
	return &MissingRecordError{Code: ErrCodeMissingRecord, Model: model, IDs: ids}
}

// VirtualCycleError reports a virtual-field redirection visiting a model twice.
type VirtualCycleError struct {
	Code  string
	Field string
	Path  []string
}

// Error implements the error interface.
func (e *VirtualCycleError) Error() string {
	return fmt.Sprintf("%s: reading %q redirects in a cycle: %s", e.Code, e.Field, strings.Join(e.Path, " -> "))
}

// IsMissingRecord reports whether err is a MissingRecordError.
func IsMissingRecord(err error) bool {
	var e *MissingRecordError
	return errors.As(err, &e)
}

// IsVirtualCycle reports whether err is a VirtualCycleError.
func IsVirtualCycle(err error) bool {
	var e *VirtualCycleError
	return errors.As(err, &e)
}
