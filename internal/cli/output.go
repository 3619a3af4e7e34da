package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/recordkit/internal/orm"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and failed: ORM error, invalid definitions, failed scenario
	ExitCommandError = 2 // the command could not run: missing file, bad argument, bad config
)

// ExitError is returned by commands to select the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, ExitFailure for any
// other non-nil error and ExitSuccess for nil.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the envelope of every --format json output.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed command. Code is either a CLI code
// (E001...) or the code of a core error (VALIDATION, ACCESS...).
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// textWriter is implemented by results that have a human-readable form.
type textWriter interface {
	writeText(w io.Writer) error
}

// Printer writes command results in the format selected by --format.
type Printer struct {
	Format  string
	Out     io.Writer
	Diag    io.Writer // verbose diagnostics; Out when nil
	Verbose bool
}

func newPrinter(opts *RootOptions, out, diag io.Writer) *Printer {
	return &Printer{Format: opts.Format, Out: out, Diag: diag, Verbose: opts.Verbose}
}

func (p *Printer) isJSON() bool { return p.Format == "json" }

// Success prints data. Text output uses the result's own rendering when
// it implements textWriter and fmt.Println otherwise.
func (p *Printer) Success(data any) error {
	if p.isJSON() {
		return p.respond(Response{Status: "ok", Data: data})
	}
	if tw, ok := data.(textWriter); ok {
		return tw.writeText(p.Out)
	}
	_, err := fmt.Fprintln(p.Out, data)
	return err
}

// Error prints a failure. Details are only shown in text mode with
// --verbose.
func (p *Printer) Error(code, message string, details any) error {
	if p.isJSON() {
		return p.respond(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message, Details: details},
		})
	}
	if _, err := fmt.Fprintf(p.Out, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if p.Verbose && details != nil {
		_, err := fmt.Fprintf(p.Out, "Details: %v\n", details)
		return err
	}
	return nil
}

func (p *Printer) respond(r Response) error {
	return json.NewEncoder(p.Out).Encode(r)
}

// Debugf prints a diagnostic line when --verbose is set. Diagnostics go
// to Diag so they never interleave with JSON on Out.
func (p *Printer) Debugf(format string, args ...any) {
	if !p.Verbose {
		return
	}
	w := p.Diag
	if w == nil {
		w = p.Out
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// errorCode returns the code reported for err: the CLI code of a
// LoadError, the code of a typed core error, or ErrCodeGeneric.
func errorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	if code := orm.ErrorCode(err); code != "" {
		return code
	}
	return ErrCodeGeneric
}

// fail reports err and returns the matching ExitError: command errors for
// loading problems, failures otherwise.
func fail(p *Printer, err error) error {
	code := errorCode(err)
	_ = p.Error(code, err.Error(), nil)
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return WrapExitError(ExitCommandError, code, err)
	}
	return WrapExitError(ExitFailure, code, err)
}
