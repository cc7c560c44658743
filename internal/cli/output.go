package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/prepchain/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation refused or check failed (invalid action, scenario failure, ...)
	ExitCommandError = 2 // Command error (bad flags, unreadable config, store unavailable)
	ExitConflict     = 3 // Another writer got there first (edit lock or stale head); retrying may succeed
	ExitNotFound     = 4 // Unknown preparation, step or dataset
)

// ErrCodeGeneric labels failures outside the ir error taxonomy.
const ErrCodeGeneric = "ERROR"

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
	// Reported is set once the error has been written to the user, so the
	// entry point does not print it twice.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCodeFor maps an operation error to an exit code.
func exitCodeFor(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch ir.CodeOf(err) {
	case ir.CodeConcurrentEditConflict, ir.CodeStaleHead:
		return ExitConflict
	case ir.CodePreparationNotFound, ir.CodeStepNotFound, ir.CodeDatasetUnavailable:
		return ExitNotFound
	case "":
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for diagnostics and text-mode errors (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // ir error code, or ERROR
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format. In text
// mode data is printed with fmt, so result types implement String.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	if data == nil {
		return nil
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	w := f.GetErrWriter()
	fmt.Fprintf(w, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(w, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it as a reported ExitError carrying the
// matching exit code.
func (f *OutputFormatter) Fail(err error) error {
	code := string(ir.CodeOf(err))
	var details any
	var irErr *ir.Error
	if errors.As(err, &irErr) {
		if d := errorDetails(irErr); d != nil {
			details = d
		}
	}
	if code == "" {
		code = ErrCodeGeneric
	}
	if werr := f.Error(code, err.Error(), details); werr != nil {
		return werr
	}
	return &ExitError{Code: exitCodeFor(err), Message: "command failed", Err: err, Reported: true}
}

func errorDetails(e *ir.Error) map[string]string {
	d := map[string]string{}
	if e.PreparationID != "" {
		d["preparation_id"] = e.PreparationID
	}
	if e.StepID != "" {
		d["step_id"] = e.StepID
	}
	if e.DatasetID != "" {
		d["dataset_id"] = e.DatasetID
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
