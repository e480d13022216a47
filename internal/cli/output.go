package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/bsky-store/internal/bskyerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed after catalog/store opened (derivation failed, sync error)
	ExitCommandError = 2 // Bad invocation (invalid name, catalog/store not found or unreachable)
)

// ExitError pairs a process exit code with the bskyerr taxonomy code of its
// cause, so a JSON-formatted failure carries the same classification a
// human reading stderr gets from the exit code alone.
type ExitError struct {
	Code    int    // process exit code: ExitFailure or ExitCommandError
	Message string // human-readable summary
	Err     error  // underlying error, classified via bskyerr.Classify
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

// TaxonomyCode returns the bskyerr classification of the wrapped cause, or
// "INTERNAL" if there is none.
func (e *ExitError) TaxonomyCode() string {
	if e.Err == nil {
		return "INTERNAL"
	}
	return bskyerr.Classify(e.Err)
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code. A store or
// catalog lookup that fails with bskyerr.StoreNotFound maps to
// ExitCommandError regardless of the code the caller passed in, since a
// missing store is a bad invocation, not an operation failure.
func WrapExitError(code int, message string, err error) *ExitError {
	if bskyerr.IsStoreNotFound(err) || bskyerr.IsStoreAlreadyExists(err) {
		code = ExitCommandError
	}
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

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses. Code is a bskyerr
// taxonomy name (see bskyerr.Classify), not an opaque ticket number, so a
// scripted caller can branch on error kind without parsing Message.
type CLIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
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

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail classifies err via bskyerr.Classify and reports it through Error,
// so any command's RunE failure (an *ExitError or a bare bskyerr kind) is
// reported with its bskyerr taxonomy code. The process exit status comes
// separately from GetExitCode.
func (f *OutputFormatter) Fail(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return f.Error(exitErr.TaxonomyCode(), exitErr.Error(), nil)
	}
	return f.Error(bskyerr.Classify(err), err.Error(), nil)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
