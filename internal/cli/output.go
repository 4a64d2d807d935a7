package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/pushreg/internal/config"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/pusherr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (registration rejected, scenarios failed)
	ExitCommandError = 2 // Command error (bad arguments, config, missing device identity)
)

// Error codes reported in CLIError.Code.
const (
	CodeConfig       = "E_CONFIG"
	CodeStore        = "E_STORE"
	CodeNoIdentity   = "E_NO_IDENTITY"
	CodePrecondition = "E_PRECONDITION"
	CodeCallback     = "E_CALLBACK"
	CodeFailed       = "E_FAILED"
	CodeTestFailed   = "E_TEST_FAILED"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the error was already written through an
	// OutputFormatter.
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
	if err == nil {
		return ExitSuccess
	}
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
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // E_CONFIG, E_NO_IDENTITY, ...
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// In text mode data is printed with fmt, so result types implement
// fmt.Stringer.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
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

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err through the formatter and returns the matching
// ExitError. Precondition and configuration problems exit with
// ExitCommandError; everything else with ExitFailure.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)

	var details any
	var pe *pusherr.Error
	if errors.As(err, &pe) && pe.Kind != pusherr.KindPrecondition {
		details = reasonView(pe)
	}

	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)
	ee := WrapExitError(exit, message, err)
	ee.Reported = true
	return ee
}

func classify(err error) (string, int) {
	switch {
	case errors.Is(err, device.ErrNoIdentity):
		return CodeNoIdentity, ExitCommandError
	case pusherr.IsPrecondition(err):
		return CodePrecondition, ExitCommandError
	case errors.Is(err, config.ErrNotFound), config.IsValidationError(err):
		return CodeConfig, ExitCommandError
	}
	return CodeFailed, ExitFailure
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
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

// ReasonView is the JSON form of a callback failure reason.
type ReasonView struct {
	Kind       string `json:"kind"`
	Code       int    `json:"code,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
}

func reasonView(e *pusherr.Error) *ReasonView {
	if e == nil {
		return nil
	}
	return &ReasonView{
		Kind:       string(e.Kind),
		Code:       e.Code,
		StatusCode: e.StatusCode,
		Message:    e.Message,
	}
}
