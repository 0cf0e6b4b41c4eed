package errors

import (
	"fmt"
	"strings"
)

// MissingInputError indicates that a staged artifact lacks a file the
// downstream tool requires (payload, manifest, index or database companion).
type MissingInputError struct {
	Artifact string
	Path     string
	Message  string
}

// NewMissingInputError constructs a MissingInputError.
func NewMissingInputError(artifact, path, message string) error {
	return &MissingInputError{Artifact: artifact, Path: path, Message: message}
}

func (e *MissingInputError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path != "" {
		return fmt.Sprintf("missing input in %s: %s: %s", e.Artifact, e.Path, e.Message)
	}
	return fmt.Sprintf("missing input in %s: %s", e.Artifact, e.Message)
}

// ToolNotFoundError indicates the external binary could not be located on PATH.
type ToolNotFoundError struct {
	Tool string
	Err  error
}

// NewToolNotFoundError constructs a ToolNotFoundError.
func NewToolNotFoundError(tool string, err error) error {
	return &ToolNotFoundError{Tool: tool, Err: err}
}

func (e *ToolNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("tool not found: %s: %v", e.Tool, e.Err)
}

// Unwrap exposes the underlying lookup error.
func (e *ToolNotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ToolExecutionError represents a non-zero exit from an external tool. The
// captured diagnostic output travels with the error so it can be surfaced to
// the user; collection never runs after one of these.
type ToolExecutionError struct {
	Tool     string
	ExitCode int
	Output   string
	Err      error
}

// NewToolExecutionError constructs a ToolExecutionError.
func NewToolExecutionError(tool string, exitCode int, output string, err error) error {
	return &ToolExecutionError{Tool: tool, ExitCode: exitCode, Output: strings.TrimSpace(output), Err: err}
}

func (e *ToolExecutionError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s failed (exit code %d)", e.Tool, e.ExitCode)
	if e.Output != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Output)
	}
	return msg
}

// Unwrap exposes the root exec error.
func (e *ToolExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MalformedOutputError indicates a tool produced output that does not match
// the schema the collector expects.
type MalformedOutputError struct {
	Path    string
	Message string
	Err     error
}

// NewMalformedOutputError constructs a MalformedOutputError.
func NewMalformedOutputError(path, message string, err error) error {
	return &MalformedOutputError{Path: path, Message: message, Err: err}
}

func (e *MalformedOutputError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path != "" {
		return fmt.Sprintf("malformed output: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("malformed output: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *MalformedOutputError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ParseError represents a YAML parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures parameter or configuration validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ActionError indicates issues within action registration or dispatch.
type ActionError struct {
	Action  string
	Message string
	Err     error
}

// NewActionError constructs an ActionError for the given action name.
func NewActionError(action string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ActionError{Action: action, Message: message, Err: err}
}

func (e *ActionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Action != "" {
		return fmt.Sprintf("action error [%s]: %s", e.Action, e.Message)
	}
	return fmt.Sprintf("action error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ActionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
