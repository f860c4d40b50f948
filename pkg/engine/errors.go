package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an engine error.
type ErrorClass string

const (
	// ErrorClassCompile indicates malformed source that could not be compiled.
	ErrorClassCompile ErrorClass = "compile"

	// ErrorClassNotFound indicates a specifier no resolution rule could satisfy.
	ErrorClassNotFound ErrorClass = "module_not_found"

	// ErrorClassExecution indicates a module body threw while running, or was
	// interrupted by its caller.
	ErrorClassExecution ErrorClass = "module_execution"

	// ErrorClassConfiguration indicates no project configuration was reachable.
	ErrorClassConfiguration ErrorClass = "configuration_not_found"
)

// Position is an approximate location in a source file.
type Position struct {
	// Line is 1-indexed.
	Line int `json:"line"`

	// Column is 0-indexed, in bytes.
	Column int `json:"column"`

	// LineText is the text of the offending line, when known.
	LineText string `json:"line_text,omitempty"`
}

// Error is a classified engine error.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Path is the file the error concerns: the file being compiled or executed,
	// or the start path of a configuration search.
	Path NormalizedPath `json:"path,omitempty"`

	// Specifier is the unresolved specifier, for not-found errors.
	Specifier string `json:"specifier,omitempty"`

	// Importer is the file that requested Specifier.
	Importer NormalizedPath `json:"importer,omitempty"`

	// Position locates compile errors.
	Position *Position `json:"position,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Class {
	case ErrorClassCompile:
		if e.Position != nil {
			return fmt.Sprintf("[%s] %s:%d:%d: %s", e.Class, e.Path, e.Position.Line, e.Position.Column, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Path, e.Message)
	case ErrorClassNotFound:
		return fmt.Sprintf("[%s] cannot find module %q imported from %s", e.Class, e.Specifier, e.Importer)
	case ErrorClassExecution:
		if e.Path == "" {
			return fmt.Sprintf("[%s] %s", e.Class, e.unwrapMessage())
		}
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Path, e.unwrapMessage())
	default:
		return fmt.Sprintf("[%s] %s (path=%s)", e.Class, e.Message, e.Path)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Is matches errors of the same class. A target with a Path only matches
// errors for that path.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Path != "" && t.Path != e.Path {
		return false
	}
	return e.Class == t.Class
}

// NewCompileError creates a compile error for path.
func NewCompileError(path NormalizedPath, message string, pos *Position) *Error {
	return &Error{
		Class:    ErrorClassCompile,
		Message:  message,
		Path:     path,
		Position: pos,
	}
}

// NewModuleNotFoundError creates a resolution failure for specifier.
func NewModuleNotFoundError(specifier string, importer NormalizedPath) *Error {
	return &Error{
		Class:     ErrorClassNotFound,
		Message:   "module not found",
		Specifier: specifier,
		Importer:  importer,
	}
}

// NewModuleExecutionError wraps a failure raised while running path.
func NewModuleExecutionError(path NormalizedPath, err error) *Error {
	return &Error{
		Class:   ErrorClassExecution,
		Message: "module execution failed",
		Path:    path,
		Err:     err,
	}
}

// NewConfigurationNotFoundError reports that no configuration file was found
// walking up from start.
func NewConfigurationNotFoundError(start NormalizedPath) *Error {
	return &Error{
		Class:   ErrorClassConfiguration,
		Message: "no project configuration found",
		Path:    start,
	}
}

// ErrConfigurationNotFound matches any configuration-not-found error with errors.Is.
var ErrConfigurationNotFound = &Error{Class: ErrorClassConfiguration}

// hasClass walks the whole chain, so a compile error raised by a nested
// require is still reported as such once wrapped by its importer.
func hasClass(err error, class ErrorClass) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Class == class {
			return true
		}
		err = e.Err
	}
	return false
}

// IsCompile returns true if the error chain contains a compile error.
func IsCompile(err error) bool {
	return hasClass(err, ErrorClassCompile)
}

// IsNotFound returns true if the error chain contains a module-not-found error.
func IsNotFound(err error) bool {
	return hasClass(err, ErrorClassNotFound)
}

// IsExecution returns true if the error chain contains a module execution error.
func IsExecution(err error) bool {
	return hasClass(err, ErrorClassExecution)
}

// IsConfigurationNotFound returns true if no project configuration was found.
func IsConfigurationNotFound(err error) bool {
	return hasClass(err, ErrorClassConfiguration)
}

// Innermost returns the deepest classified error in the chain. For a failure
// that crossed several module boundaries it names the module that actually
// failed.
func Innermost(err error) (*Error, bool) {
	var found *Error
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		found = e
		err = e.Err
	}
	return found, found != nil
}

// AsError returns the outermost classified error in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
