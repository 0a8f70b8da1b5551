// Package errors provides the structured error taxonomy shared by the build
// pipeline: configuration, transform, plugin and I/O failures.
package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeTransform ErrorType = "transform"
	ErrorTypePlugin    ErrorType = "plugin"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeInternal  ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeConfigMissing   = "ERR_CONFIG_MISSING"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeTransformFailed = "ERR_TRANSFORM_FAILED"
	ErrCodePluginFailed    = "ERR_PLUGIN_FAILED"
	ErrCodeReadFailed      = "ERR_READ_FAILED"
	ErrCodeWriteFailed     = "ERR_WRITE_FAILED"
	ErrCodeMkdirFailed     = "ERR_MKDIR_FAILED"
	ErrCodeRemoveFailed    = "ERR_REMOVE_FAILED"
	ErrCodeInvalidPackage  = "ERR_INVALID_PACKAGE"
	ErrCodeInternalError   = "ERR_INTERNAL"
)

// PipelineError is a structured error type with context.
type PipelineError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Plugin      string
	FilePath    string
	Step        int
	Recoverable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Plugin != "" {
		parts = append(parts, "plugin:"+e.Plugin)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithFile adds the offending file path.
func (e *PipelineError) WithFile(filePath string) *PipelineError {
	e.FilePath = filePath

	return e
}

// NewConfigError creates a configuration error. Configuration errors are
// never recoverable: nothing is processed until the config loads cleanly.
func NewConfigError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewTransformError creates an error for a failed transform step.
func NewTransformError(filePath string, step int, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeTransform,
		Code:        ErrCodeTransformFailed,
		Message:     fmt.Sprintf("transform step %d failed", step),
		Cause:       cause,
		FilePath:    filePath,
		Step:        step,
		Recoverable: true,
	}
}

// NewPluginError creates an error for a failed plugin hook.
func NewPluginError(plugin, filePath string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypePlugin,
		Code:        ErrCodePluginFailed,
		Message:     "plugin failed",
		Cause:       cause,
		Plugin:      plugin,
		FilePath:    filePath,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

func isType(err error, t ErrorType) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type == t
	}

	return false
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool { return isType(err, ErrorTypeConfig) }

// IsTransformError checks if an error came from a transform step.
func IsTransformError(err error) bool { return isType(err, ErrorTypeTransform) }

// IsPluginError checks if an error came from a plugin hook.
func IsPluginError(err error) bool { return isType(err, ErrorTypePlugin) }

// IsIOError checks if an error is an I/O error.
func IsIOError(err error) bool { return isType(err, ErrorTypeIO) }

// IgnoreNotExist turns "already removed" into success.
func IgnoreNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
