package pipeline

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a pipeline failure
type ErrorType string

const (
	ErrorTypeAuthenticationFailed ErrorType = "authentication_failed"
	ErrorTypeQuotaExceeded        ErrorType = "quota_exceeded"
	ErrorTypeContentViolation     ErrorType = "content_violation"
	ErrorTypeProcessingFailed     ErrorType = "processing_failed"
)

// Error is a categorized pipeline failure
type Error struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError creates a categorized error
func NewError(errType ErrorType, message string, err error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// NewAuthenticationError creates an authentication failure
func NewAuthenticationError(message string, err error) *Error {
	return NewError(ErrorTypeAuthenticationFailed, message, err)
}

// NewQuotaExceededError creates a quota failure
func NewQuotaExceededError(message string, err error) *Error {
	return NewError(ErrorTypeQuotaExceeded, message, err)
}

// NewContentViolationError creates a content policy failure
func NewContentViolationError(message string, err error) *Error {
	return NewError(ErrorTypeContentViolation, message, err)
}

// NewProcessingError creates a processing failure
func NewProcessingError(message string, err error) *Error {
	return NewError(ErrorTypeProcessingFailed, message, err)
}

// Sentinels for errors.Is comparisons
var (
	ErrAuthenticationFailed = NewAuthenticationError("authentication failed", nil)
	ErrQuotaExceeded        = NewQuotaExceededError("quota exceeded", nil)
	ErrContentViolation     = NewContentViolationError("content violation", nil)
	ErrProcessingFailed     = NewProcessingError("processing failed", nil)
)

// PluginError attributes a failure to the plugin that raised it
type PluginError struct {
	PluginID string
	Phase    Phase
	Err      error
}

// Error implements the error interface
func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %q (%s): %v", e.PluginID, e.Phase, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *PluginError) Unwrap() error {
	return e.Err
}

func wrapPluginError(pluginID string, phase Phase, err error) error {
	var pe *PluginError
	if errors.As(err, &pe) && pe.PluginID == pluginID {
		return err
	}
	return &PluginError{PluginID: pluginID, Phase: phase, Err: err}
}

// FailingPlugin returns the id of the plugin that caused err
func FailingPlugin(err error) (string, bool) {
	var pe *PluginError
	if errors.As(err, &pe) {
		return pe.PluginID, true
	}
	return "", false
}

// GetErrorType returns the category of err, or empty string when uncategorized
func GetErrorType(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsAuthenticationFailed checks if err is an authentication failure
func IsAuthenticationFailed(err error) bool {
	return GetErrorType(err) == ErrorTypeAuthenticationFailed
}

// IsQuotaExceeded checks if err is a quota failure
func IsQuotaExceeded(err error) bool {
	return GetErrorType(err) == ErrorTypeQuotaExceeded
}

// IsContentViolation checks if err is a content policy failure
func IsContentViolation(err error) bool {
	return GetErrorType(err) == ErrorTypeContentViolation
}

// IsProcessingFailed checks if err is a processing failure
func IsProcessingFailed(err error) bool {
	return GetErrorType(err) == ErrorTypeProcessingFailed
}
