package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel errors shared by the service, storage and HTTP layers.
var (
	ErrConversationNotFound = stderrors.New("conversation not found")
	ErrConversationBusy     = stderrors.New("conversation is busy")
)

// CoachError is implemented by every typed error in this package.
type CoachError interface {
	error
	Type() string
	Code() string
	Cause() error
}

// ProviderError represents a failure reported by an LLM provider.
type ProviderError struct {
	provider string
	status   int
	message  string
	cause    error
}

func (e *ProviderError) Error() string {
	if e.status > 0 {
		if e.cause != nil {
			return fmt.Sprintf("provider %s error (status %d): %s (caused by: %v)", e.provider, e.status, e.message, e.cause)
		}
		return fmt.Sprintf("provider %s error (status %d): %s", e.provider, e.status, e.message)
	}
	if e.cause != nil {
		return fmt.Sprintf("provider %s error: %s (caused by: %v)", e.provider, e.message, e.cause)
	}
	return fmt.Sprintf("provider %s error: %s", e.provider, e.message)
}

func (e *ProviderError) Type() string  { return "Provider" }
func (e *ProviderError) Code() string  { return fmt.Sprintf("PROVIDER_%d", e.status) }
func (e *ProviderError) Cause() error  { return e.cause }
func (e *ProviderError) Unwrap() error { return e.cause }

// Status returns the upstream HTTP status, or 0 when none was received.
func (e *ProviderError) Status() int { return e.status }

// Retryable reports whether the failure is transient (rate limit or server side).
// Transport failures are NetworkErrors and retried separately.
func (e *ProviderError) Retryable() bool {
	return e.status == 429 || e.status >= 500
}

// ConfigError represents configuration-related errors
type ConfigError struct {
	field   string
	message string
	cause   error
}

func (e *ConfigError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("config error in field %q: %s (caused by: %v)", e.field, e.message, e.cause)
	}
	return fmt.Sprintf("config error in field %q: %s", e.field, e.message)
}

func (e *ConfigError) Type() string  { return "Config" }
func (e *ConfigError) Code() string  { return "CONFIG_INVALID" }
func (e *ConfigError) Cause() error  { return e.cause }
func (e *ConfigError) Unwrap() error { return e.cause }

// ValidationError represents input validation errors
type ValidationError struct {
	field   string
	message string
	value   interface{}
	cause   error
}

func (e *ValidationError) Error() string {
	if e.value != nil {
		if e.cause != nil {
			return fmt.Sprintf("validation error for field %q with value %v: %s (caused by: %v)", e.field, e.value, e.message, e.cause)
		}
		return fmt.Sprintf("validation error for field %q with value %v: %s", e.field, e.value, e.message)
	}
	if e.cause != nil {
		return fmt.Sprintf("validation error for field %q: %s (caused by: %v)", e.field, e.message, e.cause)
	}
	return fmt.Sprintf("validation error for field %q: %s", e.field, e.message)
}

func (e *ValidationError) Type() string  { return "Validation" }
func (e *ValidationError) Code() string  { return "VALIDATION_FAILED" }
func (e *ValidationError) Cause() error  { return e.cause }
func (e *ValidationError) Unwrap() error { return e.cause }

// Field returns the name of the rejected field.
func (e *ValidationError) Field() string { return e.field }

// Message returns the validation message without the field prefix.
func (e *ValidationError) Message() string { return e.message }

// StorageError represents database/storage-related errors
type StorageError struct {
	operation string
	message   string
	cause     error
}

func (e *StorageError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("storage error during %s operation: %s (caused by: %v)", e.operation, e.message, e.cause)
	}
	return fmt.Sprintf("storage error during %s operation: %s", e.operation, e.message)
}

func (e *StorageError) Type() string  { return "Storage" }
func (e *StorageError) Code() string  { return fmt.Sprintf("STORAGE_%s", e.operation) }
func (e *StorageError) Cause() error  { return e.cause }
func (e *StorageError) Unwrap() error { return e.cause }

// NetworkError represents network connectivity errors
type NetworkError struct {
	url     string
	message string
	status  int
	cause   error
}

func (e *NetworkError) Error() string {
	if e.status > 0 {
		if e.cause != nil {
			return fmt.Sprintf("network error to %s (status %d): %s (caused by: %v)", e.url, e.status, e.message, e.cause)
		}
		return fmt.Sprintf("network error to %s (status %d): %s", e.url, e.status, e.message)
	}
	if e.cause != nil {
		return fmt.Sprintf("network error to %s: %s (caused by: %v)", e.url, e.message, e.cause)
	}
	return fmt.Sprintf("network error to %s: %s", e.url, e.message)
}

func (e *NetworkError) Type() string  { return "Network" }
func (e *NetworkError) Code() string  { return "NETWORK_ERROR" }
func (e *NetworkError) Cause() error  { return e.cause }
func (e *NetworkError) Unwrap() error { return e.cause }

// Status returns the HTTP status attached to the error, if any.
func (e *NetworkError) Status() int { return e.status }

// TimeoutError represents timeout-related errors
type TimeoutError struct {
	operation string
	duration  string
	cause     error
}

func (e *TimeoutError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("timeout error for %s operation (duration %s): %v", e.operation, e.duration, e.cause)
	}
	return fmt.Sprintf("timeout error for %s operation (duration %s)", e.operation, e.duration)
}

func (e *TimeoutError) Type() string  { return "Timeout" }
func (e *TimeoutError) Code() string  { return "TIMEOUT" }
func (e *TimeoutError) Cause() error  { return e.cause }
func (e *TimeoutError) Unwrap() error { return e.cause }

// CommandError represents command processing errors
type CommandError struct {
	command string
	message string
	cause   error
}

func (e *CommandError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("command error for %q: %s (caused by: %v)", e.command, e.message, e.cause)
	}
	return fmt.Sprintf("command error for %q: %s", e.command, e.message)
}

func (e *CommandError) Type() string  { return "Command" }
func (e *CommandError) Code() string  { return fmt.Sprintf("CMD_%s", e.command) }
func (e *CommandError) Cause() error  { return e.cause }
func (e *CommandError) Unwrap() error { return e.cause }

// ConversationError represents conversation management errors
type ConversationError struct {
	conversationID string
	message        string
	cause          error
}

func (e *ConversationError) Error() string {
	if e.conversationID != "" {
		if e.cause != nil {
			return fmt.Sprintf("conversation %s: %s (caused by: %v)", e.conversationID, e.message, e.cause)
		}
		return fmt.Sprintf("conversation %s: %s", e.conversationID, e.message)
	}
	if e.cause != nil {
		return fmt.Sprintf("conversation error: %s (caused by: %v)", e.message, e.cause)
	}
	return fmt.Sprintf("conversation error: %s", e.message)
}

func (e *ConversationError) Type() string  { return "Conversation" }
func (e *ConversationError) Code() string  { return "CONVERSATION_ERROR" }
func (e *ConversationError) Cause() error  { return e.cause }
func (e *ConversationError) Unwrap() error { return e.cause }

// Convenience constructors

// NewProviderError creates a new provider error
func NewProviderError(provider string, status int, msg string, cause error) *ProviderError {
	return &ProviderError{
		provider: provider,
		status:   status,
		message:  msg,
		cause:    cause,
	}
}

// NewConfigError creates a new configuration error
func NewConfigError(field, msg string, cause error) *ConfigError {
	return &ConfigError{
		field:   field,
		message: msg,
		cause:   cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(field, msg string, value interface{}, cause error) *ValidationError {
	return &ValidationError{
		field:   field,
		message: msg,
		value:   value,
		cause:   cause,
	}
}

// NewStorageError creates a new storage error
func NewStorageError(operation, msg string, cause error) *StorageError {
	return &StorageError{
		operation: operation,
		message:   msg,
		cause:     cause,
	}
}

// NewNetworkError creates a new network error
func NewNetworkError(url, msg string, status int, cause error) *NetworkError {
	return &NetworkError{
		url:     url,
		message: msg,
		status:  status,
		cause:   cause,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(operation, duration string, cause error) *TimeoutError {
	return &TimeoutError{
		operation: operation,
		duration:  duration,
		cause:     cause,
	}
}

// NewCommandError creates a new command error
func NewCommandError(command, msg string, cause error) *CommandError {
	return &CommandError{
		command: command,
		message: msg,
		cause:   cause,
	}
}

// NewConversationError creates a new conversation error
func NewConversationError(conversationID, msg string, cause error) *ConversationError {
	return &ConversationError{
		conversationID: conversationID,
		message:        msg,
		cause:          cause,
	}
}

// Unwrap walks the Cause chain and returns the root cause.
func Unwrap(err error) error {
	for {
		unwrapped, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		cause := unwrapped.Cause()
		if cause == nil {
			break
		}
		err = cause
	}
	return err
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }
