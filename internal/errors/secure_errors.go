package errors

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync/atomic"
)

// ErrorSecurityLevel defines the level of detail in error messages
type ErrorSecurityLevel int32

const (
	// ErrorLevelDebug provides full error details for debugging
	ErrorLevelDebug ErrorSecurityLevel = iota
	// ErrorLevelInfo adds the error code to the public message
	ErrorLevelInfo
	// ErrorLevelProduction provides minimal, sanitized error messages
	ErrorLevelProduction
)

var globalErrorSecurityLevel atomic.Int32

func init() {
	globalErrorSecurityLevel.Store(int32(ErrorLevelProduction))
}

// SetErrorSecurityLevel sets the global error security level
func SetErrorSecurityLevel(level ErrorSecurityLevel) {
	globalErrorSecurityLevel.Store(int32(level))
}

// GetErrorSecurityLevel returns the current error security level
func GetErrorSecurityLevel() ErrorSecurityLevel {
	return ErrorSecurityLevel(globalErrorSecurityLevel.Load())
}

// ParseErrorSecurityLevel maps a config string to a level. Unknown values
// fall back to production.
func ParseErrorSecurityLevel(s string) ErrorSecurityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return ErrorLevelDebug
	case "info":
		return ErrorLevelInfo
	default:
		return ErrorLevelProduction
	}
}

// Public messages shown to end users. They match the wording of the chat UI.
const (
	PublicMessageGeneric     = "An error occurred. Please try again."
	PublicMessageTransport   = "通信に失敗しました。もう一度試してください。"
	PublicMessageBusy        = "前の返答を待っています。"
	PublicMessageNotFound    = "conversation not found"
	PublicMessageRateLimited = "too many requests, slow down"
)

// SecureError carries a sanitized public message alongside the internal detail.
type SecureError struct {
	publicMessage string
	detailMessage string
	errorCode     string
	severity      string
	cause         error
	stackTrace    []string
}

// NewSecureError creates a new secure error
func NewSecureError(publicMsg, detailMsg, errorCode, severity string, cause error) *SecureError {
	se := &SecureError{
		publicMessage: sanitizePublicMessage(publicMsg),
		detailMessage: detailMsg,
		errorCode:     errorCode,
		severity:      severity,
		cause:         cause,
	}

	if GetErrorSecurityLevel() == ErrorLevelDebug {
		se.captureStackTrace()
	}

	return se
}

// Error returns the appropriate error message based on security level
func (se *SecureError) Error() string {
	switch GetErrorSecurityLevel() {
	case ErrorLevelDebug:
		return se.getDebugMessage()
	case ErrorLevelInfo:
		return se.getInfoMessage()
	default:
		return se.getProductionMessage()
	}
}

func (se *SecureError) Unwrap() error { return se.cause }

// Code returns the machine-readable error code.
func (se *SecureError) Code() string { return se.errorCode }

// PublicMessage returns the sanitized message regardless of security level.
func (se *SecureError) PublicMessage() string { return se.getProductionMessage() }

func (se *SecureError) getProductionMessage() string {
	if se.publicMessage != "" {
		return se.publicMessage
	}
	return PublicMessageGeneric
}

func (se *SecureError) getInfoMessage() string {
	if se.errorCode != "" {
		return fmt.Sprintf("%s (Code: %s)", se.getProductionMessage(), se.errorCode)
	}
	return se.getProductionMessage()
}

func (se *SecureError) getDebugMessage() string {
	var parts []string

	if se.publicMessage != "" {
		parts = append(parts, fmt.Sprintf("Public: %s", se.publicMessage))
	}
	if se.detailMessage != "" {
		parts = append(parts, fmt.Sprintf("Detail: %s", se.detailMessage))
	}
	if se.errorCode != "" {
		parts = append(parts, fmt.Sprintf("Code: %s", se.errorCode))
	}
	if se.severity != "" {
		parts = append(parts, fmt.Sprintf("Severity: %s", se.severity))
	}
	if se.cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", se.cause))
	}
	if len(se.stackTrace) > 0 {
		parts = append(parts, fmt.Sprintf("Stack: %s", strings.Join(se.stackTrace, " -> ")))
	}

	if len(parts) > 0 {
		return strings.Join(parts, " | ")
	}
	return "Unknown error"
}

func (se *SecureError) captureStackTrace() {
	pc := make([]uintptr, 10)
	n := runtime.Callers(3, pc)

	se.stackTrace = make([]string, 0, n)
	for i := 0; i < n; i++ {
		fn := runtime.FuncForPC(pc[i])
		if fn != nil {
			file, line := fn.FileLine(pc[i])
			se.stackTrace = append(se.stackTrace, fmt.Sprintf("%s:%d", file, line))
		}
	}
}

var (
	pathPattern       = regexp.MustCompile(`[a-zA-Z]:\\[^\s]+|/[^\s]+`)
	ipPattern         = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	credentialPattern = regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token|key)["\s]*[:=]["\s]*[a-zA-Z0-9_-]+`)
	bearerPattern     = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]+`)
)

// sanitizePublicMessage strips paths, addresses and credentials.
func sanitizePublicMessage(msg string) string {
	if msg == "" {
		return ""
	}

	sanitized := pathPattern.ReplaceAllString(msg, "[PATH]")
	sanitized = ipPattern.ReplaceAllString(sanitized, "[IP]")
	sanitized = emailPattern.ReplaceAllString(sanitized, "[EMAIL]")
	sanitized = credentialPattern.ReplaceAllString(sanitized, "[CREDENTIAL]")
	sanitized = bearerPattern.ReplaceAllString(sanitized, "[CREDENTIAL]")

	return sanitized
}

// Public converts any error into a SecureError suitable for showing to a user.
// Validation messages pass through; provider, network and storage failures
// collapse to fixed wording.
func Public(err error) *SecureError {
	if err == nil {
		return nil
	}

	var se *SecureError
	if As(err, &se) {
		return se
	}

	var validationErr *ValidationError
	var providerErr *ProviderError
	var networkErr *NetworkError
	var timeoutErr *TimeoutError
	var storageErr *StorageError
	var configErr *ConfigError

	switch {
	case Is(err, ErrConversationNotFound):
		return NewSecureError(PublicMessageNotFound, err.Error(), "NOT_FOUND", "WARNING", err)
	case Is(err, ErrConversationBusy):
		return NewSecureError(PublicMessageBusy, err.Error(), "BUSY", "WARNING", err)
	case As(err, &validationErr):
		return NewSecureError(fmt.Sprintf("%s: %s", validationErr.field, validationErr.message), err.Error(), validationErr.Code(), "WARNING", err)
	case As(err, &providerErr):
		return NewSecureError(PublicMessageTransport, err.Error(), providerErr.Code(), "ERROR", err)
	case As(err, &networkErr):
		return NewSecureError(PublicMessageTransport, err.Error(), networkErr.Code(), "ERROR", err)
	case As(err, &timeoutErr):
		return NewSecureError(PublicMessageTransport, err.Error(), timeoutErr.Code(), "ERROR", err)
	case As(err, &storageErr):
		return NewSecureError(PublicMessageGeneric, err.Error(), storageErr.Code(), "ERROR", err)
	case As(err, &configErr):
		return NewSecureError(PublicMessageGeneric, err.Error(), configErr.Code(), "ERROR", err)
	default:
		return NewSecureError(PublicMessageGeneric, err.Error(), "INTERNAL", "ERROR", err)
	}
}
