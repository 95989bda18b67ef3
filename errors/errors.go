// Package errors provides the error classification used across the billboard
// synchronization services, plus the structured Result returned to callers that
// need to prompt an operator for corrected configuration.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Facade lifecycle errors
	ErrAlreadyInitialized = errors.New("service already initialized")
	ErrNotInitialized     = errors.New("service not initialized")
	ErrDestroyed          = errors.New("service destroyed")
	ErrInvalidTransition  = errors.New("invalid state transition")

	// Connection and networking errors
	ErrNoConnection        = errors.New("no connection available")
	ErrConnectionLost      = errors.New("connection lost")
	ErrConnectionTimeout   = errors.New("connection timeout")
	ErrSubscriptionFailed  = errors.New("subscription failed")
	ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")
	ErrUnexpectedStatus    = errors.New("unexpected http status")

	// Data processing errors
	ErrInvalidData    = errors.New("invalid data format")
	ErrChecksumFailed = errors.New("checksum validation failed")
	ErrParsingFailed  = errors.New("parsing failed")
	ErrSchemaMismatch = errors.New("document does not match schema")

	// Configuration errors
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMissingConfig    = errors.New("missing required configuration")
	ErrInvalidToken     = errors.New("auth token does not match \"Token <token>\"")
	ErrPlaceholderToken = errors.New("auth token is a placeholder")

	// Resource errors
	ErrRateLimited = errors.New("rate limited")

	// Circuit breaker and retry errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Sentinels that classify an error when no ClassifiedError is in its chain
var (
	transientSentinels = []error{
		ErrConnectionTimeout, ErrConnectionLost, ErrNoConnection, ErrUnexpectedStatus,
		ErrRateLimited, ErrCircuitOpen, context.DeadlineExceeded, context.Canceled,
	}
	fatalSentinels   = []error{ErrReconnectsExhausted, ErrDestroyed}
	configSentinels  = []error{ErrInvalidConfig, ErrMissingConfig, ErrInvalidToken, ErrPlaceholderToken}
	invalidSentinels = append([]error{ErrInvalidData, ErrParsingFailed, ErrChecksumFailed, ErrSchemaMismatch},
		configSentinels...)

	// transport libraries rarely export their errors, so their text is matched
	transientWords = []string{"timeout", "connection", "network", "temporary", "unavailable", "refused", "reset by peer"}
	fatalWords     = []string{"fatal", "panic", "out of memory", "disk full"}
)

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func mentions(err error, words []string) bool {
	msg := strings.ToLower(err.Error())
	for _, w := range words {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

// classOf returns the class recorded in err's chain
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	return isAny(err, transientSentinels) || mentions(err, transientWords)
}

// IsFatal reports whether err should stop the facade for good
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	return isAny(err, fatalSentinels) || mentions(err, fatalWords)
}

// IsInvalid reports whether err comes from bad input or configuration
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return isAny(err, invalidSentinels)
}

// IsConfigError reports whether err is one of the configuration or auth errors
// that must be surfaced to the operator rather than absorbed into status fields.
func IsConfigError(err error) bool {
	return isAny(err, configSentinels)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsTransient(err) {
		return ErrorTransient
	}

	// Unknown errors default to transient so the caller may retry
	return ErrorTransient
}

// newClassified creates a new classified error.
// Use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Result is the structured outcome returned by Initialize and TestConnection.
// Configuration and auth failures are reported here instead of being returned
// as errors so that a setup screen can prompt for a corrected value.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// OK returns a successful Result
func OK(message string) Result {
	return Result{Success: true, Message: message}
}

// Failed returns a failed Result carrying the error text
func Failed(err error) Result {
	if err == nil {
		return Result{Success: false, Message: "unknown failure"}
	}
	return Result{Success: false, Message: err.Error()}
}
