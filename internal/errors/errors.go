// Package errors provides centralized error definitions and error handling utilities
// for Klaus. It defines domain-specific errors, semantic error types, error
// constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - PlatformError: errors returned by the cloud platform REST API
//   - AIError: errors from the AI agents (Claude Code CLI, Messages API)
//   - PhaseError: errors raised while a workflow phase runs
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// Navigation ("go back a step") is deliberately not an error type of this
// package. It lives in the phase package so that classification helpers here
// can never mistake it for a failure.
//
// # Usage
//
//	err := errors.NewPlatformError("list topics", cause).WithStatus(503)
//	if errors.IsRetryable(err) { ... }
//
//	var platErr *errors.PlatformError
//	if errors.As(err, &platErr) && platErr.StatusCode == 404 { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Platform-related sentinel errors
var (
	// ErrUnauthorized indicates the platform token was rejected.
	ErrUnauthorized = New("platform token rejected")
	// ErrRateLimited indicates the platform or AI API throttled the request.
	ErrRateLimited = New("rate limited")
	// ErrServerUnavailable indicates a 5xx response or a dropped connection.
	ErrServerUnavailable = New("server unavailable")
	// ErrCircuitOpen indicates the platform circuit breaker is open.
	ErrCircuitOpen = New("platform circuit breaker open")
)

// AI-related sentinel errors
var (
	// ErrNoCode indicates the AI agent finished without producing code.
	ErrNoCode = New("AI agent produced no code")
	// ErrNoFix indicates the AI agent could not produce a fix.
	ErrNoFix = New("AI agent could not produce a fix")
	// ErrAIUnavailable indicates the AI backend is not configured or not installed.
	ErrAIUnavailable = New("AI backend unavailable")
)

// Workflow-related sentinel errors
var (
	// ErrEmptyTopic indicates a topic has no messages to sample.
	ErrEmptyTopic = New("topic has no messages")
	// ErrNoWorkspace indicates no workspace is available or selected.
	ErrNoWorkspace = New("no workspace selected")
	// ErrUserAborted indicates the user chose to abort the workflow.
	ErrUserAborted = New("aborted by user")
	// ErrDebugExhausted indicates the auto-debug loop ran out of attempts.
	ErrDebugExhausted = New("auto-debug attempts exhausted")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrNotFound indicates that a resource could not be found.
	ErrNotFound = New("not found")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// KlausError is the base interface for all Klaus errors.
// It extends the standard error interface with classification methods.
type KlausError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// formatWithContext renders "<kind> [k=v, ...]: message: cause".
func formatWithContext(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// PlatformError represents a failed call to the cloud platform REST API.
// Retryability follows the HTTP status: 429 and 5xx are transient, other 4xx
// responses (auth, validation) fail immediately.
//
// Example:
//
//	err := errors.NewPlatformError("create deployment", cause).WithStatus(502).WithEndpoint("/deployments")
//	fmt.Println(err) // "platform error [status=502, endpoint=/deployments]: create deployment: ..."
type PlatformError struct {
	baseError
	StatusCode int
	Endpoint   string
}

// NewPlatformError creates a new PlatformError. Without a status code the
// error is treated as a transport failure and is retryable.
func NewPlatformError(message string, cause error) *PlatformError {
	return &PlatformError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithStatus records the HTTP status and derives retryability from it.
func (e *PlatformError) WithStatus(code int) *PlatformError {
	e.StatusCode = code
	e.retryable = code == 429 || code >= 500
	return e
}

// WithEndpoint adds the request path to the error context.
func (e *PlatformError) WithEndpoint(endpoint string) *PlatformError {
	e.Endpoint = endpoint
	return e
}

// WithRetryable overrides the derived retryability.
func (e *PlatformError) WithRetryable(r bool) *PlatformError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *PlatformError) Error() string {
	var parts []string
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Endpoint != "" {
		parts = append(parts, fmt.Sprintf("endpoint=%s", e.Endpoint))
	}
	return formatWithContext("platform error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *PlatformError) Is(target error) bool {
	if _, ok := target.(*PlatformError); ok {
		return true
	}
	switch {
	case target == ErrUnauthorized:
		return e.StatusCode == 401 || e.StatusCode == 403
	case target == ErrRateLimited:
		return e.StatusCode == 429
	case target == ErrServerUnavailable:
		return e.StatusCode >= 500
	case target == ErrNotFound:
		return e.StatusCode == 404
	}
	return false
}

// AIError represents a failure of an AI agent call.
//
// Example:
//
//	err := errors.NewAIError("generate", cause).WithRetryable(true)
type AIError struct {
	baseError
	Operation string
}

// transientAIMarkers are substrings of AI failures known to clear up on retry.
var transientAIMarkers = []string{
	"rate limit",
	"overloaded",
	"server disconnected",
	"connection reset",
	"timeout",
	"529",
	"503",
}

// NewAIError creates a new AIError. Retryability is inferred from the cause
// message; callers can override it with WithRetryable.
func NewAIError(operation string, cause error) *AIError {
	retryable := false
	if cause != nil {
		msg := strings.ToLower(cause.Error())
		for _, marker := range transientAIMarkers {
			if strings.Contains(msg, marker) {
				retryable = true
				break
			}
		}
	}
	return &AIError{
		baseError: baseError{
			message:    "AI " + operation + " failed",
			cause:      cause,
			severity:   SeverityError,
			retryable:  retryable,
			userFacing: true,
		},
		Operation: operation,
	}
}

// WithRetryable sets whether the error is retryable.
func (e *AIError) WithRetryable(r bool) *AIError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *AIError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Operation))
	}
	return formatWithContext("ai error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *AIError) Is(target error) bool {
	_, ok := target.(*AIError)
	return ok
}

// PhaseError represents a failure raised inside a workflow phase.
type PhaseError struct {
	baseError
	Phase    string
	Workflow string
}

// NewPhaseError creates a new PhaseError.
func NewPhaseError(phase, message string, cause error) *PhaseError {
	return &PhaseError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Phase: phase,
	}
}

// WithWorkflow adds the workflow kind to the error context.
func (e *PhaseError) WithWorkflow(kind string) *PhaseError {
	e.Workflow = kind
	return e
}

// WithSeverity sets the error severity.
func (e *PhaseError) WithSeverity(s Severity) *PhaseError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *PhaseError) Error() string {
	var parts []string
	if e.Workflow != "" {
		parts = append(parts, fmt.Sprintf("workflow=%s", e.Workflow))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	return formatWithContext("phase error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *PhaseError) Is(target error) bool {
	_, ok := target.(*PhaseError)
	return ok
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates a resource could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not found", resourceType),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
	}
	return e.message
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return target == ErrNotFound
}

// ValidationError indicates invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField names the offending field.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue records the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation error")
	if e.Field != "" {
		sb.WriteString(fmt.Sprintf(" [field=%s]", e.Field))
	}
	sb.WriteString(": ")
	sb.WriteString(e.message)
	if e.cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.cause))
	}
	return sb.String()
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return target == ErrInvalidInput
}

// TimeoutError indicates an operation exceeded its time budget.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError. Timeouts are retryable by default.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation + " timed out",
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return target == ErrTimeout
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing KlausError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout, ErrRateLimited or ErrServerUnavailable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var klausErr KlausError
	if As(err, &klausErr) {
		return klausErr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrRateLimited) || Is(err, ErrServerUnavailable)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var klausErr KlausError
	if As(err, &klausErr) {
		return klausErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement KlausError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var klausErr KlausError
	if As(err, &klausErr) {
		return klausErr.Severity()
	}
	return SeverityError
}

// UserMessage returns a message suitable for display. Internal errors are
// replaced by a generic message unless verbose is set.
func UserMessage(err error, verbose bool) string {
	if err == nil {
		return ""
	}
	if verbose || IsUserFacing(err) {
		return err.Error()
	}
	return "an internal error occurred (run with --debug for details)"
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
