// Package engine provides the core types and interfaces for the ILAE workflow
// engine. It drives one lifecycle transition through the phases
// Plan -> Execute -> Finalize with per-step evidence recording.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary connector failure that may
	// succeed on retry. Examples: network timeouts, temporary service
	// unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting by the target platform.
	// Should be retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a state conflict, such as a concurrent
	// update to the same platform sub-state. Resolved by serializing and
	// retrying, never by dropping the update.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable connector error.
	// Examples: invalid target, permission denied.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassPolicy indicates a configuration-integrity failure in policy
	// resolution. Fatal to the run before any step executes.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassEvidence indicates the evidence chain could not durably
	// record a step outcome. The step must not be confirmed complete until
	// the append succeeds.
	ErrorClassEvidence ErrorClass = "evidence"
)

// LifecycleError represents a classified error with identity and step context.
type LifecycleError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Identity is the identity key the error relates to, if applicable.
	Identity string `json:"identity,omitempty"`

	// Platform is the target platform, if applicable.
	Platform string `json:"platform,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	if e.Platform != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (platform=%s, operation=%s): %s",
			e.Class, e.Message, e.Platform, e.Operation, e.unwrapMessage())
	}
	if e.Platform != "" {
		return fmt.Sprintf("[%s] %s (platform=%s): %s",
			e.Class, e.Message, e.Platform, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}

func (e *LifecycleError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient connector error.
func NewTransientError(message string, err error) *LifecycleError {
	return &LifecycleError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *LifecycleError {
	return &LifecycleError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new state conflict error.
func NewConflictError(message string, err error) *LifecycleError {
	return &LifecycleError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent connector error.
func NewPermanentError(message string, err error) *LifecycleError {
	return &LifecycleError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewPolicyError creates a new policy resolution error.
func NewPolicyError(message string, err error) *LifecycleError {
	return &LifecycleError{Class: ErrorClassPolicy, Message: message, Err: err, Code: ErrCodePolicyResolution}
}

// NewEvidenceError creates a new evidence persistence error.
func NewEvidenceError(message string, err error) *LifecycleError {
	return &LifecycleError{Class: ErrorClassEvidence, Message: message, Err: err, Code: ErrCodeEvidencePersistence}
}

// WithIdentity adds identity context to an error.
func (e *LifecycleError) WithIdentity(identityKey string) *LifecycleError {
	e.Identity = identityKey
	return e
}

// WithPlatform adds platform context to an error.
func (e *LifecycleError) WithPlatform(platform string) *LifecycleError {
	e.Platform = platform
	return e
}

// WithOperation adds operation context to an error.
func (e *LifecycleError) WithOperation(operation string) *LifecycleError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *LifecycleError) WithCode(code string) *LifecycleError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsPolicy returns true if the error is a policy resolution failure.
func IsPolicy(err error) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPolicy
	}
	return false
}

// IsEvidence returns true if the error is an evidence persistence failure.
func IsEvidence(err error) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Class == ErrorClassEvidence
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// Classify converts an arbitrary error into a LifecycleError. Errors that
// already carry a class pass through; everything else is permanent.
func Classify(err error) *LifecycleError {
	if err == nil {
		return nil
	}
	var e *LifecycleError
	if errors.As(err, &e) {
		return e
	}
	return NewPermanentError("unclassified failure", err).WithCode(ErrCodeConnectorFailed)
}

// Common error codes.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeConnectorFailed     = "CONNECTOR_FAILED"
	ErrCodeDependencyFailed    = "DEPENDENCY_FAILED"
	ErrCodePolicyResolution    = "POLICY_RESOLUTION_FAILED"
	ErrCodeEvidencePersistence = "EVIDENCE_PERSISTENCE_FAILED"
)
