package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatRules      ErrorCategory = "rules"      // Domain rule registry problem
	ErrCatGrouping   ErrorCategory = "grouping"   // Demographic grouping failure
	ErrCatSequence   ErrorCategory = "sequence"   // Event sequence repair failure
	ErrCatNoise      ErrorCategory = "noise"      // Noise calibration problem
	ErrCatState      ErrorCategory = "state"      // Persistence corruption/conflict
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// Error codes for the failure modes callers are expected to branch on.
const (
	CodeInvalidDomainRule       = "INVALID_DOMAIN_RULE"
	CodeInsufficientData        = "INSUFFICIENT_DATA"
	CodeDemographicMerge        = "DEMOGRAPHIC_MERGE_IMPOSSIBLE"
	CodeEventSequenceUnresolved = "EVENT_SEQUENCE_UNRESOLVABLE"
	CodeNoiseCalibration        = "NOISE_CALIBRATION"
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrInvalidDomainRule reports a broken rule registry: a must_follow cycle or
// a closure event type that is not itself registered. Detected at load time.
func ErrInvalidDomainRule(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRules,
		Code:      CodeInvalidDomainRule,
		Message:   message,
		Retryable: false,
	}
}

// ErrInsufficientData reports a population smaller than the minimum group
// size. Never relaxed silently.
func ErrInsufficientData(population, minGroupSize int) *DomainError {
	return &DomainError{
		Category:  ErrCatGrouping,
		Code:      CodeInsufficientData,
		Message:   fmt.Sprintf("population of %d cannot satisfy minimum group size %d", population, minGroupSize),
		Retryable: false,
		Details: map[string]interface{}{
			"population":     population,
			"min_group_size": minGroupSize,
		},
	}
}

// ErrDemographicMergeImpossible reports a hard-constraint bucket that cannot
// reach the minimum group size even after the repair pass.
func ErrDemographicMergeImpossible(bucket string, size, minGroupSize int) *DomainError {
	return &DomainError{
		Category:  ErrCatGrouping,
		Code:      CodeDemographicMerge,
		Message:   fmt.Sprintf("bucket %q holds %d individuals, below minimum group size %d", bucket, size, minGroupSize),
		Retryable: false,
		Details: map[string]interface{}{
			"bucket":         bucket,
			"size":           size,
			"min_group_size": minGroupSize,
		},
	}
}

// ErrEventSequenceUnresolvable reports a sequence violation with no valid
// synthetic-event placement.
func ErrEventSequenceUnresolvable(eventType, reason string) *DomainError {
	return &DomainError{
		Category:  ErrCatSequence,
		Code:      CodeEventSequenceUnresolved,
		Message:   fmt.Sprintf("no valid placement repairs %q: %s", eventType, reason),
		Retryable: false,
		Details: map[string]interface{}{
			"event_type": eventType,
		},
	}
}

// ErrNoiseCalibration reports out-of-range noise parameters. Raised before
// any perturbation is applied.
func ErrNoiseCalibration(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNoise,
		Code:      CodeNoiseCalibration,
		Message:   message,
		Retryable: false,
	}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not-found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s %q not found", resource, id),
		Retryable: false,
	}
}

// ErrInternal creates an internal error.
func ErrInternal(message string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatInternal,
		Code:      "INTERNAL",
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// IsCode reports whether err is a DomainError carrying the given code.
func IsCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
