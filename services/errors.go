package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, caller-visible error taxonomy. The kinds are never
// collapsed into one generic failure: bulk callers treat them differently,
// and only ConcurrencyConflict is retryable.
type ErrorKind string

const (
	ErrorKindIllegalTransition    ErrorKind = "ILLEGAL_TRANSITION"
	ErrorKindBusinessRuleViolated ErrorKind = "BUSINESS_RULE_VIOLATED"
	ErrorKindPermissionDenied     ErrorKind = "PERMISSION_DENIED"
	ErrorKindCommentRequired      ErrorKind = "COMMENT_REQUIRED"
	ErrorKindConcurrencyConflict  ErrorKind = "CONCURRENCY_CONFLICT"
	ErrorKindValidation           ErrorKind = "VALIDATION_ERROR"
	ErrorKindSystemic             ErrorKind = "SYSTEMIC_ERROR"
)

// DomainError is a structured error carrying a stable kind, a short
// human-readable detail safe to surface to callers, and an optional wrapped
// cause kept for server-side logs only.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is: two domain errors match when their kinds match.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// PublicDetail returns the caller-safe description: kind plus short message,
// never wrapped internal error text.
func (e *DomainError) PublicDetail() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether a caller may usefully resubmit the operation.
// Only concurrency conflicts are transient.
func (e *DomainError) Retryable() bool {
	return e.Kind == ErrorKindConcurrencyConflict
}

// WithDetail adds a detail to the error.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error.
func NewDomainError(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Constructors for the seven kinds.

func NewIllegalTransition(message string) *DomainError {
	return NewDomainError(ErrorKindIllegalTransition, message, nil)
}

func NewBusinessRuleViolated(message string) *DomainError {
	return NewDomainError(ErrorKindBusinessRuleViolated, message, nil)
}

func NewPermissionDenied(message string) *DomainError {
	return NewDomainError(ErrorKindPermissionDenied, message, nil)
}

func NewCommentRequired(message string) *DomainError {
	return NewDomainError(ErrorKindCommentRequired, message, nil)
}

func NewConcurrencyConflict(message string) *DomainError {
	return NewDomainError(ErrorKindConcurrencyConflict, message, nil)
}

func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrorKindValidation, message, nil)
}

func NewSystemicError(message string, err error) *DomainError {
	return NewDomainError(ErrorKindSystemic, message, err)
}

// KindOf returns the ErrorKind of err, or ErrorKindSystemic when err is not a
// DomainError. Unclassified failures are environmental by definition.
func KindOf(err error) ErrorKind {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ErrorKindSystemic
}

// PublicDetailOf returns the caller-safe detail string for err. Non-domain
// errors are reported as a generic systemic failure without internal text.
func PublicDetailOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.PublicDetail()
	}
	return string(ErrorKindSystemic) + ": internal error"
}

// GetErrorDetails returns the structured details of a domain error, nil for
// non-domain errors.
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// Kind predicates.

func IsIllegalTransition(err error) bool    { return KindOf(err) == ErrorKindIllegalTransition }
func IsBusinessRuleViolated(err error) bool { return KindOf(err) == ErrorKindBusinessRuleViolated }
func IsPermissionDenied(err error) bool     { return KindOf(err) == ErrorKindPermissionDenied }
func IsCommentRequired(err error) bool      { return KindOf(err) == ErrorKindCommentRequired }
func IsConcurrencyConflict(err error) bool  { return KindOf(err) == ErrorKindConcurrencyConflict }
func IsValidationError(err error) bool      { return KindOf(err) == ErrorKindValidation }

// IsSystemicError reports whether err signals an environmental fault rather
// than bad data. Non-domain errors count as systemic.
func IsSystemicError(err error) bool { return KindOf(err) == ErrorKindSystemic }

// IsRetryable reports whether a caller may resubmit after err.
func IsRetryable(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable()
	}
	return false
}

// WrapSystemic wraps an error as a systemic failure.
func WrapSystemic(message string, err error) error {
	return NewSystemicError(message, err)
}
