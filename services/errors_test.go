package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Error(t *testing.T) {
	err := NewIllegalTransition("no transition declared from DRAFT to CLOSED")
	assert.Equal(t, "ILLEGAL_TRANSITION: no transition declared from DRAFT to CLOSED", err.Error())

	wrapped := NewSystemicError("audit insert failed", errors.New("connection refused"))
	assert.Contains(t, wrapped.Error(), "SYSTEMIC_ERROR: audit insert failed")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapSystemic("entity write failed", cause)

	assert.True(t, errors.Is(err, cause))

	var derr *DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, ErrorKindSystemic, derr.Kind)
}

func TestDomainError_Is_MatchesByKind(t *testing.T) {
	a := NewConcurrencyConflict("version 3 is stale")
	b := NewConcurrencyConflict("version 9 is stale")
	c := NewValidationError("bad input")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"illegal transition", NewIllegalTransition("x"), ErrorKindIllegalTransition},
		{"business rule", NewBusinessRuleViolated("x"), ErrorKindBusinessRuleViolated},
		{"permission denied", NewPermissionDenied("x"), ErrorKindPermissionDenied},
		{"comment required", NewCommentRequired("x"), ErrorKindCommentRequired},
		{"concurrency conflict", NewConcurrencyConflict("x"), ErrorKindConcurrencyConflict},
		{"validation", NewValidationError("x"), ErrorKindValidation},
		{"systemic", NewSystemicError("x", nil), ErrorKindSystemic},
		{"plain error defaults to systemic", errors.New("boom"), ErrorKindSystemic},
		{"wrapped domain error", fmt.Errorf("outer: %w", NewCommentRequired("x")), ErrorKindCommentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable_OnlyConcurrencyConflict(t *testing.T) {
	kinds := []error{
		NewIllegalTransition("x"),
		NewBusinessRuleViolated("x"),
		NewPermissionDenied("x"),
		NewCommentRequired("x"),
		NewValidationError("x"),
		NewSystemicError("x", nil),
		errors.New("plain"),
	}
	for _, err := range kinds {
		assert.False(t, IsRetryable(err), "kind %s must not be retryable", KindOf(err))
	}

	assert.True(t, IsRetryable(NewConcurrencyConflict("stale version")))
}

func TestPublicDetailOf_HidesInternalCause(t *testing.T) {
	cause := errors.New("pq: password authentication failed for user \"app\"")
	err := WrapSystemic("entity write failed", cause)

	detail := PublicDetailOf(err)
	assert.Equal(t, "SYSTEMIC_ERROR: entity write failed", detail)
	assert.NotContains(t, detail, "password")
}

func TestPublicDetailOf_NonDomainError(t *testing.T) {
	detail := PublicDetailOf(errors.New("pq: relation does not exist"))
	assert.Equal(t, "SYSTEMIC_ERROR: internal error", detail)
}

func TestWithDetail(t *testing.T) {
	err := NewPermissionDenied("permission required").
		WithDetail("required_permission", "can_approve")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "can_approve", details["required_permission"])
}

func TestGetErrorDetails_NonDomainError(t *testing.T) {
	assert.Nil(t, GetErrorDetails(errors.New("boom")))
	assert.Nil(t, GetErrorDetails(NewValidationError("no details attached")))
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsIllegalTransition(NewIllegalTransition("x")))
	assert.True(t, IsBusinessRuleViolated(NewBusinessRuleViolated("x")))
	assert.True(t, IsPermissionDenied(NewPermissionDenied("x")))
	assert.True(t, IsCommentRequired(NewCommentRequired("x")))
	assert.True(t, IsConcurrencyConflict(NewConcurrencyConflict("x")))
	assert.True(t, IsValidationError(NewValidationError("x")))
	assert.True(t, IsSystemicError(errors.New("unclassified")))
	assert.False(t, IsSystemicError(NewValidationError("x")))
}
