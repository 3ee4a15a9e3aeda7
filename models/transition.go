package models

import (
	"github.com/google/uuid"
)

// TransitionRequest asks the state machine to move one entity to TargetState.
// CorrelationID is generated when absent so every audit entry produced by the
// call can be linked back to it.
type TransitionRequest struct {
	EntityID      uuid.UUID      `json:"entity_id" validate:"required"`
	TargetState   State          `json:"target_state" validate:"required"`
	Actor         Actor          `json:"actor" validate:"required"`
	Comments      string         `json:"comments,omitempty"`
	CorrelationID uuid.UUID      `json:"correlation_id,omitempty"`
	Context       RequestContext `json:"context,omitempty"`
}

// TransitionResult reports the outcome of a single transition call.
// ErrorKind is empty on success; AuditCorrelationID is set in both cases.
type TransitionResult struct {
	Success            bool      `json:"success"`
	EntityID           uuid.UUID `json:"entity_id"`
	FromState          State     `json:"from_state,omitempty"`
	NewState           State     `json:"new_state,omitempty"`
	ErrorKind          string    `json:"error_kind,omitempty"`
	ErrorDetail        string    `json:"error_detail,omitempty"`
	AuditCorrelationID uuid.UUID `json:"audit_correlation_id"`
}
