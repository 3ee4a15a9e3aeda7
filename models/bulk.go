package models

import (
	"github.com/google/uuid"
)

// BulkOperationType identifies which single-item operation a bulk call fans out.
type BulkOperationType string

const (
	BulkOperationTransition BulkOperationType = "bulk_transition"
	BulkOperationUpdate     BulkOperationType = "bulk_update"
	BulkOperationAssign     BulkOperationType = "bulk_assign"
)

// BulkOperationRequest applies one logical operation across a bounded batch
// of entity ids.
//
// FailureAbortThreshold is an optional caller policy for non-rollback mode:
// when > 0, processing aborts once failed/processed exceeds the threshold
// (e.g. 0.5 aborts past 50% failures). Zero disables it.
type BulkOperationRequest struct {
	EntityIDs     []uuid.UUID       `json:"entity_ids" validate:"required,min=1"`
	OperationType BulkOperationType `json:"operation_type" validate:"required"`

	// bulk_transition parameters
	TargetState State  `json:"target_state,omitempty"`
	Comments    string `json:"comments,omitempty"`

	// bulk_update parameters
	UpdateFields map[string]interface{} `json:"update_fields,omitempty"`

	// bulk_assign parameters
	AssigneeID *uuid.UUID `json:"assignee_id,omitempty"`

	DryRun                bool           `json:"dry_run"`
	RollbackOnError       bool           `json:"rollback_on_error"`
	FailureAbortThreshold float64        `json:"failure_abort_threshold,omitempty" validate:"gte=0,lte=1"`
	Actor                 Actor          `json:"actor" validate:"required"`
	CorrelationID         uuid.UUID      `json:"correlation_id,omitempty"`
	Context               RequestContext `json:"context,omitempty"`
}

// BulkOperationResult aggregates per-item outcomes of one bulk call.
// TotalItems == SuccessfulItems + FailedItems holds for every call, and
// SuccessfulIDs is disjoint from the keys of FailureDetails.
type BulkOperationResult struct {
	OperationType      BulkOperationType    `json:"operation_type"`
	TotalItems         int                  `json:"total_items"`
	SuccessfulItems    int                  `json:"successful_items"`
	FailedItems        int                  `json:"failed_items"`
	SuccessRate        float64              `json:"success_rate"`
	SuccessfulIDs      []uuid.UUID          `json:"successful_ids"`
	FailedIDs          []uuid.UUID          `json:"failed_ids"`
	FailureDetails     map[string]string    `json:"failure_details"` // entity id -> error kind + short detail
	Warnings           []string             `json:"warnings"`
	WasRolledBack      bool                 `json:"was_rolled_back"`
	DryRun             bool                 `json:"dry_run"`
	ExecutionTimeMs    int64                `json:"execution_time_ms"`
	AuditCorrelationID uuid.UUID            `json:"audit_correlation_id"`
}

// Finalize recomputes the aggregate counters from the accumulated slices.
func (r *BulkOperationResult) Finalize() {
	r.SuccessfulItems = len(r.SuccessfulIDs)
	r.FailedItems = len(r.FailedIDs)
	r.TotalItems = r.SuccessfulItems + r.FailedItems
	if r.TotalItems > 0 {
		r.SuccessRate = float64(r.SuccessfulItems) / float64(r.TotalItems)
	}
}
