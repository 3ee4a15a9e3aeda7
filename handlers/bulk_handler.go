package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/middleware"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/services"
	"github.com/opsdeck/workstream/services/bulk"
	"github.com/opsdeck/workstream/utils"
	"go.uber.org/zap"
)

// BulkHandler serves the bulk operation endpoints.
type BulkHandler struct {
	service *bulk.Service
	logger  *zap.Logger
}

// NewBulkHandler creates a new BulkHandler
func NewBulkHandler(service *bulk.Service, logger *zap.Logger) *BulkHandler {
	return &BulkHandler{
		service: service,
		logger:  logger,
	}
}

// BulkRequestBody is the shared request body of the bulk endpoints.
type BulkRequestBody struct {
	EntityIDs             []uuid.UUID            `json:"entity_ids" validate:"required,min=1"`
	TargetState           string                 `json:"target_state,omitempty"`
	Comments              string                 `json:"comments,omitempty"`
	UpdateFields          map[string]interface{} `json:"update_fields,omitempty"`
	AssigneeID            *uuid.UUID             `json:"assignee_id,omitempty"`
	DryRun                bool                   `json:"dry_run"`
	RollbackOnError       bool                   `json:"rollback_on_error"`
	FailureAbortThreshold float64                `json:"failure_abort_threshold,omitempty"`
}

type bulkOp func(ctx context.Context, req models.BulkOperationRequest) (*models.BulkOperationResult, error)

// HandleTransition handles POST /bulk/transitions
func (h *BulkHandler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.service.BulkTransition)
}

// HandleUpdate handles POST /bulk/updates
func (h *BulkHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.service.BulkUpdate)
}

// HandleAssign handles POST /bulk/assignments
func (h *BulkHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.service.BulkAssign)
}

func (h *BulkHandler) handle(w http.ResponseWriter, r *http.Request, op bulkOp) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var body BulkRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}
	if err := utils.ValidateStruct(body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	req := models.BulkOperationRequest{
		EntityIDs:             body.EntityIDs,
		TargetState:           models.State(body.TargetState),
		Comments:              body.Comments,
		UpdateFields:          body.UpdateFields,
		AssigneeID:            body.AssigneeID,
		DryRun:                body.DryRun,
		RollbackOnError:       body.RollbackOnError,
		FailureAbortThreshold: body.FailureAbortThreshold,
		Actor:                 actor,
		CorrelationID:         correlationFromHeader(r),
		Context:               requestContext(r),
	}

	result, err := op(r.Context(), req)
	if err != nil && services.IsValidationError(err) && result.SuccessfulItems == 0 && result.FailedItems == 0 {
		// Whole-call rejection (empty batch, size cap, protected field).
		HandleServiceError(w, err, h.logger)
		return
	}

	// Partial failure is a successful bulk call; the per-item outcomes live
	// in the result body.
	_ = utils.WriteOK(w, result)
}
