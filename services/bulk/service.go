package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
	"github.com/opsdeck/workstream/services"
	"github.com/opsdeck/workstream/services/audit"
	"github.com/opsdeck/workstream/services/permissions"
	"github.com/opsdeck/workstream/services/statemachine"
	"go.uber.org/zap"
)

// DefaultMaxBulkSize caps how many entity ids one bulk call may carry.
const DefaultMaxBulkSize = 1000

// thresholdMinSample is the minimum number of processed items before the
// optional failure-rate abort can trigger, so one early failure in a large
// batch does not abort it.
const thresholdMinSample = 10

// protectedFields may never be touched by bulk_update. The check runs before
// any item is processed.
var protectedFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"created_by": true,
	"version":    true,
}

// Service applies one logical operation across a bounded batch of entities
// with deterministic partial-failure reporting. Items are processed in input
// order; atomicity is configurable per call via rollback_on_error.
type Service struct {
	registry  *statemachine.Registry
	store     repositories.EntityStore
	auditSvc  *audit.Service
	evaluator repositories.PermissionEvaluator
	txManager repositories.TransactionManager
	maxSize   int
	logger    *zap.Logger
}

// NewService creates a bulk operation service. maxSize <= 0 falls back to
// DefaultMaxBulkSize.
func NewService(registry *statemachine.Registry, store repositories.EntityStore, auditSvc *audit.Service, evaluator repositories.PermissionEvaluator, txManager repositories.TransactionManager, maxSize int, logger *zap.Logger) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxBulkSize
	}
	return &Service{
		registry:  registry,
		store:     store,
		auditSvc:  auditSvc,
		evaluator: evaluator,
		txManager: txManager,
		maxSize:   maxSize,
		logger:    logger,
	}
}

// BulkTransition moves every listed entity to the request's target state.
func (s *Service) BulkTransition(ctx context.Context, req models.BulkOperationRequest) (*models.BulkOperationResult, error) {
	req.OperationType = models.BulkOperationTransition
	return s.execute(ctx, req)
}

// BulkUpdate merges the request's update fields into every listed entity.
func (s *Service) BulkUpdate(ctx context.Context, req models.BulkOperationRequest) (*models.BulkOperationResult, error) {
	req.OperationType = models.BulkOperationUpdate
	return s.execute(ctx, req)
}

// BulkAssign sets the assignee on every listed entity.
func (s *Service) BulkAssign(ctx context.Context, req models.BulkOperationRequest) (*models.BulkOperationResult, error) {
	req.OperationType = models.BulkOperationAssign
	return s.execute(ctx, req)
}

// execute runs the shared bulk pipeline: whole-call validation, then dry-run
// preview, transactional all-or-nothing commit, or independent per-item
// processing. Exactly one BulkOperationAuditEntry is written per call.
func (s *Service) execute(ctx context.Context, req models.BulkOperationRequest) (*models.BulkOperationResult, error) {
	start := time.Now()
	correlationID := audit.EnsureCorrelation(req.CorrelationID)
	req.CorrelationID = correlationID

	result := &models.BulkOperationResult{
		OperationType:      req.OperationType,
		FailureDetails:     make(map[string]string),
		DryRun:             req.DryRun,
		AuditCorrelationID: correlationID,
	}

	if err := s.validateRequest(req); err != nil {
		failAll(result, err)
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		s.writeSummary(ctx, req, result)
		return result, err
	}

	var err error
	switch {
	case req.DryRun:
		s.runDryRun(ctx, req, result)
	case req.RollbackOnError:
		err = s.runRollback(ctx, req, result)
	default:
		err = s.runIndependent(ctx, req, result)
	}

	result.Finalize()
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	s.writeSummary(ctx, req, result)

	s.logger.Info("bulk operation finished",
		zap.String("operation_type", string(req.OperationType)),
		zap.Int("total_items", result.TotalItems),
		zap.Int("successful_items", result.SuccessfulItems),
		zap.Int("failed_items", result.FailedItems),
		zap.Bool("dry_run", result.DryRun),
		zap.Bool("was_rolled_back", result.WasRolledBack),
		zap.String("correlation_id", correlationID.String()))
	return result, err
}

// validateRequest rejects the whole call before any item is touched.
func (s *Service) validateRequest(req models.BulkOperationRequest) error {
	if len(req.EntityIDs) == 0 {
		return services.NewValidationError("entity_ids must not be empty")
	}
	if len(req.EntityIDs) > s.maxSize {
		return services.NewValidationError(
			fmt.Sprintf("batch of %d exceeds the maximum bulk size of %d", len(req.EntityIDs), s.maxSize))
	}
	if req.FailureAbortThreshold < 0 || req.FailureAbortThreshold > 1 {
		return services.NewValidationError("failure_abort_threshold must be between 0 and 1")
	}

	switch req.OperationType {
	case models.BulkOperationTransition:
		if req.TargetState == "" {
			return services.NewValidationError("target_state is required for bulk_transition")
		}
	case models.BulkOperationUpdate:
		if len(req.UpdateFields) == 0 {
			return services.NewValidationError("update_fields must not be empty for bulk_update")
		}
		for field := range req.UpdateFields {
			if protectedFields[field] {
				return services.NewValidationError(
					fmt.Sprintf("field %q is protected and cannot be bulk-updated", field))
			}
		}
	case models.BulkOperationAssign:
		if req.AssigneeID == nil {
			return services.NewValidationError("assignee_id is required for bulk_assign")
		}
	default:
		return services.NewValidationError(fmt.Sprintf("unknown bulk operation type %q", req.OperationType))
	}
	return nil
}

// runDryRun classifies every item with the exact per-item checks of a real
// run, with no entity writes and no per-item audit entries.
func (s *Service) runDryRun(ctx context.Context, req models.BulkOperationRequest, result *models.BulkOperationResult) {
	for _, id := range req.EntityIDs {
		if err := s.previewItem(ctx, id, req); err != nil {
			recordFailure(result, id, err)
			continue
		}
		result.SuccessfulIDs = append(result.SuccessfulIDs, id)
	}
}

// runIndependent processes items independently in input order. A business
// failure on one item never blocks the next; a systemic failure aborts the
// remainder, reported distinctly.
func (s *Service) runIndependent(ctx context.Context, req models.BulkOperationRequest, result *models.BulkOperationResult) error {
	for i, id := range req.EntityIDs {
		if err := s.applyItem(ctx, s.store, s.auditSvc, id, req); err != nil {
			if services.IsSystemicError(err) {
				abortRemaining(result, req.EntityIDs[i:], err)
				result.Warnings = append(result.Warnings,
					"processing aborted by a systemic failure; remaining items were not attempted")
				return err
			}
			recordFailure(result, id, err)
		} else {
			result.SuccessfulIDs = append(result.SuccessfulIDs, id)
		}

		if s.thresholdExceeded(req, result, i+1) {
			remaining := req.EntityIDs[i+1:]
			abortRemaining(result, remaining,
				services.NewValidationError("not processed: failure-rate threshold exceeded"))
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("processing aborted: failure rate exceeded threshold of %.0f%%", req.FailureAbortThreshold*100))
			return nil
		}
	}
	return nil
}

// runRollback treats the batch as one atomic unit: every write lands inside a
// transaction and one failure reverts them all. Post-call state for every id
// equals pre-call state exactly when the batch rolls back.
func (s *Service) runRollback(ctx context.Context, req models.BulkOperationRequest, result *models.BulkOperationResult) error {
	var applied []uuid.UUID
	var failedID uuid.UUID
	var itemErr error

	txErr := services.WithTransaction(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) error {
		txStore := s.store.WithTx(tx)
		txAudit := s.auditSvc.WithTx(tx)
		for _, id := range req.EntityIDs {
			if err := s.applyItem(ctx, txStore, txAudit, id, req); err != nil {
				failedID = id
				itemErr = err
				return err
			}
			applied = append(applied, id)
		}
		return nil
	})

	if txErr == nil {
		result.SuccessfulIDs = append(result.SuccessfulIDs, applied...)
		return nil
	}

	result.WasRolledBack = true
	if itemErr != nil {
		recordFailure(result, failedID, itemErr)
		rolledBack := fmt.Sprintf("rolled back: batch aborted by failure of entity %s", failedID)
		for _, id := range req.EntityIDs {
			if id == failedID {
				continue
			}
			result.FailedIDs = append(result.FailedIDs, id)
			result.FailureDetails[id.String()] = rolledBack
		}
		return itemErr
	}

	// Transaction machinery itself failed. Every id was attempted, so the
	// report names them all rather than using the zero-total convention of
	// pre-processing rejections.
	err := services.WrapSystemic("bulk transaction failed", txErr)
	abortRemaining(result, req.EntityIDs, err)
	result.Warnings = append(result.Warnings, services.PublicDetailOf(err))
	return err
}

// thresholdExceeded applies the optional caller-configured failure-rate
// abort. Disabled when the threshold is zero.
func (s *Service) thresholdExceeded(req models.BulkOperationRequest, result *models.BulkOperationResult, processed int) bool {
	if req.FailureAbortThreshold <= 0 || req.RollbackOnError || processed < thresholdMinSample {
		return false
	}
	return float64(len(result.FailedIDs))/float64(processed) > req.FailureAbortThreshold
}

// previewItem runs the per-item checks of applyItem without writes or audit
// entries. Real and dry runs share classification logic, so an immediately
// repeated real call classifies items identically absent concurrent mutation.
func (s *Service) previewItem(ctx context.Context, id uuid.UUID, req models.BulkOperationRequest) error {
	entity, err := s.store.Load(ctx, id)
	if err != nil {
		return classifyLoadError(id, err)
	}

	switch req.OperationType {
	case models.BulkOperationTransition:
		machine, err := s.registry.Get(entity.EntityType)
		if err != nil {
			return err
		}
		return machine.Preview(ctx, entity, transitionRequest(entity, req))
	case models.BulkOperationUpdate:
		return s.checkPermission(ctx, req, entity, permissions.PermUpdate, false)
	case models.BulkOperationAssign:
		return s.checkPermission(ctx, req, entity, permissions.PermAssign, false)
	}
	return services.NewValidationError(fmt.Sprintf("unknown bulk operation type %q", req.OperationType))
}

// applyItem performs the real single-item operation through the given store
// and audit bindings (direct or transaction-bound).
func (s *Service) applyItem(ctx context.Context, store repositories.EntityStore, auditSvc *audit.Service, id uuid.UUID, req models.BulkOperationRequest) error {
	entity, err := store.Load(ctx, id)
	if err != nil {
		return classifyLoadError(id, err)
	}

	switch req.OperationType {
	case models.BulkOperationTransition:
		machine, err := s.registry.Get(entity.EntityType)
		if err != nil {
			return err
		}
		bound := machine.WithStorage(store, auditSvc)
		_, err = bound.TransitionLoaded(ctx, entity, transitionRequest(entity, req))
		return err
	case models.BulkOperationUpdate:
		return s.applyUpdate(ctx, store, auditSvc, entity, req)
	case models.BulkOperationAssign:
		return s.applyAssign(ctx, store, auditSvc, entity, req)
	}
	return services.NewValidationError(fmt.Sprintf("unknown bulk operation type %q", req.OperationType))
}

// applyUpdate merges the request's fields into the entity via CAS and audits
// the change.
func (s *Service) applyUpdate(ctx context.Context, store repositories.EntityStore, auditSvc *audit.Service, entity *models.Entity, req models.BulkOperationRequest) error {
	if err := s.checkPermission(ctx, req, entity, permissions.PermUpdate, true); err != nil {
		return err
	}

	swapped, err := store.CompareAndSwap(ctx, entity.ID, entity.Version, entity.State, req.UpdateFields, nil)
	if err != nil {
		return services.WrapSystemic("entity write failed", err)
	}
	if !swapped {
		return services.NewConcurrencyConflict(
			fmt.Sprintf("entity %s changed since it was read (version %d is stale)", entity.ID, entity.Version))
	}
	return auditSvc.LogEntityUpdated(ctx, req.CorrelationID, entity, req.Actor.ID, req.UpdateFields, req.Context)
}

// applyAssign sets the assignee via CAS and audits the change.
func (s *Service) applyAssign(ctx context.Context, store repositories.EntityStore, auditSvc *audit.Service, entity *models.Entity, req models.BulkOperationRequest) error {
	if err := s.checkPermission(ctx, req, entity, permissions.PermAssign, true); err != nil {
		return err
	}

	swapped, err := store.CompareAndSwap(ctx, entity.ID, entity.Version, entity.State, nil, req.AssigneeID)
	if err != nil {
		return services.WrapSystemic("entity write failed", err)
	}
	if !swapped {
		return services.NewConcurrencyConflict(
			fmt.Sprintf("entity %s changed since it was read (version %d is stale)", entity.ID, entity.Version))
	}
	changes := map[string]interface{}{"assignee_id": req.AssigneeID.String()}
	return auditSvc.LogEntityUpdated(ctx, req.CorrelationID, entity, req.Actor.ID, changes, req.Context)
}

// checkPermission evaluates the operation permission. When audited, a denial
// is recorded before it is surfaced; denial entries always bypass the batch
// transaction so a rollback cannot erase a security event.
func (s *Service) checkPermission(ctx context.Context, req models.BulkOperationRequest, entity *models.Entity, permission string, audited bool) error {
	allowed, err := s.evaluator.HasPermission(ctx, req.Actor, permission, entity)
	if err != nil {
		return services.WrapSystemic("permission evaluation failed", err)
	}
	if allowed {
		return nil
	}

	if audited {
		details := models.PermissionDenialDetails{
			RequiredPermission: permission,
			ActionAttempted:    string(req.OperationType),
			RiskLevel:          models.RiskLevelMedium,
		}
		if err := s.auditSvc.LogPermissionDenial(ctx, req.CorrelationID, entity, req.Actor.ID, details, req.Context); err != nil {
			s.logger.Error("failed to audit permission denial",
				zap.Error(err),
				zap.String("entity_id", entity.ID.String()),
				zap.String("required_permission", permission))
		}
	}
	return services.NewPermissionDenied(
		fmt.Sprintf("permission %q required for %s", permission, req.OperationType)).
		WithDetail("required_permission", permission)
}

// writeSummary records the single BULK_OPERATION audit entry of the call,
// including rejected, dry-run, and rolled-back ones. Failures are logged,
// never propagated into the result.
func (s *Service) writeSummary(ctx context.Context, req models.BulkOperationRequest, result *models.BulkOperationResult) {
	details := models.BulkOperationDetails{
		OperationType:   req.OperationType,
		TotalItems:      result.TotalItems,
		SuccessfulItems: result.SuccessfulItems,
		FailedItems:     result.FailedItems,
		FailureDetails:  result.FailureDetails,
		WasRolledBack:   result.WasRolledBack,
		DryRun:          result.DryRun,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
	entityType := models.EntityType("")
	if err := s.auditSvc.LogBulkOperation(ctx, req.CorrelationID, entityType, req.Actor.ID, details, req.Context); err != nil {
		s.logger.Error("failed to write bulk operation summary audit entry",
			zap.Error(err),
			zap.String("correlation_id", req.CorrelationID.String()))
	}
}

// transitionRequest builds the per-item transition request sharing the bulk
// call's correlation id.
func transitionRequest(entity *models.Entity, req models.BulkOperationRequest) models.TransitionRequest {
	return models.TransitionRequest{
		EntityID:      entity.ID,
		TargetState:   req.TargetState,
		Actor:         req.Actor,
		Comments:      req.Comments,
		CorrelationID: req.CorrelationID,
		Context:       req.Context,
	}
}

// classifyLoadError maps store load failures onto the taxonomy.
func classifyLoadError(id uuid.UUID, err error) error {
	if errors.Is(err, repositories.ErrEntityNotFound) {
		return services.NewValidationError(fmt.Sprintf("entity not found: %s", id))
	}
	return services.WrapSystemic("entity load failed", err)
}

// recordFailure adds a per-item failure with its caller-safe detail.
func recordFailure(result *models.BulkOperationResult, id uuid.UUID, err error) {
	result.FailedIDs = append(result.FailedIDs, id)
	result.FailureDetails[id.String()] = services.PublicDetailOf(err)
}

// abortRemaining marks every id from the abort point on as failed so the
// total always equals successful plus failed.
func abortRemaining(result *models.BulkOperationResult, ids []uuid.UUID, err error) {
	detail := services.PublicDetailOf(err)
	for _, id := range ids {
		if _, seen := result.FailureDetails[id.String()]; seen {
			continue
		}
		result.FailedIDs = append(result.FailedIDs, id)
		result.FailureDetails[id.String()] = detail
	}
}

// failAll fails the entire call with one error; used for whole-call
// validation rejections before any processing.
func failAll(result *models.BulkOperationResult, err error) *models.BulkOperationResult {
	result.Warnings = append(result.Warnings, services.PublicDetailOf(err))
	result.Finalize()
	return result
}
