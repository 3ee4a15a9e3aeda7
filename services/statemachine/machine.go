package statemachine

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
	"go.uber.org/zap"
)

// Machine is the single authority on whether a state change is legal,
// permitted, and recorded, for one entity type.
type Machine interface {
	// EntityType returns the entity type this machine governs.
	EntityType() models.EntityType

	// CanTransition checks legality and business-rule guards. Pure: it never
	// mutates state and writes no audit entries.
	CanTransition(ctx context.Context, entity *models.Entity, target models.State, actor models.Actor) error

	// Authorize checks the edge's required permission without side effects.
	Authorize(ctx context.Context, entity *models.Entity, target models.State, actor models.Actor) (bool, error)

	// Preview runs the full pre-write validation (legality, guards,
	// permission, comment requirement) with no writes and no audit entries.
	// Used by dry-run callers.
	Preview(ctx context.Context, entity *models.Entity, req models.TransitionRequest) error

	// Transition validates, authorizes, commits via compare-and-swap, and
	// audits. A permission denial is audited before the caller sees it.
	Transition(ctx context.Context, req models.TransitionRequest) (*models.TransitionResult, error)
}

// BaseStateMachine implements Machine over a Definition. One instance per
// entity type, built at startup; safe for concurrent use.
type BaseStateMachine struct {
	def        *Definition
	store      repositories.EntityStore
	evaluator  repositories.PermissionEvaluator
	auditSvc   *audit.Service
	denialSvc  *audit.Service
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewBaseStateMachine wires a machine for the given definition.
func NewBaseStateMachine(def *Definition, store repositories.EntityStore, evaluator repositories.PermissionEvaluator, auditSvc *audit.Service, dispatcher *Dispatcher, logger *zap.Logger) *BaseStateMachine {
	return &BaseStateMachine{
		def:        def,
		store:      store,
		evaluator:  evaluator,
		auditSvc:   auditSvc,
		denialSvc:  auditSvc,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// EntityType returns the entity type this machine governs.
func (m *BaseStateMachine) EntityType() models.EntityType {
	return m.def.EntityType()
}

// Definition exposes the immutable transition table.
func (m *BaseStateMachine) Definition() *Definition {
	return m.def
}

// WithStorage returns a machine bound to the given store and audit service,
// typically transaction-bound ones from the bulk service's rollback mode.
// Permission-denial audits keep the original binding so a rolled-back batch
// still leaves its security events on record.
func (m *BaseStateMachine) WithStorage(store repositories.EntityStore, auditSvc *audit.Service) *BaseStateMachine {
	return &BaseStateMachine{
		def:        m.def,
		store:      store,
		evaluator:  m.evaluator,
		auditSvc:   auditSvc,
		denialSvc:  m.denialSvc,
		dispatcher: m.dispatcher,
		logger:     m.logger,
	}
}

// CanTransition checks edge legality and evaluates the edge's guards in
// declared order, short-circuiting on the first failure. A self-transition
// (s -> s) is illegal unless explicitly declared.
func (m *BaseStateMachine) CanTransition(ctx context.Context, entity *models.Entity, target models.State, actor models.Actor) error {
	if !m.def.HasState(target) {
		return services.NewIllegalTransition(
			fmt.Sprintf("unknown state %q for %s", target, m.def.EntityType()))
	}

	edge, ok := m.def.EdgeFor(entity.State, target)
	if !ok {
		if m.def.IsTerminal(entity.State) {
			return services.NewIllegalTransition(
				fmt.Sprintf("%s is a terminal state; only its declared reopen edge is legal", entity.State))
		}
		return services.NewIllegalTransition(
			fmt.Sprintf("no transition declared from %s to %s", entity.State, target))
	}

	for _, guard := range edge.Guards {
		if err := guard.Check(entity); err != nil {
			return services.NewBusinessRuleViolated(err.Error()).WithDetail("guard", guard.Name)
		}
	}
	return nil
}

// Authorize delegates to the permission evaluator using the edge's required
// permission. Edges without a permission are open to any actor.
func (m *BaseStateMachine) Authorize(ctx context.Context, entity *models.Entity, target models.State, actor models.Actor) (bool, error) {
	edge, ok := m.def.EdgeFor(entity.State, target)
	if !ok {
		return false, services.NewIllegalTransition(
			fmt.Sprintf("no transition declared from %s to %s", entity.State, target))
	}
	if edge.RequiredPermission == "" {
		return true, nil
	}
	allowed, err := m.evaluator.HasPermission(ctx, actor, edge.RequiredPermission, entity)
	if err != nil {
		return false, services.WrapSystemic("permission evaluation failed", err)
	}
	return allowed, nil
}

// Preview validates without any side effects; see Machine.
func (m *BaseStateMachine) Preview(ctx context.Context, entity *models.Entity, req models.TransitionRequest) error {
	return m.check(ctx, entity, req, false)
}

// Validate runs the same checks as Preview but records a permission-denial
// audit entry before surfacing a denial. Used for real (non-dry-run) calls.
func (m *BaseStateMachine) Validate(ctx context.Context, entity *models.Entity, req models.TransitionRequest) error {
	return m.check(ctx, entity, req, true)
}

// check enforces the validation sequence: legality and guards, permission,
// then the comment requirement.
func (m *BaseStateMachine) check(ctx context.Context, entity *models.Entity, req models.TransitionRequest, audited bool) error {
	if err := m.CanTransition(ctx, entity, req.TargetState, req.Actor); err != nil {
		return err
	}

	allowed, err := m.Authorize(ctx, entity, req.TargetState, req.Actor)
	if err != nil {
		return err
	}
	if !allowed {
		edge, _ := m.def.EdgeFor(entity.State, req.TargetState)
		denial := services.NewPermissionDenied(
			fmt.Sprintf("permission %q required to move %s from %s to %s",
				edge.RequiredPermission, m.def.EntityType(), entity.State, req.TargetState)).
			WithDetail("required_permission", edge.RequiredPermission)
		if audited {
			m.auditDenial(ctx, entity, req, edge)
		}
		return denial
	}

	edge, _ := m.def.EdgeFor(entity.State, req.TargetState)
	if edge.CommentRequired && req.Comments == "" {
		return services.NewCommentRequired(
			fmt.Sprintf("transition from %s to %s requires a comment", entity.State, req.TargetState))
	}
	return nil
}

// Transition performs the full sequence: load, validate, authorize (denial
// audited), comment check, optimistic write, synchronous transition audit,
// then post-commit hooks. A version mismatch yields CONCURRENCY_CONFLICT and
// is never retried here.
func (m *BaseStateMachine) Transition(ctx context.Context, req models.TransitionRequest) (*models.TransitionResult, error) {
	correlationID := audit.EnsureCorrelation(req.CorrelationID)
	req.CorrelationID = correlationID

	result := &models.TransitionResult{
		EntityID:           req.EntityID,
		AuditCorrelationID: correlationID,
	}

	entity, err := m.store.Load(ctx, req.EntityID)
	if err != nil {
		derr := loadError(req.EntityID, err)
		return failResult(result, derr), derr
	}
	result.FromState = entity.State

	return m.transitionLoaded(ctx, entity, req, result)
}

// TransitionLoaded applies a transition to an already-loaded entity snapshot.
// The bulk service uses it to keep one load per item.
func (m *BaseStateMachine) TransitionLoaded(ctx context.Context, entity *models.Entity, req models.TransitionRequest) (*models.TransitionResult, error) {
	correlationID := audit.EnsureCorrelation(req.CorrelationID)
	req.CorrelationID = correlationID
	result := &models.TransitionResult{
		EntityID:           entity.ID,
		FromState:          entity.State,
		AuditCorrelationID: correlationID,
	}
	return m.transitionLoaded(ctx, entity, req, result)
}

func (m *BaseStateMachine) transitionLoaded(ctx context.Context, entity *models.Entity, req models.TransitionRequest, result *models.TransitionResult) (*models.TransitionResult, error) {
	if err := m.Validate(ctx, entity, req); err != nil {
		return failResult(result, err), err
	}

	swapped, err := m.store.CompareAndSwap(ctx, entity.ID, entity.Version, req.TargetState, nil, nil)
	if err != nil {
		derr := services.WrapSystemic("entity write failed", err)
		return failResult(result, derr), derr
	}
	if !swapped {
		derr := services.NewConcurrencyConflict(
			fmt.Sprintf("entity %s changed since it was read (version %d is stale)", entity.ID, entity.Version))
		return failResult(result, derr), derr
	}

	now := time.Now().UTC()
	details := models.StateTransitionDetails{
		FromState:       entity.State,
		ToState:         req.TargetState,
		Reason:          req.Comments,
		DurationInState: now.Sub(entity.StateEnteredAt).Milliseconds(),
	}
	if err := m.auditSvc.LogStateTransition(ctx, req.CorrelationID, entity, req.Actor.ID, details, req.Context); err != nil {
		// The write committed but the mandatory audit record did not; surface
		// the failure rather than report an unaudited success.
		derr := services.WrapSystemic("transition committed but audit write failed", err)
		return failResult(result, derr), derr
	}

	result.Success = true
	result.NewState = req.TargetState

	m.logger.Info("state transition committed",
		zap.String("entity_type", string(m.def.EntityType())),
		zap.String("entity_id", entity.ID.String()),
		zap.String("from_state", string(entity.State)),
		zap.String("to_state", string(req.TargetState)),
		zap.String("correlation_id", req.CorrelationID.String()))

	if m.dispatcher != nil {
		m.dispatcher.Publish(TransitionEvent{
			EntityType:    m.def.EntityType(),
			EntityID:      entity.ID,
			FromState:     entity.State,
			ToState:       req.TargetState,
			ActorID:       req.Actor.ID,
			CorrelationID: req.CorrelationID,
			OccurredAt:    now,
		})
	}
	return result, nil
}

// auditDenial records the security event for a permission denial. An insert
// failure here is logged but does not mask the denial itself.
func (m *BaseStateMachine) auditDenial(ctx context.Context, entity *models.Entity, req models.TransitionRequest, edge *Edge) {
	details := models.PermissionDenialDetails{
		RequiredPermission: edge.RequiredPermission,
		ActionAttempted:    fmt.Sprintf("transition:%s->%s", entity.State, req.TargetState),
		RiskLevel:          denialRiskLevel(edge),
	}
	if err := m.denialSvc.LogPermissionDenial(ctx, req.CorrelationID, entity, req.Actor.ID, details, req.Context); err != nil {
		m.logger.Error("failed to audit permission denial",
			zap.Error(err),
			zap.String("entity_id", entity.ID.String()),
			zap.String("required_permission", edge.RequiredPermission))
	}
}

// denialRiskLevel grades a denial: attempts on reopen or close edges are
// higher-signal than ordinary workflow steps.
func denialRiskLevel(edge *Edge) models.RiskLevel {
	switch {
	case edge.Reopen:
		return models.RiskLevelHigh
	case edge.RequiredPermission == permissions.PermApprove ||
		edge.RequiredPermission == permissions.PermClose ||
		edge.RequiredPermission == permissions.PermSettle:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func failResult(result *models.TransitionResult, err error) *models.TransitionResult {
	result.Success = false
	result.ErrorKind = string(services.KindOf(err))
	var derr *services.DomainError
	if errors.As(err, &derr) {
		result.ErrorDetail = derr.Message
	}
	return result
}

// loadError classifies a store load failure: unknown ids are bad input,
// everything else is environmental.
func loadError(id uuid.UUID, err error) error {
	if errors.Is(err, repositories.ErrEntityNotFound) {
		return services.NewValidationError(fmt.Sprintf("entity not found: %s", id))
	}
	return services.WrapSystemic("entity load failed", err)
}

// Registry resolves the machine for an entity type.
type Registry struct {
	machines map[models.EntityType]*BaseStateMachine
}

// NewRegistry creates a registry over the given machines.
func NewRegistry(machines ...*BaseStateMachine) *Registry {
	r := &Registry{machines: make(map[models.EntityType]*BaseStateMachine, len(machines))}
	for _, m := range machines {
		r.machines[m.EntityType()] = m
	}
	return r
}

// Get returns the machine for entityType.
func (r *Registry) Get(entityType models.EntityType) (*BaseStateMachine, error) {
	m, ok := r.machines[entityType]
	if !ok {
		return nil, services.NewValidationError(fmt.Sprintf("no state machine registered for entity type %q", entityType))
	}
	return m, nil
}
