package permissions

import (
	"context"

	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
	"go.uber.org/zap"
)

// Permission names used by the built-in lifecycle definitions.
const (
	PermSubmit   = "can_submit"
	PermApprove  = "can_approve"
	PermReject   = "can_reject"
	PermStart    = "can_start"
	PermComplete = "can_complete"
	PermClose    = "can_close"
	PermReopen   = "can_reopen"
	PermCancel   = "can_cancel"
	PermResolve  = "can_resolve"
	PermConfirm  = "can_confirm"
	PermDispute  = "can_dispute"
	PermSettle   = "can_settle"
	PermUpdate   = "can_update"
	PermAssign   = "can_assign"
)

// RoleEvaluator grants permissions from a static role table, with explicit
// per-actor grants (e.g. token claims) checked first.
type RoleEvaluator struct {
	grants map[string]map[string]bool // role -> permission set
	logger *zap.Logger
}

// NewRoleEvaluator creates an evaluator over the given role->permissions table.
func NewRoleEvaluator(grants map[string][]string, logger *zap.Logger) *RoleEvaluator {
	table := make(map[string]map[string]bool, len(grants))
	for role, perms := range grants {
		set := make(map[string]bool, len(perms))
		for _, p := range perms {
			set[p] = true
		}
		table[role] = set
	}
	return &RoleEvaluator{grants: table, logger: logger}
}

// DefaultGrants returns the built-in role table.
func DefaultGrants() map[string][]string {
	return map[string][]string{
		"requester": {PermSubmit, PermCancel, PermUpdate},
		"worker":    {PermStart, PermComplete, PermResolve, PermUpdate},
		"approver":  {PermApprove, PermReject, PermConfirm, PermDispute, PermUpdate, PermAssign},
		"supervisor": {
			PermSubmit, PermApprove, PermReject, PermStart, PermComplete,
			PermClose, PermCancel, PermResolve, PermConfirm, PermDispute,
			PermSettle, PermUpdate, PermAssign,
		},
		// Reopening a terminal state is deliberately restricted to admin.
		"admin": {
			PermSubmit, PermApprove, PermReject, PermStart, PermComplete,
			PermClose, PermReopen, PermCancel, PermResolve, PermConfirm,
			PermDispute, PermSettle, PermUpdate, PermAssign,
		},
	}
}

// NewDefaultEvaluator creates a RoleEvaluator with the built-in role table.
func NewDefaultEvaluator(logger *zap.Logger) *RoleEvaluator {
	return NewRoleEvaluator(DefaultGrants(), logger)
}

// HasPermission implements repositories.PermissionEvaluator.
func (e *RoleEvaluator) HasPermission(ctx context.Context, actor models.Actor, permission string, entity *models.Entity) (bool, error) {
	for _, p := range actor.Permissions {
		if p == permission {
			return true, nil
		}
	}
	for _, role := range actor.Roles {
		if set, ok := e.grants[role]; ok && set[permission] {
			return true, nil
		}
	}
	e.logger.Debug("permission not granted",
		zap.String("actor_id", actor.ID.String()),
		zap.String("permission", permission))
	return false, nil
}

var _ repositories.PermissionEvaluator = (*RoleEvaluator)(nil)
