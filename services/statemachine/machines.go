package statemachine

import (
	"errors"

	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/services/permissions"
)

// Guard predicates shared by the built-in definitions.

func guardVendorAssigned(entity *models.Entity) error {
	if entity.VendorID == nil {
		return errors.New("no vendor assigned")
	}
	return nil
}

func guardAssigneeSet(entity *models.Entity) error {
	if entity.AssigneeID == nil {
		return errors.New("no assignee set")
	}
	return nil
}

func guardHasTitle(entity *models.Entity) error {
	title, _ := entity.Fields["title"].(string)
	if title == "" {
		return errors.New("title must not be empty")
	}
	return nil
}

func guardEstimateApproved(entity *models.Entity) error {
	if _, ok := entity.Fields["estimate"]; !ok {
		return nil
	}
	if approved, _ := entity.Fields["estimate_approved"].(bool); !approved {
		return errors.New("cost estimate present but not approved")
	}
	return nil
}

// NewWorkOrderDefinition declares the work order lifecycle.
// CLOSED and CANCELLED are terminal; CLOSED carries the reopen edge.
func NewWorkOrderDefinition() *Definition {
	b := NewBuilder(models.EntityTypeWorkOrder, models.StateDraft)
	b.States(models.StateSubmitted, models.StateApproved, models.StateRejected,
		models.StateInProgress, models.StateCompleted)
	b.Terminal(models.StateClosed, models.StateCancelled)

	b.Edge(models.StateDraft, models.StateSubmitted).
		Guard("work_order_has_title", guardHasTitle).
		Permission(permissions.PermSubmit)
	b.Edge(models.StateDraft, models.StateApproved).
		Permission(permissions.PermApprove)
	b.Edge(models.StateDraft, models.StateCancelled).
		Permission(permissions.PermCancel)

	b.Edge(models.StateSubmitted, models.StateApproved).
		Guard("vendor_assigned", guardVendorAssigned).
		Guard("estimate_approved", guardEstimateApproved).
		Permission(permissions.PermApprove)
	b.Edge(models.StateSubmitted, models.StateRejected).
		Permission(permissions.PermReject).
		RequireComment()
	b.Edge(models.StateSubmitted, models.StateDraft)

	b.Edge(models.StateApproved, models.StateInProgress).
		Guard("vendor_assigned", guardVendorAssigned).
		Permission(permissions.PermStart)
	b.Edge(models.StateRejected, models.StateDraft)

	b.Edge(models.StateInProgress, models.StateCompleted).
		Permission(permissions.PermComplete)
	b.Edge(models.StateInProgress, models.StateCancelled).
		Permission(permissions.PermCancel).
		RequireComment()

	b.Edge(models.StateCompleted, models.StateClosed).
		Permission(permissions.PermClose)

	b.Reopen(models.StateClosed, models.StateInProgress, permissions.PermReopen)
	return b.MustBuild()
}

// NewTicketDefinition declares the ticket lifecycle. Resolving always
// requires a comment describing the resolution.
func NewTicketDefinition() *Definition {
	b := NewBuilder(models.EntityTypeTicket, models.StateOpen)
	b.States(models.StateInProgress, models.StateResolved)
	b.Terminal(models.StateClosed)

	b.Edge(models.StateOpen, models.StateInProgress).
		Guard("assignee_set", guardAssigneeSet).
		Permission(permissions.PermStart)
	b.Edge(models.StateOpen, models.StateResolved).
		Permission(permissions.PermResolve).
		RequireComment()

	b.Edge(models.StateInProgress, models.StateResolved).
		Permission(permissions.PermResolve).
		RequireComment()
	b.Edge(models.StateInProgress, models.StateOpen)

	b.Edge(models.StateResolved, models.StateInProgress).
		RequireComment()
	b.Edge(models.StateResolved, models.StateClosed).
		Permission(permissions.PermClose)

	b.Reopen(models.StateClosed, models.StateOpen, permissions.PermReopen)
	return b.MustBuild()
}

// NewTaskDefinition declares the task lifecycle.
func NewTaskDefinition() *Definition {
	b := NewBuilder(models.EntityTypeTask, models.StateTodo)
	b.States(models.StateInProgress, models.StateBlocked)
	b.Terminal(models.StateDone, models.StateCancelled)

	b.Edge(models.StateTodo, models.StateInProgress).
		Guard("assignee_set", guardAssigneeSet)
	b.Edge(models.StateTodo, models.StateCancelled).
		Permission(permissions.PermCancel)

	b.Edge(models.StateInProgress, models.StateBlocked).
		RequireComment()
	b.Edge(models.StateInProgress, models.StateDone).
		Permission(permissions.PermComplete)
	b.Edge(models.StateInProgress, models.StateCancelled).
		Permission(permissions.PermCancel).
		RequireComment()

	b.Edge(models.StateBlocked, models.StateInProgress)

	b.Reopen(models.StateDone, models.StateInProgress, permissions.PermReopen)
	return b.MustBuild()
}
