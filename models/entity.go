package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityType identifies which lifecycle definition governs an entity.
type EntityType string

const (
	EntityTypeWorkOrder        EntityType = "work_order"
	EntityTypeTask             EntityType = "task"
	EntityTypeAttendanceRecord EntityType = "attendance_record"
	EntityTypeTicket           EntityType = "ticket"
)

// State is a lifecycle state name, e.g. "DRAFT" or "APPROVED".
type State string

// Work order states
const (
	StateDraft      State = "DRAFT"
	StateSubmitted  State = "SUBMITTED"
	StateApproved   State = "APPROVED"
	StateRejected   State = "REJECTED"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateClosed     State = "CLOSED"
	StateCancelled  State = "CANCELLED"
)

// Ticket states
const (
	StateOpen     State = "OPEN"
	StateResolved State = "RESOLVED"
)

// Task states
const (
	StateTodo    State = "TODO"
	StateBlocked State = "BLOCKED"
	StateDone    State = "DONE"
)

// Attendance record states
const (
	StateRecorded  State = "RECORDED"
	StateConfirmed State = "CONFIRMED"
	StateDisputed  State = "DISPUTED"
	StateSettled   State = "SETTLED"
)

// Entity is the versioned business record the lifecycle engine operates on.
// Version is a monotonically increasing counter bumped by the store on every
// successful compare-and-swap write; it is never modified by callers.
type Entity struct {
	ID         uuid.UUID              `json:"id" db:"id"`
	EntityType EntityType             `json:"entity_type" db:"entity_type"`
	State      State                  `json:"state" db:"state"`
	Version    int64                  `json:"version" db:"version"`
	AssigneeID *uuid.UUID             `json:"assignee_id,omitempty" db:"assignee_id"`
	VendorID   *uuid.UUID             `json:"vendor_id,omitempty" db:"vendor_id"`
	Fields     map[string]interface{} `json:"fields" db:"fields"` // domain payload, schema-free
	CreatedBy  uuid.UUID              `json:"created_by" db:"created_by"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at" db:"updated_at"`
	// StateEnteredAt tracks when the current state was entered, used for
	// duration-in-previous-state on transition audit entries.
	StateEnteredAt time.Time `json:"state_entered_at" db:"state_entered_at"`
}

// NewEntity creates an entity in the given initial state with version 1.
func NewEntity(entityType EntityType, initial State, createdBy uuid.UUID) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:             uuid.New(),
		EntityType:     entityType,
		State:          initial,
		Version:        1,
		Fields:         make(map[string]interface{}),
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
		StateEnteredAt: now,
	}
}

// Clone returns a deep-enough copy for snapshot/compensation purposes.
// Fields values are copied shallowly; the engine never mutates nested values.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Fields = make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		c.Fields[k] = v
	}
	if e.AssigneeID != nil {
		id := *e.AssigneeID
		c.AssigneeID = &id
	}
	if e.VendorID != nil {
		id := *e.VendorID
		c.VendorID = &id
	}
	return &c
}

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID          uuid.UUID `json:"id"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions,omitempty"` // explicit grants, e.g. from token claims
}

// HasRole reports whether the actor carries the given role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequestContext carries transport metadata recorded on audit entries.
type RequestContext struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
