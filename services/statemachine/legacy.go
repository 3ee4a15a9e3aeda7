package statemachine

import (
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/services/permissions"
)

// legacyTransitionRule is the row shape of the old attendance module's
// mutable transition table. The old module predates the declarative builder
// and cannot implement Machine directly; AdaptLegacyRules maps its rows onto
// a Definition so attendance runs behind the same contract as everything
// else.
type legacyTransitionRule struct {
	FromStatus string
	ToStatus   string
	Role       string // legacy permission name, already aligned with permission constants
	NeedsNote  bool
	Final      bool // marks ToStatus as an end state
	Reopen     bool
}

// legacyAttendanceRules is the old attendance transition table, carried over
// row for row.
var legacyAttendanceRules = []legacyTransitionRule{
	{FromStatus: "RECORDED", ToStatus: "CONFIRMED", Role: permissions.PermConfirm},
	{FromStatus: "RECORDED", ToStatus: "DISPUTED", Role: permissions.PermDispute, NeedsNote: true},
	{FromStatus: "DISPUTED", ToStatus: "CONFIRMED", Role: permissions.PermConfirm, NeedsNote: true},
	{FromStatus: "DISPUTED", ToStatus: "RECORDED", NeedsNote: true},
	{FromStatus: "CONFIRMED", ToStatus: "SETTLED", Role: permissions.PermSettle, Final: true},
	{FromStatus: "SETTLED", ToStatus: "RECORDED", Role: permissions.PermReopen, NeedsNote: true, Reopen: true},
}

// AdaptLegacyRules converts a legacy rule table into an immutable Definition.
func AdaptLegacyRules(entityType models.EntityType, initial models.State, rules []legacyTransitionRule) *Definition {
	b := NewBuilder(entityType, initial)

	for _, rule := range rules {
		from := models.State(rule.FromStatus)
		to := models.State(rule.ToStatus)
		if rule.Final {
			b.Terminal(to)
		} else {
			b.States(from, to)
		}
	}

	for _, rule := range rules {
		from := models.State(rule.FromStatus)
		to := models.State(rule.ToStatus)
		if rule.Reopen {
			b.Reopen(from, to, rule.Role)
			continue
		}
		eb := b.Edge(from, to)
		if rule.Role != "" {
			eb.Permission(rule.Role)
		}
		if rule.NeedsNote {
			eb.RequireComment()
		}
	}
	return b.MustBuild()
}

// NewAttendanceDefinition builds the attendance lifecycle from the legacy
// rule table.
func NewAttendanceDefinition() *Definition {
	return AdaptLegacyRules(models.EntityTypeAttendanceRecord, models.StateRecorded, legacyAttendanceRules)
}
