package statemachine

import (
	"errors"
	"testing"

	"github.com/opsdeck/workstream/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Build(t *testing.T) {
	def, err := NewBuilder(models.EntityTypeTicket, models.StateOpen).
		States(models.StateInProgress).
		Terminal(models.StateClosed).
		Edge(models.StateOpen, models.StateInProgress).Done().
		Edge(models.StateInProgress, models.StateClosed).Done().
		Reopen(models.StateClosed, models.StateOpen, "can_reopen").
		Build()
	require.NoError(t, err)

	assert.Equal(t, models.EntityTypeTicket, def.EntityType())
	assert.Equal(t, models.StateOpen, def.InitialState())
	assert.True(t, def.HasState(models.StateClosed))
	assert.False(t, def.HasState(models.StateResolved))
	assert.True(t, def.IsTerminal(models.StateClosed))
	assert.False(t, def.IsTerminal(models.StateOpen))

	edge, ok := def.EdgeFor(models.StateOpen, models.StateInProgress)
	require.True(t, ok)
	assert.False(t, edge.Reopen)

	reopen, ok := def.EdgeFor(models.StateClosed, models.StateOpen)
	require.True(t, ok)
	assert.True(t, reopen.Reopen)
	assert.True(t, reopen.CommentRequired)
	assert.Equal(t, "can_reopen", reopen.RequiredPermission)
}

func TestBuilder_RejectsUndeclaredState(t *testing.T) {
	_, err := NewBuilder(models.EntityTypeTicket, models.StateOpen).
		Edge(models.StateOpen, models.StateResolved).Done().
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared state")
}

func TestBuilder_RejectsTerminalOutboundWithoutReopen(t *testing.T) {
	_, err := NewBuilder(models.EntityTypeTicket, models.StateOpen).
		Terminal(models.StateClosed).
		Edge(models.StateClosed, models.StateOpen).Done().
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal state")
}

func TestBuilder_RejectsReopenFromNonTerminal(t *testing.T) {
	b := NewBuilder(models.EntityTypeTicket, models.StateOpen)
	b.States(models.StateInProgress)
	b.Edge(models.StateOpen, models.StateInProgress).Permission("can_reopen").markReopen()
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not leave a terminal state")
}

func TestBuilder_RejectsReopenWithoutPermission(t *testing.T) {
	b := NewBuilder(models.EntityTypeTicket, models.StateOpen)
	b.Terminal(models.StateClosed)
	b.Edge(models.StateClosed, models.StateOpen).markReopen()
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elevated permission")
}

func TestBuilder_RejectsDuplicateEdge(t *testing.T) {
	_, err := NewBuilder(models.EntityTypeTicket, models.StateOpen).
		States(models.StateInProgress).
		Edge(models.StateOpen, models.StateInProgress).Done().
		Edge(models.StateOpen, models.StateInProgress).Done().
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate edge")
}

func TestDefinition_OutboundStates(t *testing.T) {
	def := NewWorkOrderDefinition()
	out := def.OutboundStates(models.StateDraft)
	assert.ElementsMatch(t, []models.State{models.StateSubmitted, models.StateApproved, models.StateCancelled}, out)

	assert.Empty(t, def.OutboundStates(models.StateCancelled))
}

func TestGuards_DeclaredOrderPreserved(t *testing.T) {
	def, err := NewBuilder(models.EntityTypeTask, models.StateTodo).
		States(models.StateInProgress).
		Edge(models.StateTodo, models.StateInProgress).
		Guard("first", func(e *models.Entity) error { return errors.New("first failed") }).
		Guard("second", func(e *models.Entity) error { return errors.New("second failed") }).
		Done().
		Build()
	require.NoError(t, err)

	edge, ok := def.EdgeFor(models.StateTodo, models.StateInProgress)
	require.True(t, ok)
	require.Len(t, edge.Guards, 2)
	assert.Equal(t, "first", edge.Guards[0].Name)
	assert.Equal(t, "second", edge.Guards[1].Name)
}

func TestBuiltInDefinitions_Build(t *testing.T) {
	assert.NotPanics(t, func() { NewWorkOrderDefinition() })
	assert.NotPanics(t, func() { NewTicketDefinition() })
	assert.NotPanics(t, func() { NewTaskDefinition() })
	assert.NotPanics(t, func() { NewAttendanceDefinition() })
}
