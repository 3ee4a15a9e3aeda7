package statemachine

import (
	"fmt"

	"github.com/opsdeck/workstream/models"
)

// Guard is a named business-rule predicate attached to an edge. Check must be
// pure: it inspects the entity and never mutates it or performs IO. A non-nil
// error is the human-readable predicate detail surfaced to the caller.
type Guard struct {
	Name  string
	Check func(entity *models.Entity) error
}

// Edge declares one legal (from, to) transition with its rules. Guards are
// evaluated in declared order with short-circuit on first failure.
type Edge struct {
	From               models.State
	To                 models.State
	Guards             []Guard
	RequiredPermission string
	CommentRequired    bool
	// Reopen marks the single allowed outbound edge of a terminal state,
	// gated behind an elevated permission.
	Reopen bool
}

type edgeKey struct {
	from models.State
	to   models.State
}

// Definition is the immutable per-entity-type transition table, built once at
// process start. It is never mutated after Build.
type Definition struct {
	entityType models.EntityType
	initial    models.State
	states     map[models.State]bool
	terminal   map[models.State]bool
	edges      map[edgeKey]*Edge
}

// EntityType returns the entity type this definition governs.
func (d *Definition) EntityType() models.EntityType { return d.entityType }

// InitialState returns the state new entities start in.
func (d *Definition) InitialState() models.State { return d.initial }

// HasState reports whether s is a declared state.
func (d *Definition) HasState(s models.State) bool { return d.states[s] }

// IsTerminal reports whether s is a terminal state.
func (d *Definition) IsTerminal(s models.State) bool { return d.terminal[s] }

// EdgeFor returns the declared edge for (from, to), if any.
func (d *Definition) EdgeFor(from, to models.State) (*Edge, bool) {
	e, ok := d.edges[edgeKey{from: from, to: to}]
	return e, ok
}

// OutboundStates lists the target states reachable from the given state.
func (d *Definition) OutboundStates(from models.State) []models.State {
	var out []models.State
	for key := range d.edges {
		if key.from == from {
			out = append(out, key.to)
		}
	}
	return out
}

// Builder assembles a Definition. Definitions are configuration assembled at
// startup, so construction errors panic via MustBuild.
type Builder struct {
	def  *Definition
	errs []error
}

// NewBuilder starts a definition for the given entity type and initial state.
func NewBuilder(entityType models.EntityType, initial models.State) *Builder {
	b := &Builder{
		def: &Definition{
			entityType: entityType,
			initial:    initial,
			states:     make(map[models.State]bool),
			terminal:   make(map[models.State]bool),
			edges:      make(map[edgeKey]*Edge),
		},
	}
	b.def.states[initial] = true
	return b
}

// States declares non-terminal states.
func (b *Builder) States(states ...models.State) *Builder {
	for _, s := range states {
		b.def.states[s] = true
	}
	return b
}

// Terminal declares terminal states. Outbound edges from a terminal state are
// illegal by construction except one explicitly declared reopen edge.
func (b *Builder) Terminal(states ...models.State) *Builder {
	for _, s := range states {
		b.def.states[s] = true
		b.def.terminal[s] = true
	}
	return b
}

// Edge declares a transition and returns an EdgeBuilder for its rules.
func (b *Builder) Edge(from, to models.State) *EdgeBuilder {
	edge := &Edge{From: from, To: to}
	key := edgeKey{from: from, to: to}
	if _, dup := b.def.edges[key]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate edge %s -> %s", from, to))
	}
	b.def.edges[key] = edge
	return &EdgeBuilder{builder: b, edge: edge}
}

// Reopen declares the elevated-permission edge out of a terminal state.
func (b *Builder) Reopen(from, to models.State, permission string) *Builder {
	b.Edge(from, to).Permission(permission).RequireComment().markReopen()
	return b
}

// Build validates and freezes the definition.
func (b *Builder) Build() (*Definition, error) {
	for key, edge := range b.def.edges {
		if !b.def.states[key.from] {
			return nil, fmt.Errorf("edge %s -> %s: undeclared state %s", key.from, key.to, key.from)
		}
		if !b.def.states[key.to] {
			return nil, fmt.Errorf("edge %s -> %s: undeclared state %s", key.from, key.to, key.to)
		}
		if b.def.terminal[key.from] && !edge.Reopen {
			return nil, fmt.Errorf("edge %s -> %s leaves terminal state without reopen marker", key.from, key.to)
		}
		if edge.Reopen && !b.def.terminal[key.from] {
			return nil, fmt.Errorf("reopen edge %s -> %s does not leave a terminal state", key.from, key.to)
		}
		if edge.Reopen && edge.RequiredPermission == "" {
			return nil, fmt.Errorf("reopen edge %s -> %s requires an elevated permission", key.from, key.to)
		}
	}
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	return b.def, nil
}

// MustBuild is Build for startup configuration; it panics on error.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("invalid state machine definition for %s: %v", b.def.entityType, err))
	}
	return def
}

// EdgeBuilder attaches rules to one edge.
type EdgeBuilder struct {
	builder *Builder
	edge    *Edge
}

// Guard appends a named predicate; guards run in declared order.
func (eb *EdgeBuilder) Guard(name string, check func(entity *models.Entity) error) *EdgeBuilder {
	eb.edge.Guards = append(eb.edge.Guards, Guard{Name: name, Check: check})
	return eb
}

// Permission sets the permission required to traverse the edge.
func (eb *EdgeBuilder) Permission(name string) *EdgeBuilder {
	eb.edge.RequiredPermission = name
	return eb
}

// RequireComment makes a non-empty comment mandatory on the edge.
func (eb *EdgeBuilder) RequireComment() *EdgeBuilder {
	eb.edge.CommentRequired = true
	return eb
}

func (eb *EdgeBuilder) markReopen() *EdgeBuilder {
	eb.edge.Reopen = true
	return eb
}

// Done returns the parent builder for chaining.
func (eb *EdgeBuilder) Done() *Builder {
	return eb.builder
}
