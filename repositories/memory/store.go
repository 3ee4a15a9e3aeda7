package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
)

// EntityStore is an in-memory EntityStore with compare-and-swap semantics,
// used by tests and local runs. Transactions take the store lock for their
// whole lifetime, so the rollback law holds at the cost of serializing
// concurrent writers for the duration of a batch.
type EntityStore struct {
	mu       sync.Mutex
	entities map[uuid.UUID]*models.Entity
}

// NewEntityStore creates an empty in-memory store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities: make(map[uuid.UUID]*models.Entity),
	}
}

// Load retrieves an entity with its current version.
func (s *EntityStore) Load(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

func (s *EntityStore) load(id uuid.UUID) (*models.Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repositories.ErrEntityNotFound, id)
	}
	return e.Clone(), nil
}

// Create persists a new entity at version 1.
func (s *EntityStore) Create(ctx context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(entity)
}

func (s *EntityStore) create(entity *models.Entity) error {
	if _, exists := s.entities[entity.ID]; exists {
		return fmt.Errorf("entity already exists: %s", entity.ID)
	}
	s.entities[entity.ID] = entity.Clone()
	return nil
}

// CompareAndSwap writes iff the stored version still equals expectedVersion.
func (s *EntityStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, newState models.State, fields map[string]interface{}, assignee *uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compareAndSwap(id, expectedVersion, newState, fields, assignee)
}

func (s *EntityStore) compareAndSwap(id uuid.UUID, expectedVersion int64, newState models.State, fields map[string]interface{}, assignee *uuid.UUID) (bool, error) {
	e, ok := s.entities[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", repositories.ErrEntityNotFound, id)
	}
	if e.Version != expectedVersion {
		return false, nil
	}
	now := time.Now().UTC()
	if e.State != newState {
		e.StateEnteredAt = now
	}
	e.State = newState
	for k, v := range fields {
		e.Fields[k] = v
	}
	if assignee != nil {
		id := *assignee
		e.AssigneeID = &id
	}
	e.Version++
	e.UpdatedAt = now
	return true, nil
}

// WithTx returns a store view bound to the transaction. The transaction
// already holds the store lock, so the view operates lock-free.
func (s *EntityStore) WithTx(tx repositories.Transaction) repositories.EntityStore {
	if mtx, ok := tx.(*memoryTx); ok && mtx.store == s {
		return &txEntityStore{store: s}
	}
	return s
}

// txEntityStore is an EntityStore view used inside an open transaction.
type txEntityStore struct {
	store *EntityStore
}

func (t *txEntityStore) Load(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return t.store.load(id)
}

func (t *txEntityStore) Create(ctx context.Context, entity *models.Entity) error {
	return t.store.create(entity)
}

func (t *txEntityStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, newState models.State, fields map[string]interface{}, assignee *uuid.UUID) (bool, error) {
	return t.store.compareAndSwap(id, expectedVersion, newState, fields, assignee)
}

func (t *txEntityStore) WithTx(tx repositories.Transaction) repositories.EntityStore {
	return t
}

// snapshot deep-copies the entity map for rollback.
func (s *EntityStore) snapshot() map[uuid.UUID]*models.Entity {
	snap := make(map[uuid.UUID]*models.Entity, len(s.entities))
	for id, e := range s.entities {
		snap[id] = e.Clone()
	}
	return snap
}

func (s *EntityStore) restore(snap map[uuid.UUID]*models.Entity) {
	s.entities = snap
}
