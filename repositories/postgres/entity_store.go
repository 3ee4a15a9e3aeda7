package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
	"go.uber.org/zap"
)

// EntityStore implements repositories.EntityStore over PostgreSQL. Writes go
// through a version-guarded UPDATE so a stale read can never overwrite a
// newer row.
type EntityStore struct {
	db     *DB
	tx     repositories.Transaction
	logger *zap.Logger
}

// NewEntityStore creates a new entity store
func NewEntityStore(db *DB, logger *zap.Logger) repositories.EntityStore {
	return &EntityStore{
		db:     db,
		logger: logger,
	}
}

// WithTx returns a store instance bound to the transaction
func (s *EntityStore) WithTx(tx repositories.Transaction) repositories.EntityStore {
	return &EntityStore{
		db:     s.db,
		tx:     tx,
		logger: s.logger,
	}
}

func (s *EntityStore) executor() Executor {
	return executorFor(s.db, s.tx)
}

// Load retrieves an entity with its current version.
func (s *EntityStore) Load(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	query := `
		SELECT id, entity_type, state, version, assignee_id, vendor_id, fields,
		       created_by, created_at, updated_at, state_entered_at
		FROM entities
		WHERE id = $1
	`

	entity := &models.Entity{}
	var fieldsRaw []byte

	err := s.executor().QueryRowContext(ctx, query, id).Scan(
		&entity.ID,
		&entity.EntityType,
		&entity.State,
		&entity.Version,
		&entity.AssigneeID,
		&entity.VendorID,
		&fieldsRaw,
		&entity.CreatedBy,
		&entity.CreatedAt,
		&entity.UpdatedAt,
		&entity.StateEnteredAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", repositories.ErrEntityNotFound, id)
		}
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}

	if len(fieldsRaw) > 0 {
		if err := json.Unmarshal(fieldsRaw, &entity.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode entity fields: %w", err)
		}
	}
	if entity.Fields == nil {
		entity.Fields = make(map[string]interface{})
	}
	return entity, nil
}

// Create persists a new entity at version 1.
func (s *EntityStore) Create(ctx context.Context, entity *models.Entity) error {
	query := `
		INSERT INTO entities (
			id, entity_type, state, version, assignee_id, vendor_id, fields,
			created_by, created_at, updated_at, state_entered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	fieldsRaw, err := json.Marshal(entity.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode entity fields: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.executor().ExecContext(ctx, query,
		entity.ID,
		entity.EntityType,
		entity.State,
		int64(1),
		entity.AssigneeID,
		entity.VendorID,
		fieldsRaw,
		entity.CreatedBy,
		now,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	s.logger.Debug("entity created",
		zap.String("id", entity.ID.String()),
		zap.String("entity_type", string(entity.EntityType)))
	return nil
}

// CompareAndSwap writes iff the stored version still equals expectedVersion.
// The WHERE clause carries the version guard; zero rows affected with an
// existing row means a concurrent writer won.
func (s *EntityStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, newState models.State, fields map[string]interface{}, assignee *uuid.UUID) (bool, error) {
	query := `
		UPDATE entities
		SET state = $3,
		    state_entered_at = CASE WHEN state <> $3 THEN NOW() ELSE state_entered_at END,
		    fields = fields || $4::jsonb,
		    assignee_id = COALESCE($5, assignee_id),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
	`

	if fields == nil {
		fields = map[string]interface{}{}
	}
	fieldsRaw, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("failed to encode entity fields: %w", err)
	}

	result, err := s.executor().ExecContext(ctx, query, id, expectedVersion, newState, fieldsRaw, assignee)
	if err != nil {
		return false, fmt.Errorf("failed to update entity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing row.
	var exists bool
	if err := s.executor().QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check entity existence: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: %s", repositories.ErrEntityNotFound, id)
	}
	return false, nil
}
