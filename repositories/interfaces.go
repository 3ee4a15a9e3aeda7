package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
)

// ErrEntityNotFound is returned by EntityStore.Load for unknown ids; adapters
// wrap it so callers can classify the failure as bad input rather than an
// environmental fault.
var ErrEntityNotFound = errors.New("entity not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// EntityStore persists versioned entities. The version counter is bumped
// atomically on every successful write; a write only lands via
// CompareAndSwap, never an unconditional update.
type EntityStore interface {
	// Load retrieves an entity with its current version.
	Load(ctx context.Context, id uuid.UUID) (*models.Entity, error)

	// Create persists a new entity at version 1.
	Create(ctx context.Context, entity *models.Entity) error

	// CompareAndSwap writes newState and the merged fields iff the stored
	// version still equals expectedVersion, bumping the version by one.
	// Returns false (and no error) on a version mismatch; the caller reports
	// that as a concurrency conflict. fields and assignee may be nil when the
	// write is a pure state change.
	CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, newState models.State, fields map[string]interface{}, assignee *uuid.UUID) (bool, error)

	// WithTx returns a new store instance bound to the transaction
	WithTx(tx Transaction) EntityStore
}

// AuditRepository persists audit entries. The store is append-only: there is
// no update or delete surface beyond the retention reaper's purge.
type AuditRepository interface {
	// Insert appends a new audit entry
	Insert(ctx context.Context, entry *models.AuditEntry) error

	// GetByID retrieves an audit entry by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error)

	// GetByCorrelationID retrieves every entry produced by one logical action
	GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]*models.AuditEntry, error)

	// GetByEntityID retrieves entries for one entity with pagination
	GetByEntityID(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*models.AuditEntry, error)

	// ListRetentionExpired retrieves entries whose retention horizon has
	// passed, for consumption by an external reaper. The service itself
	// never deletes.
	ListRetentionExpired(ctx context.Context, asOf time.Time, limit int) ([]*models.AuditEntry, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AuditRepository
}

// PermissionEvaluator yields allow/deny decisions for (actor, permission,
// entity). An error return signals an environmental fault, not a denial.
type PermissionEvaluator interface {
	HasPermission(ctx context.Context, actor models.Actor, permission string, entity *models.Entity) (bool, error)
}

// Repositories aggregates the storage-facing interfaces
type Repositories struct {
	Entities  EntityStore
	AuditLogs AuditRepository
	TxManager TransactionManager
}
