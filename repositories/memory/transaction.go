package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
	"go.uber.org/zap"
)

// TransactionManager implements repositories.TransactionManager over the
// in-memory adapters. Begin takes the store lock and snapshots state;
// Rollback restores the snapshot, Commit discards it. Audit inserts made
// through a tx-bound repository are buffered and flushed on commit, so a
// rolled-back batch leaves no per-item audit entries behind.
type TransactionManager struct {
	store  *EntityStore
	audit  *AuditRepository
	logger *zap.Logger
}

// NewTransactionManager creates a transaction manager for the memory adapters.
func NewTransactionManager(store *EntityStore, audit *AuditRepository, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{
		store:  store,
		audit:  audit,
		logger: logger,
	}
}

// Begin starts a new transaction. The store lock is held until Commit or
// Rollback, serializing concurrent writers for the batch duration.
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	tm.store.mu.Lock()
	tx := &memoryTx{
		store:    tm.store,
		audit:    tm.audit,
		ctx:      ctx,
		logger:   tm.logger,
		snapshot: tm.store.snapshot(),
	}
	tm.logger.Debug("memory transaction started")
	return tx, nil
}

// InTransaction executes a function within a transaction, committing on
// success and rolling back on error.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("failed to rollback memory transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err))
		}
		return err
	}
	return tx.Commit()
}

// memoryTx is a snapshot-based transaction over the memory adapters.
type memoryTx struct {
	store    *EntityStore
	audit    *AuditRepository
	ctx      context.Context
	logger   *zap.Logger
	snapshot map[uuid.UUID]*models.Entity

	mu       sync.Mutex
	done     bool
	buffered []*models.AuditEntry
}

// Commit flushes buffered audit entries and releases the store lock.
func (t *memoryTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	for _, entry := range t.buffered {
		t.audit.append(entry)
	}
	t.buffered = nil
	t.store.mu.Unlock()
	t.logger.Debug("memory transaction committed")
	return nil
}

// Rollback restores the snapshot, drops buffered audit entries, and releases
// the store lock. Rolling back a closed transaction is a no-op.
func (t *memoryTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.store.restore(t.snapshot)
	t.buffered = nil
	t.store.mu.Unlock()
	t.logger.Debug("memory transaction rolled back")
	return nil
}

// Context returns the transaction context.
func (t *memoryTx) Context() context.Context {
	return t.ctx
}

// bufferAudit queues an audit entry for flush at commit time.
func (t *memoryTx) bufferAudit(entry *models.AuditEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffered = append(t.buffered, entry)
}
