package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
)

// AuditRepository is an append-only in-memory AuditRepository.
type AuditRepository struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
	byID    map[uuid.UUID]*models.AuditEntry
}

// NewAuditRepository creates an empty in-memory audit repository.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{
		byID: make(map[uuid.UUID]*models.AuditEntry),
	}
}

// Insert appends a new audit entry.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(entry)
	return nil
}

// append stores the entry without locking; callers hold the lock or own a
// committed transaction flush.
func (r *AuditRepository) append(entry *models.AuditEntry) {
	if _, exists := r.byID[entry.ID]; exists {
		return // append-only, duplicates ignored
	}
	r.entries = append(r.entries, entry)
	r.byID[entry.ID] = entry
}

// GetByID retrieves an audit entry by ID.
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("audit entry not found: %s", id)
	}
	return entry, nil
}

// GetByCorrelationID retrieves every entry produced by one logical action.
func (r *AuditRepository) GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range r.entries {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetByEntityID retrieves entries for one entity, newest first.
func (r *AuditRepository) GetByEntityID(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*models.AuditEntry
	for _, e := range r.entries {
		if e.EntityID != nil && *e.EntityID == entityID {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// ListRetentionExpired retrieves entries whose retention horizon has passed.
func (r *AuditRepository) ListRetentionExpired(ctx context.Context, asOf time.Time, limit int) ([]*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range r.entries {
		if e.RetentionUntil.Before(asOf) {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// WithTx returns a repository view that buffers inserts until the
// transaction commits, so rolled-back batches leave no entries behind.
func (r *AuditRepository) WithTx(tx repositories.Transaction) repositories.AuditRepository {
	if mtx, ok := tx.(*memoryTx); ok && mtx.audit == r {
		return &txAuditRepository{repo: r, tx: mtx}
	}
	return r
}

// Count returns the number of stored entries; used by tests.
func (r *AuditRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// txAuditRepository buffers inserts on the transaction.
type txAuditRepository struct {
	repo *AuditRepository
	tx   *memoryTx
}

func (t *txAuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	t.tx.bufferAudit(entry)
	return nil
}

func (t *txAuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	return t.repo.GetByID(ctx, id)
}

func (t *txAuditRepository) GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]*models.AuditEntry, error) {
	return t.repo.GetByCorrelationID(ctx, correlationID)
}

func (t *txAuditRepository) GetByEntityID(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*models.AuditEntry, error) {
	return t.repo.GetByEntityID(ctx, entityID, limit, offset)
}

func (t *txAuditRepository) ListRetentionExpired(ctx context.Context, asOf time.Time, limit int) ([]*models.AuditEntry, error) {
	return t.repo.ListRetentionExpired(ctx, asOf, limit)
}

func (t *txAuditRepository) WithTx(tx repositories.Transaction) repositories.AuditRepository {
	return t
}
