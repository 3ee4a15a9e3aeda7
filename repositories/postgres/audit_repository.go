package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
	"go.uber.org/zap"
)

const auditColumns = `id, correlation_id, event_type, entity_type, entity_id, actor_id,
	       details, ip_address, user_agent, security_event, risk_level,
	       created_at, retention_until`

// AuditRepository implements repositories.AuditRepository over PostgreSQL.
// The table is append-only: no update or delete statements exist here.
type AuditRepository struct {
	db     *DB
	tx     repositories.Transaction
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// WithTx returns a repository instance bound to the transaction
func (r *AuditRepository) WithTx(tx repositories.Transaction) repositories.AuditRepository {
	return &AuditRepository{
		db:     r.db,
		tx:     tx,
		logger: r.logger,
	}
}

func (r *AuditRepository) executor() Executor {
	return executorFor(r.db, r.tx)
}

// Insert appends a new audit entry
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (
			id, correlation_id, event_type, entity_type, entity_id, actor_id,
			details, ip_address, user_agent, security_event, risk_level,
			created_at, retention_until
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.executor().ExecContext(ctx, query,
		entry.ID,
		entry.CorrelationID,
		entry.EventType,
		entry.EntityType,
		entry.EntityID,
		entry.ActorID,
		[]byte(entry.Details),
		entry.IPAddress,
		entry.UserAgent,
		entry.SecurityEvent,
		entry.RiskLevel,
		entry.CreatedAt,
		entry.RetentionUntil,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	r.logger.Debug("audit entry inserted",
		zap.String("id", entry.ID.String()),
		zap.String("event_type", string(entry.EventType)))
	return nil
}

// GetByID retrieves an audit entry by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_entries WHERE id = $1`, auditColumns)

	entry := &models.AuditEntry{}
	var details []byte

	err := r.executor().QueryRowContext(ctx, query, id).Scan(
		&entry.ID,
		&entry.CorrelationID,
		&entry.EventType,
		&entry.EntityType,
		&entry.EntityID,
		&entry.ActorID,
		&details,
		&entry.IPAddress,
		&entry.UserAgent,
		&entry.SecurityEvent,
		&entry.RiskLevel,
		&entry.CreatedAt,
		&entry.RetentionUntil,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("audit entry not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}

	entry.Details = details
	return entry, nil
}

// GetByCorrelationID retrieves every entry produced by one logical action
func (r *AuditRepository) GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]*models.AuditEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM audit_entries
		WHERE correlation_id = $1
		ORDER BY created_at ASC
	`, auditColumns)

	return r.queryEntries(ctx, query, correlationID)
}

// GetByEntityID retrieves entries for one entity with pagination
func (r *AuditRepository) GetByEntityID(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*models.AuditEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM audit_entries
		WHERE entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, auditColumns)

	return r.queryEntries(ctx, query, entityID, limit, offset)
}

// ListRetentionExpired retrieves purge candidates for the external reaper
func (r *AuditRepository) ListRetentionExpired(ctx context.Context, asOf time.Time, limit int) ([]*models.AuditEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM audit_entries
		WHERE retention_until <= $1
		ORDER BY retention_until ASC
		LIMIT $2
	`, auditColumns)

	return r.queryEntries(ctx, query, asOf, limit)
}

// queryEntries is a helper method to query multiple audit entries
func (r *AuditRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEntry, error) {
	rows, err := r.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		var details []byte
		err := rows.Scan(
			&entry.ID,
			&entry.CorrelationID,
			&entry.EventType,
			&entry.EntityType,
			&entry.EntityID,
			&entry.ActorID,
			&details,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.SecurityEvent,
			&entry.RiskLevel,
			&entry.CreatedAt,
			&entry.RetentionUntil,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Details = details
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entry rows: %w", err)
	}

	return entries, nil
}
