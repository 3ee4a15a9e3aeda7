package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
	"go.uber.org/zap"
)

// DefaultRetention is the audit retention horizon when none is configured.
const DefaultRetention = 90 * 24 * time.Hour

// Service records immutable, correlation-linked, PII-redacted audit entries.
// Writes are synchronous: a state transition is not complete until its entry
// is persisted, so callers see the insert error if the store is down.
type Service struct {
	repo      repositories.AuditRepository
	redactor  *Redactor
	retention time.Duration
	logger    *zap.Logger
}

// NewService creates an audit service with the given retention horizon.
// A zero retention falls back to DefaultRetention.
func NewService(repo repositories.AuditRepository, redactor *Redactor, retention time.Duration, logger *zap.Logger) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Service{
		repo:      repo,
		redactor:  redactor,
		retention: retention,
		logger:    logger,
	}
}

// WithTx returns a service writing through the transaction-bound repository,
// so per-item entries of a rolled-back batch never become visible.
func (s *Service) WithTx(tx repositories.Transaction) *Service {
	return &Service{
		repo:      s.repo.WithTx(tx),
		redactor:  s.redactor,
		retention: s.retention,
		logger:    s.logger,
	}
}

// Redactor exposes the configured redactor for callers that pre-redact.
func (s *Service) Redactor() *Redactor {
	return s.redactor
}

// EnsureCorrelation returns id, or a fresh correlation id when id is zero.
func EnsureCorrelation(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

// LogEntityCreated records a CREATED entry.
func (s *Service) LogEntityCreated(ctx context.Context, correlationID uuid.UUID, entity *models.Entity, actorID uuid.UUID, changes map[string]interface{}, rc models.RequestContext) error {
	entry := models.NewAuditEntry(correlationID, models.AuditEventCreated, entity.EntityType, actorID, s.retention).
		WithEntity(entity.ID).
		WithRequestContext(rc)
	entry.Details = s.redactor.RedactValue(models.ChangeDetails{Changes: changes})
	return s.insert(ctx, entry)
}

// LogEntityUpdated records an UPDATED entry with the redacted change set.
func (s *Service) LogEntityUpdated(ctx context.Context, correlationID uuid.UUID, entity *models.Entity, actorID uuid.UUID, changes map[string]interface{}, rc models.RequestContext) error {
	entry := models.NewAuditEntry(correlationID, models.AuditEventUpdated, entity.EntityType, actorID, s.retention).
		WithEntity(entity.ID).
		WithRequestContext(rc)
	entry.Details = s.redactor.RedactValue(models.ChangeDetails{Changes: changes})
	return s.insert(ctx, entry)
}

// LogEntityDeleted records a DELETED entry.
func (s *Service) LogEntityDeleted(ctx context.Context, correlationID uuid.UUID, entity *models.Entity, actorID uuid.UUID, reason string, rc models.RequestContext) error {
	entry := models.NewAuditEntry(correlationID, models.AuditEventDeleted, entity.EntityType, actorID, s.retention).
		WithEntity(entity.ID).
		WithRequestContext(rc)
	entry.Details = s.redactor.RedactValue(models.ChangeDetails{Reason: reason})
	return s.insert(ctx, entry)
}

// LogStateTransition records a STATE_CHANGED entry. Written synchronously
// after a successful commit, before the caller sees the result.
func (s *Service) LogStateTransition(ctx context.Context, correlationID uuid.UUID, entity *models.Entity, actorID uuid.UUID, details models.StateTransitionDetails, rc models.RequestContext) error {
	entry := models.NewAuditEntry(correlationID, models.AuditEventStateChanged, entity.EntityType, actorID, s.retention).
		WithEntity(entity.ID).
		WithRequestContext(rc)
	entry.Details = s.redactor.RedactValue(details)
	return s.insert(ctx, entry)
}

// LogBulkOperation records the single BULK_OPERATION summary entry of a bulk
// call, including attempted-and-rolled-back ones.
func (s *Service) LogBulkOperation(ctx context.Context, correlationID uuid.UUID, entityType models.EntityType, actorID uuid.UUID, details models.BulkOperationDetails, rc models.RequestContext) error {
	entry := models.NewAuditEntry(correlationID, models.AuditEventBulkOperation, entityType, actorID, s.retention).
		WithRequestContext(rc)
	entry.Details = s.redactor.RedactValue(details)
	return s.insert(ctx, entry)
}

// LogPermissionDenial records a PERMISSION_DENIED security entry. Denials are
// always recorded even though the action did not occur.
func (s *Service) LogPermissionDenial(ctx context.Context, correlationID uuid.UUID, entity *models.Entity, actorID uuid.UUID, details models.PermissionDenialDetails, rc models.RequestContext) error {
	entry := models.NewAuditEntry(correlationID, models.AuditEventPermissionDenied, entity.EntityType, actorID, s.retention).
		WithEntity(entity.ID).
		WithRequestContext(rc).
		WithSecurityFlag(details.RiskLevel)
	entry.Details = s.redactor.RedactValue(details)
	return s.insert(ctx, entry)
}

// GetByCorrelationID reconstructs everything caused by one logical action.
func (s *Service) GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]*models.AuditEntry, error) {
	return s.repo.GetByCorrelationID(ctx, correlationID)
}

// ListRetentionExpired exposes purge candidates to the external reaper. The
// service never deletes entries on its own.
func (s *Service) ListRetentionExpired(ctx context.Context, asOf time.Time, limit int) ([]*models.AuditEntry, error) {
	return s.repo.ListRetentionExpired(ctx, asOf, limit)
}

func (s *Service) insert(ctx context.Context, entry *models.AuditEntry) error {
	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.Error("failed to insert audit entry",
			zap.Error(err),
			zap.String("event_type", string(entry.EventType)),
			zap.String("correlation_id", entry.CorrelationID.String()))
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	s.logger.Debug("audit entry recorded",
		zap.String("event_type", string(entry.EventType)),
		zap.String("correlation_id", entry.CorrelationID.String()))
	return nil
}
