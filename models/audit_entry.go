package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEventType classifies the audited action.
type AuditEventType string

const (
	AuditEventCreated          AuditEventType = "CREATED"
	AuditEventUpdated          AuditEventType = "UPDATED"
	AuditEventDeleted          AuditEventType = "DELETED"
	AuditEventStateChanged     AuditEventType = "STATE_CHANGED"
	AuditEventBulkOperation    AuditEventType = "BULK_OPERATION"
	AuditEventPermissionDenied AuditEventType = "PERMISSION_DENIED"
)

// RiskLevel grades the security relevance of a denial entry.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// AuditEntry is an immutable, correlation-linked audit record. Entries are
// append-only: never updated or deleted except by a retention-driven purge
// after RetentionUntil. Details is persisted only after PII redaction.
type AuditEntry struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	CorrelationID  uuid.UUID       `json:"correlation_id" db:"correlation_id"`
	EventType      AuditEventType  `json:"event_type" db:"event_type"`
	EntityType     EntityType      `json:"entity_type" db:"entity_type"`
	EntityID       *uuid.UUID      `json:"entity_id,omitempty" db:"entity_id"`
	ActorID        uuid.UUID       `json:"actor_id" db:"actor_id"`
	Details        json.RawMessage `json:"details" db:"details"` // redacted change payload
	IPAddress      string          `json:"ip_address" db:"ip_address"`
	UserAgent      string          `json:"user_agent" db:"user_agent"`
	SecurityEvent  bool            `json:"security_event" db:"security_event"`
	RiskLevel      *RiskLevel      `json:"risk_level,omitempty" db:"risk_level"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	RetentionUntil time.Time       `json:"retention_until" db:"retention_until"`
}

// TableName returns the table name for the AuditEntry model.
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// NewAuditEntry creates an entry stamped with the given retention horizon.
func NewAuditEntry(correlationID uuid.UUID, eventType AuditEventType, entityType EntityType, actorID uuid.UUID, retention time.Duration) *AuditEntry {
	now := time.Now().UTC()
	return &AuditEntry{
		ID:             uuid.New(),
		CorrelationID:  correlationID,
		EventType:      eventType,
		EntityType:     entityType,
		ActorID:        actorID,
		CreatedAt:      now,
		RetentionUntil: now.Add(retention),
	}
}

// WithEntity sets the subject entity id.
func (a *AuditEntry) WithEntity(entityID uuid.UUID) *AuditEntry {
	a.EntityID = &entityID
	return a
}

// WithRequestContext sets transport metadata.
func (a *AuditEntry) WithRequestContext(rc RequestContext) *AuditEntry {
	a.IPAddress = rc.IPAddress
	a.UserAgent = rc.UserAgent
	return a
}

// WithSecurityFlag marks the entry as a security event at the given risk level.
func (a *AuditEntry) WithSecurityFlag(level RiskLevel) *AuditEntry {
	a.SecurityEvent = true
	a.RiskLevel = &level
	return a
}

// StateTransitionDetails is the typed payload of a STATE_CHANGED entry.
type StateTransitionDetails struct {
	FromState       State  `json:"from_state"`
	ToState         State  `json:"to_state"`
	Reason          string `json:"reason,omitempty"`
	DurationInState int64  `json:"duration_in_previous_state_ms"`
}

// BulkOperationDetails is the typed payload of a BULK_OPERATION entry.
type BulkOperationDetails struct {
	OperationType   BulkOperationType `json:"operation_type"`
	TotalItems      int               `json:"total_items"`
	SuccessfulItems int               `json:"successful_items"`
	FailedItems     int               `json:"failed_items"`
	FailureDetails  map[string]string `json:"failure_details,omitempty"`
	WasRolledBack   bool              `json:"was_rolled_back"`
	DryRun          bool              `json:"dry_run"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
}

// PermissionDenialDetails is the typed payload of a PERMISSION_DENIED entry.
type PermissionDenialDetails struct {
	RequiredPermission string    `json:"required_permission"`
	ActionAttempted    string    `json:"action_attempted"`
	RiskLevel          RiskLevel `json:"risk_level"`
}

// ChangeDetails is the generic payload of CREATED/UPDATED/DELETED entries.
type ChangeDetails struct {
	Changes map[string]interface{} `json:"changes,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
}
