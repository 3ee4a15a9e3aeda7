package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockAuditRepo(t *testing.T) (repositories.AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := &DB{DB: mockDB, logger: zap.NewNop()}
	return NewAuditRepository(db, zap.NewNop()), mock
}

func auditRow(entry *models.AuditEntry) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "correlation_id", "event_type", "entity_type", "entity_id", "actor_id",
		"details", "ip_address", "user_agent", "security_event", "risk_level",
		"created_at", "retention_until",
	})
	var entityID interface{}
	if entry.EntityID != nil {
		entityID = entry.EntityID.String()
	}
	var riskLevel interface{}
	if entry.RiskLevel != nil {
		riskLevel = string(*entry.RiskLevel)
	}
	rows.AddRow(
		entry.ID.String(), entry.CorrelationID.String(), string(entry.EventType),
		string(entry.EntityType), entityID, entry.ActorID.String(),
		[]byte(entry.Details), entry.IPAddress, entry.UserAgent,
		entry.SecurityEvent, riskLevel, entry.CreatedAt, entry.RetentionUntil,
	)
	return rows
}

func sampleEntry() *models.AuditEntry {
	entry := models.NewAuditEntry(uuid.New(), models.AuditEventStateChanged, models.EntityTypeWorkOrder, uuid.New(), 90*24*time.Hour)
	entry.WithEntity(uuid.New())
	entry.Details = []byte(`{"from_state":"DRAFT","to_state":"SUBMITTED"}`)
	entry.IPAddress = "10.0.0.1"
	entry.UserAgent = "cli/1.0"
	return entry
}

func TestAuditRepository_Insert(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	entry := sampleEntry()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WithArgs(
			entry.ID, entry.CorrelationID, string(entry.EventType), string(entry.EntityType),
			entry.EntityID, entry.ActorID, []byte(entry.Details), entry.IPAddress,
			entry.UserAgent, entry.SecurityEvent, nil, entry.CreatedAt, entry.RetentionUntil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_Insert_SecurityEvent(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	entry := sampleEntry()
	entry.EventType = models.AuditEventPermissionDenied
	entry.WithSecurityFlag(models.RiskLevelHigh)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WithArgs(
			entry.ID, entry.CorrelationID, string(entry.EventType), string(entry.EntityType),
			entry.EntityID, entry.ActorID, []byte(entry.Details), entry.IPAddress,
			entry.UserAgent, true, string(models.RiskLevelHigh), entry.CreatedAt, entry.RetentionUntil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_GetByID(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	entry := sampleEntry()

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_entries WHERE id = $1")).
		WithArgs(entry.ID).
		WillReturnRows(auditRow(entry))

	got, err := repo.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, entry.CorrelationID, got.CorrelationID)
	assert.Equal(t, models.AuditEventStateChanged, got.EventType)
	assert.JSONEq(t, string(entry.Details), string(got.Details))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_entries WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit entry not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_GetByCorrelationID(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	correlationID := uuid.New()
	first := sampleEntry()
	first.CorrelationID = correlationID
	second := sampleEntry()
	second.CorrelationID = correlationID
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	rows := auditRow(first)
	var entityID interface{}
	if second.EntityID != nil {
		entityID = second.EntityID.String()
	}
	rows.AddRow(
		second.ID.String(), second.CorrelationID.String(), string(second.EventType),
		string(second.EntityType), entityID, second.ActorID.String(),
		[]byte(second.Details), second.IPAddress, second.UserAgent,
		second.SecurityEvent, nil, second.CreatedAt, second.RetentionUntil,
	)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE correlation_id = $1")).
		WithArgs(correlationID).
		WillReturnRows(rows)

	entries, err := repo.GetByCorrelationID(context.Background(), correlationID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_GetByEntityID(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	entry := sampleEntry()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE entity_id = $1")).
		WithArgs(*entry.EntityID, 50, 0).
		WillReturnRows(auditRow(entry))

	entries, err := repo.GetByEntityID(context.Background(), *entry.EntityID, 50, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_ListRetentionExpired(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	entry := sampleEntry()
	asOf := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE retention_until <= $1")).
		WithArgs(asOf, 100).
		WillReturnRows(auditRow(entry))

	entries, err := repo.ListRetentionExpired(context.Background(), asOf, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_WithTx_BuffersOnTransaction(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := &DB{DB: mockDB, logger: zap.NewNop()}
	repo := NewAuditRepository(db, zap.NewNop())
	tm := NewTransactionManager(db, zap.NewNop())
	entry := sampleEntry()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	txRepo := repo.WithTx(tx)
	require.NoError(t, txRepo.Insert(ctx, entry))
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
