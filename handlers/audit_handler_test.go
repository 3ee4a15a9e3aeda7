package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories/memory"
	"github.com/opsdeck/workstream/services/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAuditHandlerFixture(t *testing.T) (chi.Router, *audit.Service, *memory.AuditRepository) {
	t.Helper()
	logger := zap.NewNop()
	repo := memory.NewAuditRepository()
	svc := audit.NewService(repo, audit.NewRedactor(nil), 0, logger)
	h := NewAuditHandler(svc, repo, logger)

	r := chi.NewRouter()
	r.Get("/audit/correlations/{id}", h.HandleGetByCorrelation)
	r.Get("/entities/{id}/audit", h.HandleGetByEntity)
	r.Get("/audit/retention-expired", h.HandleListRetentionExpired)
	return r, svc, repo
}

func seedStateChange(t *testing.T, svc *audit.Service, correlationID, entityID uuid.UUID) {
	t.Helper()
	entity := models.NewEntity(models.EntityTypeWorkOrder, models.StateSubmitted, uuid.New())
	entity.ID = entityID
	err := svc.LogStateTransition(context.Background(), correlationID, entity, uuid.New(), models.StateTransitionDetails{
		FromState: models.StateDraft,
		ToState:   models.StateSubmitted,
	}, models.RequestContext{})
	require.NoError(t, err)
}

func decodeEntries(t *testing.T, rec *httptest.ResponseRecorder) []models.AuditEntry {
	t.Helper()
	var resp struct {
		Data []models.AuditEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestAuditHandler_GetByCorrelation(t *testing.T) {
	router, svc, _ := newAuditHandlerFixture(t)
	correlationID := uuid.New()
	seedStateChange(t, svc, correlationID, uuid.New())
	seedStateChange(t, svc, correlationID, uuid.New())
	seedStateChange(t, svc, uuid.New(), uuid.New()) // unrelated

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/correlations/"+correlationID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeEntries(t, rec)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, correlationID, e.CorrelationID)
	}
}

func TestAuditHandler_GetByCorrelation_BadID(t *testing.T) {
	router, _, _ := newAuditHandlerFixture(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/correlations/nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditHandler_GetByEntity(t *testing.T) {
	router, svc, _ := newAuditHandlerFixture(t)
	entityID := uuid.New()
	for i := 0; i < 3; i++ {
		seedStateChange(t, svc, uuid.New(), entityID)
	}
	seedStateChange(t, svc, uuid.New(), uuid.New()) // other entity

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/"+entityID.String()+"/audit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeEntries(t, rec), 3)

	// limit applies; out-of-range values fall back to the default.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/"+entityID.String()+"/audit?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeEntries(t, rec), 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/"+entityID.String()+"/audit?limit=-5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeEntries(t, rec), 3)
}

func TestAuditHandler_ListRetentionExpired(t *testing.T) {
	router, _, repo := newAuditHandlerFixture(t)

	expired := models.NewAuditEntry(uuid.New(), models.AuditEventStateChanged, models.EntityTypeWorkOrder, uuid.New(), -time.Hour)
	fresh := models.NewAuditEntry(uuid.New(), models.AuditEventStateChanged, models.EntityTypeWorkOrder, uuid.New(), 24*time.Hour)
	require.NoError(t, repo.Insert(context.Background(), expired))
	require.NoError(t, repo.Insert(context.Background(), fresh))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/retention-expired", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeEntries(t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, expired.ID, entries[0].ID)
}
