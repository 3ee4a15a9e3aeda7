package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsdeck/workstream/middleware"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories/memory"
	"github.com/opsdeck/workstream/services/audit"
	"github.com/opsdeck/workstream/services/bulk"
	"github.com/opsdeck/workstream/services/permissions"
	"github.com/opsdeck/workstream/services/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type bulkHandlerFixture struct {
	router    chi.Router
	store     *memory.EntityStore
	auditRepo *memory.AuditRepository
}

func newBulkHandlerFixture(t *testing.T) *bulkHandlerFixture {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewEntityStore()
	auditRepo := memory.NewAuditRepository()
	auditSvc := audit.NewService(auditRepo, audit.NewRedactor(nil), 0, logger)
	evaluator := permissions.NewDefaultEvaluator(logger)

	registry := statemachine.NewRegistry(
		statemachine.NewBaseStateMachine(statemachine.NewWorkOrderDefinition(), store, evaluator, auditSvc, nil, logger),
	)
	txm := memory.NewTransactionManager(store, auditRepo, logger)
	service := bulk.NewService(registry, store, auditSvc, evaluator, txm, 0, logger)
	h := NewBulkHandler(service, logger)

	r := chi.NewRouter()
	r.Post("/bulk/transitions", h.HandleTransition)
	r.Post("/bulk/updates", h.HandleUpdate)
	r.Post("/bulk/assignments", h.HandleAssign)
	return &bulkHandlerFixture{router: r, store: store, auditRepo: auditRepo}
}

func (f *bulkHandlerFixture) seedSubmitted(t *testing.T, n int) []uuid.UUID {
	t.Helper()
	vendorID := uuid.New()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		e := models.NewEntity(models.EntityTypeWorkOrder, models.StateSubmitted, uuid.New())
		e.VendorID = &vendorID
		e.Fields["estimate_approved"] = true
		require.NoError(t, f.store.Create(context.Background(), e))
		ids = append(ids, e.ID)
	}
	return ids
}

func (f *bulkHandlerFixture) post(t *testing.T, path string, body BulkRequestBody, actor *models.Actor) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	if actor != nil {
		req = req.WithContext(middleware.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBulkResult(t *testing.T, rec *httptest.ResponseRecorder) models.BulkOperationResult {
	t.Helper()
	var resp struct {
		Data models.BulkOperationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestBulkHandler_Transition_AllSucceed(t *testing.T) {
	f := newBulkHandlerFixture(t)
	ids := f.seedSubmitted(t, 3)
	actor := models.Actor{ID: uuid.New(), Roles: []string{"approver"}}

	rec := f.post(t, "/bulk/transitions", BulkRequestBody{
		EntityIDs:   ids,
		TargetState: "APPROVED",
	}, &actor)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBulkResult(t, rec)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, 3, result.SuccessfulItems)
	assert.Equal(t, 0, result.FailedItems)
}

func TestBulkHandler_Transition_PartialFailureIs200(t *testing.T) {
	f := newBulkHandlerFixture(t)
	ids := f.seedSubmitted(t, 2)
	ids = append(ids, uuid.New()) // unknown id fails its item only
	actor := models.Actor{ID: uuid.New(), Roles: []string{"approver"}}

	rec := f.post(t, "/bulk/transitions", BulkRequestBody{
		EntityIDs:   ids,
		TargetState: "APPROVED",
	}, &actor)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBulkResult(t, rec)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, 2, result.SuccessfulItems)
	assert.Equal(t, 1, result.FailedItems)
	require.Len(t, result.FailureDetails, 1)
	assert.Contains(t, result.FailureDetails, ids[2].String())
}

func TestBulkHandler_Transition_WholeCallRejection(t *testing.T) {
	f := newBulkHandlerFixture(t)
	actor := models.Actor{ID: uuid.New(), Roles: []string{"approver"}}

	// Missing target state rejects the whole call before any item runs.
	rec := f.post(t, "/bulk/transitions", BulkRequestBody{
		EntityIDs: []uuid.UUID{uuid.New()},
	}, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty batch fails struct validation.
	rec = f.post(t, "/bulk/transitions", BulkRequestBody{
		EntityIDs:   []uuid.UUID{},
		TargetState: "APPROVED",
	}, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkHandler_Update_ProtectedFieldRejected(t *testing.T) {
	f := newBulkHandlerFixture(t)
	ids := f.seedSubmitted(t, 1)
	actor := models.Actor{ID: uuid.New(), Roles: []string{"admin"}}

	rec := f.post(t, "/bulk/updates", BulkRequestBody{
		EntityIDs:    ids,
		UpdateFields: map[string]interface{}{"version": 99},
	}, &actor)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "version")
}

func TestBulkHandler_DryRun(t *testing.T) {
	f := newBulkHandlerFixture(t)
	ids := f.seedSubmitted(t, 2)
	actor := models.Actor{ID: uuid.New(), Roles: []string{"approver"}}

	rec := f.post(t, "/bulk/transitions", BulkRequestBody{
		EntityIDs:   ids,
		TargetState: "APPROVED",
		DryRun:      true,
	}, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBulkResult(t, rec)
	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.SuccessfulItems)

	// Nothing was written besides the summary entry.
	for _, id := range ids {
		e, err := f.store.Load(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StateSubmitted, e.State)
	}
	assert.Equal(t, 1, f.auditRepo.Count())
}

func TestBulkHandler_Assign(t *testing.T) {
	f := newBulkHandlerFixture(t)
	ids := f.seedSubmitted(t, 2)
	actor := models.Actor{ID: uuid.New(), Roles: []string{"supervisor"}}
	assignee := uuid.New()

	rec := f.post(t, "/bulk/assignments", BulkRequestBody{
		EntityIDs:  ids,
		AssigneeID: &assignee,
	}, &actor)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBulkResult(t, rec)
	assert.Equal(t, 2, result.SuccessfulItems)

	e, err := f.store.Load(context.Background(), ids[0])
	require.NoError(t, err)
	require.NotNil(t, e.AssigneeID)
	assert.Equal(t, assignee, *e.AssigneeID)
}

func TestBulkHandler_Unauthenticated(t *testing.T) {
	f := newBulkHandlerFixture(t)
	rec := f.post(t, "/bulk/transitions", BulkRequestBody{
		EntityIDs:   []uuid.UUID{uuid.New()},
		TargetState: "APPROVED",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
