package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/opsdeck/workstream/middleware"
	"github.com/opsdeck/workstream/models"
	"github.com/opsdeck/workstream/repositories"
	"github.com/opsdeck/workstream/services"
	"github.com/opsdeck/workstream/services/audit"
	"github.com/opsdeck/workstream/services/statemachine"
	"github.com/opsdeck/workstream/utils"
	"go.uber.org/zap"
)

// EntityHandler serves entity CRUD and single-entity state transitions.
type EntityHandler struct {
	store    repositories.EntityStore
	machines *statemachine.Registry
	auditSvc *audit.Service
	logger   *zap.Logger
}

// NewEntityHandler creates a new EntityHandler
func NewEntityHandler(store repositories.EntityStore, machines *statemachine.Registry, auditSvc *audit.Service, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{
		store:    store,
		machines: machines,
		auditSvc: auditSvc,
		logger:   logger,
	}
}

// CreateEntityRequest is the request body for POST /entities
type CreateEntityRequest struct {
	EntityType string                 `json:"entity_type" validate:"required,oneof=work_order task attendance_record ticket"`
	Fields     map[string]interface{} `json:"fields"`
	AssigneeID *uuid.UUID             `json:"assignee_id,omitempty"`
	VendorID   *uuid.UUID             `json:"vendor_id,omitempty"`
}

// TransitionBody is the request body for POST /entities/{id}/transitions
type TransitionBody struct {
	TargetState string `json:"target_state" validate:"required"`
	Comments    string `json:"comments"`
}

// HandleCreate handles POST /entities. The new entity starts in its type's
// initial state at version 1.
func (h *EntityHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	machine, err := h.machines.Get(models.EntityType(req.EntityType))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	entity := models.NewEntity(models.EntityType(req.EntityType), machine.Definition().InitialState(), actor.ID)
	for k, v := range req.Fields {
		entity.Fields[k] = v
	}
	entity.AssigneeID = req.AssigneeID
	entity.VendorID = req.VendorID

	ctx := r.Context()
	if err := h.store.Create(ctx, entity); err != nil {
		HandleServiceError(w, services.WrapSystemic("entity create failed", err), h.logger)
		return
	}

	correlationID := audit.EnsureCorrelation(uuid.Nil)
	if err := h.auditSvc.LogEntityCreated(ctx, correlationID, entity, actor.ID, req.Fields, requestContext(r)); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, entity)
}

// HandleGet handles GET /entities/{id}
func (h *EntityHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid entity id", nil)
		return
	}

	entity, err := h.store.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrEntityNotFound) {
			_ = utils.WriteNotFound(w, "Entity not found")
			return
		}
		HandleServiceError(w, services.WrapSystemic("entity load failed", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, entity)
}

// HandleTransition handles POST /entities/{id}/transitions
func (h *EntityHandler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid entity id", nil)
		return
	}

	var body TransitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}
	if err := utils.ValidateStruct(body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	ctx := r.Context()
	entity, err := h.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrEntityNotFound) {
			_ = utils.WriteNotFound(w, "Entity not found")
			return
		}
		HandleServiceError(w, services.WrapSystemic("entity load failed", err), h.logger)
		return
	}

	machine, err := h.machines.Get(entity.EntityType)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	result, err := machine.Transition(ctx, models.TransitionRequest{
		EntityID:      id,
		TargetState:   models.State(body.TargetState),
		Actor:         actor,
		Comments:      body.Comments,
		CorrelationID: correlationFromHeader(r),
		Context:       requestContext(r),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// requestContext builds audit transport metadata from the request.
func requestContext(r *http.Request) models.RequestContext {
	return models.RequestContext{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		RequestID: chimiddleware.GetReqID(r.Context()),
	}
}

// correlationFromHeader reads the optional X-Correlation-ID header; a missing
// or malformed value yields a fresh id downstream.
func correlationFromHeader(r *http.Request) uuid.UUID {
	raw := r.Header.Get("X-Correlation-ID")
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}
