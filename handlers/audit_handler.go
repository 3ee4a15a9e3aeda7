package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsdeck/workstream/repositories"
	"github.com/opsdeck/workstream/services"
	"github.com/opsdeck/workstream/services/audit"
	"github.com/opsdeck/workstream/utils"
	"go.uber.org/zap"
)

// AuditHandler serves read-only audit trail lookups.
type AuditHandler struct {
	service *audit.Service
	repo    repositories.AuditRepository
	logger  *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(service *audit.Service, repo repositories.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		repo:    repo,
		logger:  logger,
	}
}

// HandleGetByCorrelation handles GET /audit/correlations/{id}: every entry
// produced by one logical action, single or bulk.
func (h *AuditHandler) HandleGetByCorrelation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid correlation id", nil)
		return
	}

	entries, err := h.service.GetByCorrelationID(r.Context(), id)
	if err != nil {
		HandleServiceError(w, services.WrapSystemic("audit lookup failed", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, entries)
}

// HandleGetByEntity handles GET /entities/{id}/audit with limit/offset
// pagination, newest first.
func (h *AuditHandler) HandleGetByEntity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid entity id", nil)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := h.repo.GetByEntityID(r.Context(), id, limit, offset)
	if err != nil {
		HandleServiceError(w, services.WrapSystemic("audit lookup failed", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, entries)
}

// HandleListRetentionExpired handles GET /audit/retention-expired. Read-only:
// deletion stays with the external reaper.
func (h *AuditHandler) HandleListRetentionExpired(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	entries, err := h.service.ListRetentionExpired(r.Context(), time.Now().UTC(), limit)
	if err != nil {
		HandleServiceError(w, services.WrapSystemic("audit lookup failed", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, entries)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
