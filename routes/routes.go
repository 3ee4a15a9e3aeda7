package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/opsdeck/workstream/app"
	"github.com/opsdeck/workstream/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.DB.DB, deps.Logger)
	entityHandler := handlers.NewEntityHandler(deps.Entities, deps.Machines, deps.AuditService, deps.Logger)
	bulkHandler := handlers.NewBulkHandler(deps.BulkService, deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.AuditService, deps.AuditLogs, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Entity lifecycle
		r.Route("/entities", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/", entityHandler.HandleCreate)
			r.Get("/{id}", entityHandler.HandleGet)
			r.Post("/{id}/transitions", entityHandler.HandleTransition)
			r.Get("/{id}/audit", auditHandler.HandleGetByEntity)
		})

		// Bulk operations
		r.Route("/bulk", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/transitions", bulkHandler.HandleTransition)
			r.Post("/updates", bulkHandler.HandleUpdate)
			r.Post("/assignments", bulkHandler.HandleAssign)
		})

		// Audit trail (require admin role)
		r.Route("/audit", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Get("/correlations/{id}", auditHandler.HandleGetByCorrelation)
			r.Get("/retention-expired", auditHandler.HandleListRetentionExpired)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
