package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/access-control-plane/app"
	"github.com/upb/access-control-plane/handlers"
	"github.com/upb/access-control-plane/middleware"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match"},
		ExposedHeaders:   []string{"ETag", "Location", "Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.ReadinessChecks, deps.Logger)
	roleHandler := handlers.NewRoleHandler(deps.Roles, deps.Logger)
	userHandler := handlers.NewUserHandler(deps.Users, deps.Engine, deps.Logger)
	accessHandler := handlers.NewAccessHandler(deps.Engine, deps.Users, deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.Trail, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	can := deps.PermissionMiddleware.RequirePermission

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.Get("/me", accessHandler.HandleMe)
		r.Post("/access/check", accessHandler.HandleCheckAccess)

		r.Route("/roles", func(r chi.Router) {
			r.With(can(models.ResourceRoles, models.PermissionRead)).Get("/", roleHandler.HandleListRoles)
			r.With(can(models.ResourceRoles, models.PermissionWrite)).Post("/", roleHandler.HandleCreateRole)
			r.With(can(models.ResourceRoles, models.PermissionRead)).Get("/{id}", roleHandler.HandleGetRole)
			r.With(can(models.ResourceRoles, models.PermissionWrite)).Patch("/{id}", roleHandler.HandleUpdateRole)
			r.With(can(models.ResourceRoles, models.PermissionDelete)).Delete("/{id}", roleHandler.HandleDeleteRole)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(can(models.ResourceUsers, models.PermissionRead)).Get("/", userHandler.HandleListUsers)
			r.With(can(models.ResourceUsers, models.PermissionWrite)).Post("/", userHandler.HandleCreateUser)
			r.With(can(models.ResourceUsers, models.PermissionRead)).Get("/{id}", userHandler.HandleGetUser)
			r.With(can(models.ResourceUsers, models.PermissionWrite)).Patch("/{id}", userHandler.HandleUpdateUser)
			r.With(can(models.ResourceUsers, models.PermissionDelete)).Delete("/{id}", userHandler.HandleDeleteUser)
			r.With(can(models.ResourceUsers, models.PermissionManage)).Put("/{id}/active", userHandler.HandleSetActive)
		})

		r.With(can(models.ResourceSettings, models.PermissionRead)).Get("/audit", auditHandler.HandleListAudit)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
