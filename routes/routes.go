package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/keycloak-gateway/app"
	"github.com/upb/keycloak-gateway/handlers"
	"github.com/upb/keycloak-gateway/models"
	gwmiddleware "github.com/upb/keycloak-gateway/middleware"
	"github.com/upb/keycloak-gateway/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(gwmiddleware.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id", "WWW-Authenticate"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authMW := deps.AuthMiddleware
	health := handlers.NewHealthHandler(deps.KeyCache, deps.Logger)
	identity := handlers.NewIdentityHandler(deps.Config.Keycloak.Realm, deps.Config.Keycloak.Issuer(), deps.Logger)
	users := handlers.NewUserHandler(deps.Users, deps.Logger)

	// Public endpoints
	r.Get("/", identity.HandleHome)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// Bearer-protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(authMW.RequireAuth)
		r.Get("/me", identity.HandleMe)

		r.With(authMW.RequireRole(string(models.RoleAdmin))).Get("/admin", identity.HandleAdmin)
	})

	// Service account endpoints
	r.With(authMW.RequireServiceAccount).Get("/service-data", identity.HandleServiceData)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// User management (require admin role)
		r.Route("/users", func(r chi.Router) {
			r.Use(authMW.RequireAuth)
			r.Use(authMW.RequireRole(string(models.RoleAdmin)))
			r.Post("/", users.HandleCreateUser)
			r.Get("/", users.HandleListUsers)
			r.Get("/{id}", users.HandleGetUser)
			r.Post("/{id}/roles", users.HandleAssignRole)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
