package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/keycloak-gateway/internal/observability"
	"github.com/upb/keycloak-gateway/middleware"
	"github.com/upb/keycloak-gateway/models"
	"github.com/upb/keycloak-gateway/utils"
	"go.uber.org/zap"
)

// UserService defines the user management operations exposed over HTTP
type UserService interface {
	CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.UserResponse, error)
	ListUsers(ctx context.Context, query models.ListUsersQuery) ([]models.UserResponse, error)
	GetUser(ctx context.Context, id string) (*models.UserResponse, error)
	AssignRole(ctx context.Context, id string, req *models.AssignRoleRequest) error
}

// UserHandler handles the admin user endpoints
type UserHandler struct {
	users  UserService
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(users UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// HandleCreateUser handles POST /api/v1/users
func (h *UserHandler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, h.logger)

	var req models.CreateUserRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, logger)
		return
	}

	user, err := h.users.CreateUser(ctx, &req)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	logger.Info("user created via admin api",
		zap.String("actor", actor(ctx)),
		zap.String("user_id", user.ID))

	_ = utils.WriteCreated(w, user)
}

// HandleListUsers handles GET /api/v1/users?search=&max=
func (h *UserHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context(), h.logger)
	query := models.ListUsersQuery{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	}

	if raw := r.URL.Query().Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "max must be an integer", nil)
			return
		}
		if n < 1 {
			_ = utils.WriteBadRequest(w, "max must be between 1 and 100", nil)
			return
		}
		query.Max = n
	}

	users, err := h.users.ListUsers(r.Context(), query)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	_ = utils.WriteOK(w, users)
}

// HandleGetUser handles GET /api/v1/users/{id}
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context(), h.logger)
	id := chi.URLParam(r, "id")
	if err := utils.ValidateUUID(id); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid user ID format", nil)
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	_ = utils.WriteOK(w, user)
}

// HandleAssignRole handles POST /api/v1/users/{id}/roles
func (h *UserHandler) HandleAssignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, h.logger)

	id := chi.URLParam(r, "id")
	if err := utils.ValidateUUID(id); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid user ID format", nil)
		return
	}

	var req models.AssignRoleRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, logger)
		return
	}

	if err := h.users.AssignRole(ctx, id, &req); err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	logger.Info("realm role assigned via admin api",
		zap.String("actor", actor(ctx)),
		zap.String("user_id", id),
		zap.String("role", req.Role))

	utils.WriteNoContent(w)
}

// actor names the authenticated caller for audit log lines
func actor(ctx context.Context) string {
	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	if claims.PreferredUsername != "" {
		return claims.PreferredUsername
	}
	return claims.Subject
}
