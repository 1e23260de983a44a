package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/keycloak-gateway/models"
	"go.uber.org/zap"
)

// MaxListLimit is the largest page size accepted when listing users
const MaxListLimit = 100

// AdminAPI is the subset of the Keycloak admin API used by UserService
type AdminAPI interface {
	CreateUser(ctx context.Context, user models.UserRepresentation) (string, error)
	GetUser(ctx context.Context, id string) (*models.UserRepresentation, error)
	ListUsers(ctx context.Context, query models.ListUsersQuery) ([]models.UserRepresentation, error)
	AssignRealmRole(ctx context.Context, userID, roleName string) error
}

// UserService manages realm users through the Keycloak admin API
type UserService struct {
	admin        AdminAPI
	defaultLimit int
	logger       *zap.Logger
}

// NewUserService creates a new UserService
func NewUserService(admin AdminAPI, defaultLimit int, logger *zap.Logger) *UserService {
	if defaultLimit <= 0 || defaultLimit > MaxListLimit {
		defaultLimit = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		admin:        admin,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// CreateUser creates the user, grants the requested realm role and returns the stored user
func (s *UserService) CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.UserResponse, error) {
	if req == nil {
		return nil, ErrInvalidInput
	}

	id, err := s.admin.CreateUser(ctx, req.ToRepresentation())
	if err != nil {
		return nil, err
	}

	role := string(req.ResolvedRole())
	if err := s.admin.AssignRealmRole(ctx, id, role); err != nil {
		// the user exists at this point
		s.logger.Error("user created but role assignment failed",
			zap.String("user_id", id),
			zap.String("role", role),
			zap.Error(err))
		var de *DomainError
		if errors.As(err, &de) {
			return nil, de.WithDetail("user_id", id)
		}
		return nil, err
	}

	user, err := s.admin.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created",
		zap.String("user_id", id),
		zap.String("username", user.Username),
		zap.String("role", role))

	resp := models.NewUserResponse(*user)
	return &resp, nil
}

// ListUsers returns users matching the query. A zero Max selects the default page size.
func (s *UserService) ListUsers(ctx context.Context, query models.ListUsersQuery) ([]models.UserResponse, error) {
	if query.Max == 0 {
		query.Max = s.defaultLimit
	}
	if query.Max < 1 || query.Max > MaxListLimit {
		return nil, ErrInvalidInput.WithDetail("max", "must be between 1 and 100")
	}

	users, err := s.admin.ListUsers(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]models.UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, models.NewUserResponse(u))
	}
	return out, nil
}

// GetUser returns a single user by id
func (s *UserService) GetUser(ctx context.Context, id string) (*models.UserResponse, error) {
	if err := validateUserID(id); err != nil {
		return nil, err
	}

	user, err := s.admin.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := models.NewUserResponse(*user)
	return &resp, nil
}

// AssignRole grants a realm role to an existing user
func (s *UserService) AssignRole(ctx context.Context, id string, req *models.AssignRoleRequest) error {
	if err := validateUserID(id); err != nil {
		return err
	}
	if req == nil || req.Role == "" {
		return ErrInvalidInput.WithDetail("role", "role is required")
	}

	if err := s.admin.AssignRealmRole(ctx, id, req.Role); err != nil {
		return err
	}

	s.logger.Info("realm role assigned",
		zap.String("user_id", id),
		zap.String("role", req.Role))
	return nil
}

func validateUserID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return Wrap(ErrInvalidUserID, err)
	}
	return nil
}
