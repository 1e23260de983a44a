package models

// UserRole is a realm role that can be granted on user creation
type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleClient UserRole = "client"
)

// DefaultUserRole is granted when a create request names no role
const DefaultUserRole = RoleClient

// CredentialRepresentation is a Keycloak credential payload
type CredentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// UserRepresentation is a Keycloak admin API user
type UserRepresentation struct {
	ID               string                     `json:"id,omitempty"`
	Username         string                     `json:"username"`
	Email            string                     `json:"email,omitempty"`
	FirstName        string                     `json:"firstName,omitempty"`
	LastName         string                     `json:"lastName,omitempty"`
	Enabled          bool                       `json:"enabled"`
	EmailVerified    bool                       `json:"emailVerified"`
	CreatedTimestamp int64                      `json:"createdTimestamp,omitempty"`
	Credentials      []CredentialRepresentation `json:"credentials,omitempty"`
}

// RoleRepresentation is a Keycloak realm role
type RoleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite"`
	ClientRole  bool   `json:"clientRole"`
	ContainerID string `json:"containerId,omitempty"`
}

// CreateUserRequest is the body of POST /api/v1/users
type CreateUserRequest struct {
	Username  string   `json:"username" validate:"required,min=3,max=50"`
	Email     string   `json:"email,omitempty" validate:"omitempty,email"`
	FirstName string   `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  string   `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Password  string   `json:"password" validate:"required,min=8"`
	Role      UserRole `json:"role,omitempty" validate:"omitempty,oneof=admin client"`
}

// ResolvedRole returns the requested role or the default one
func (r *CreateUserRequest) ResolvedRole() UserRole {
	if r.Role == "" {
		return DefaultUserRole
	}
	return r.Role
}

// ToRepresentation builds the Keycloak payload for the request.
// The email counts as verified whenever one is supplied.
func (r *CreateUserRequest) ToRepresentation() UserRepresentation {
	return UserRepresentation{
		Username:      r.Username,
		Email:         r.Email,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Enabled:       true,
		EmailVerified: r.Email != "",
		Credentials: []CredentialRepresentation{
			{Type: "password", Value: r.Password, Temporary: false},
		},
	}
}

// AssignRoleRequest is the body of POST /api/v1/users/{id}/roles
type AssignRoleRequest struct {
	Role string `json:"role" validate:"required,min=1,max=255"`
}

// UserResponse is the user shape returned to API clients
type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// NewUserResponse converts a Keycloak user into the API shape
func NewUserResponse(u UserRepresentation) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Enabled:   u.Enabled,
	}
}

// ListUsersQuery holds the filters for listing users
type ListUsersQuery struct {
	Search string
	Max    int
}
