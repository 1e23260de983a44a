package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/upb/keycloak-gateway/keycloak"
)

// ErrInsufficientRole is returned when a verified identity lacks the required roles
var ErrInsufficientRole = errors.New("insufficient role")

// MatchMode selects how the roles of a Requirement combine
type MatchMode int

const (
	// MatchAny allows the request when at least one role is held
	MatchAny MatchMode = iota
	// MatchAll allows the request only when every role is held
	MatchAll
)

func (m MatchMode) String() string {
	if m == MatchAll {
		return "all"
	}
	return "any"
}

// Requirement is a set of realm roles and how they combine
type Requirement struct {
	Roles []string
	Mode  MatchMode
}

// AnyOf requires at least one of roles
func AnyOf(roles ...string) Requirement {
	return Requirement{Roles: roles, Mode: MatchAny}
}

// AllOf requires every one of roles
func AllOf(roles ...string) Requirement {
	return Requirement{Roles: roles, Mode: MatchAll}
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s(%s)", r.Mode, strings.Join(r.Roles, ","))
}

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed bool
	Claims  *keycloak.ClaimSet
	Reason  string
	Missing []string
}

// Err returns ErrInsufficientRole for denied decisions
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == "" {
		return ErrInsufficientRole
	}
	return fmt.Errorf("%w: %s", ErrInsufficientRole, d.Reason)
}

// Authorize checks the realm roles in claims against req.
// Role names match exactly and case-sensitively. A requirement with no roles
// admits any verified identity.
func Authorize(claims *keycloak.ClaimSet, req Requirement) Decision {
	if claims == nil {
		return Decision{Reason: "no verified identity", Missing: req.Roles}
	}
	if len(req.Roles) == 0 {
		return Decision{Allowed: true, Claims: claims}
	}

	held := make(map[string]struct{}, len(claims.RealmRoles()))
	for _, role := range claims.RealmRoles() {
		held[role] = struct{}{}
	}

	var missing []string
	for _, role := range req.Roles {
		if _, ok := held[role]; !ok {
			missing = append(missing, role)
		}
	}

	var allowed bool
	switch req.Mode {
	case MatchAll:
		allowed = len(missing) == 0
	default:
		allowed = len(missing) < len(req.Roles)
	}

	if allowed {
		return Decision{Allowed: true, Claims: claims}
	}
	return Decision{
		Claims:  claims,
		Reason:  fmt.Sprintf("requires %s", req),
		Missing: missing,
	}
}

// AuthorizeRole checks for a single realm role
func AuthorizeRole(claims *keycloak.ClaimSet, role string) Decision {
	return Authorize(claims, AnyOf(role))
}
