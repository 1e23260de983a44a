package keycloak

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RealmAccess holds the realm-level roles granted to the subject
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// ResourceAccess holds client-level roles
type ResourceAccess struct {
	Roles []string `json:"roles"`
}

// ClaimSet is the verified payload of a Keycloak access token
type ClaimSet struct {
	jwt.RegisteredClaims
	Type              string                    `json:"typ,omitempty"`
	AuthorizedParty   string                    `json:"azp,omitempty"`
	SessionID         string                    `json:"sid,omitempty"`
	Scope             string                    `json:"scope,omitempty"`
	PreferredUsername string                    `json:"preferred_username,omitempty"`
	Email             string                    `json:"email,omitempty"`
	EmailVerified     bool                      `json:"email_verified,omitempty"`
	Name              string                    `json:"name,omitempty"`
	GivenName         string                    `json:"given_name,omitempty"`
	FamilyName        string                    `json:"family_name,omitempty"`
	RealmAccess       *RealmAccess              `json:"realm_access,omitempty"`
	ResourceAccess    map[string]ResourceAccess `json:"resource_access,omitempty"`
}

// RealmRoles returns the realm roles, or an empty slice when realm_access is absent
func (c *ClaimSet) RealmRoles() []string {
	if c == nil || c.RealmAccess == nil || c.RealmAccess.Roles == nil {
		return []string{}
	}
	return c.RealmAccess.Roles
}

// HasRealmRole reports whether role is one of the realm roles. Matching is exact.
func (c *ClaimSet) HasRealmRole(role string) bool {
	for _, r := range c.RealmRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// ClientRoles returns the roles granted for a client in resource_access
func (c *ClaimSet) ClientRoles(clientID string) []string {
	if c == nil || c.ResourceAccess == nil {
		return []string{}
	}
	access, ok := c.ResourceAccess[clientID]
	if !ok || access.Roles == nil {
		return []string{}
	}
	return access.Roles
}

// Scopes splits the space-delimited scope claim
func (c *ClaimSet) Scopes() []string {
	if c == nil {
		return nil
	}
	return strings.Fields(c.Scope)
}
