package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/keycloak-gateway/auth"
	"github.com/upb/keycloak-gateway/keycloak"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for verified token claims
	ClaimsKey contextKey = "claims"

	// ServiceIdentityKey is the context key for the authenticated service account
	ServiceIdentityKey contextKey = "service_identity"
)

// GetRequestIDFromContext returns the ID assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetClaimsFromContext retrieves verified claims from context
func GetClaimsFromContext(ctx context.Context) *keycloak.ClaimSet {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*keycloak.ClaimSet); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds verified claims to the context
func WithClaims(ctx context.Context, claims *keycloak.ClaimSet) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetServiceIdentityFromContext retrieves the authenticated service account from context
func GetServiceIdentityFromContext(ctx context.Context) *auth.ServiceIdentity {
	if val := ctx.Value(ServiceIdentityKey); val != nil {
		if identity, ok := val.(*auth.ServiceIdentity); ok {
			return identity
		}
	}
	return nil
}

// WithServiceIdentity adds a service identity to the context
func WithServiceIdentity(ctx context.Context, identity *auth.ServiceIdentity) context.Context {
	return context.WithValue(ctx, ServiceIdentityKey, identity)
}
