package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/keycloak-gateway/auth"
	"github.com/upb/keycloak-gateway/internal/observability"
	"github.com/upb/keycloak-gateway/keycloak"
	"github.com/upb/keycloak-gateway/utils"
	"go.uber.org/zap"
)

// Client-facing messages for authentication failures
const (
	MsgMissingAuthHeader      = "Missing authorization header"
	MsgInvalidAuthHeader      = "Invalid authorization header"
	MsgInvalidToken           = "Invalid token"
	MsgSigningKeyNotFound     = "Signing key not found"
	MsgIdentityProviderDown   = "Identity provider unavailable"
	MsgInsufficientRole       = "Insufficient role"
	MsgMissingBasicAuth       = "Missing basic auth credentials"
	MsgInvalidServiceCreds    = "Invalid service credentials"
	MsgAuthenticationRequired = "Authentication required"
)

// TokenVerifier defines the interface for verifying bearer tokens
type TokenVerifier interface {
	// Verify validates a bearer token and returns its claims
	Verify(ctx context.Context, token string) (*keycloak.ClaimSet, error)
}

// CredentialAuthenticator defines the interface for checking service credentials
type CredentialAuthenticator interface {
	Authenticate(username, password string) (*auth.ServiceIdentity, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	verifier   TokenVerifier
	services   CredentialAuthenticator
	basicRealm string
	logger     *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(verifier TokenVerifier, services CredentialAuthenticator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:   verifier,
		services:   services,
		basicRealm: "service",
		logger:     logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.FromContext(ctx, m.logger)

		token, err := extractBearerToken(r)
		if err != nil {
			logger.Warn("bearer credentials rejected", zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer`)
			msg := MsgInvalidAuthHeader
			if errors.Is(err, errMissingAuthHeader) {
				msg = MsgMissingAuthHeader
			}
			_ = utils.WriteUnauthorized(w, msg)
			return
		}

		claims, err := m.verifier.Verify(ctx, token)
		if err != nil {
			writeVerificationError(w, logger, err)
			return
		}

		ctx = WithClaims(ctx, claims)

		logger.Debug("authentication successful",
			zap.String("sub", claims.Subject),
			zap.String("username", claims.PreferredUsername))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole is a middleware that requires a specific realm role.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.RequireRoles(auth.AnyOf(role))
}

// RequireRoles is a middleware that enforces a role requirement.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireRoles(req auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := observability.FromContext(ctx, m.logger)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				logger.Error("claims not found in context")
				w.Header().Set("WWW-Authenticate", `Bearer`)
				_ = utils.WriteUnauthorized(w, MsgAuthenticationRequired)
				return
			}

			decision := auth.Authorize(claims, req)
			if !decision.Allowed {
				logger.Warn("insufficient role",
					zap.String("sub", claims.Subject),
					zap.Stringer("requirement", req),
					zap.Strings("missing", decision.Missing))
				_ = utils.WriteForbidden(w, MsgInsufficientRole)
				return
			}

			logger.Debug("role check passed",
				zap.Stringer("requirement", req))

			next.ServeHTTP(w, r)
		})
	}
}

// RequireServiceAccount is a middleware that requires valid Basic service credentials
func (m *AuthMiddleware) RequireServiceAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.FromContext(ctx, m.logger)

		username, password, ok := r.BasicAuth()
		var identity *auth.ServiceIdentity
		err := auth.ErrMissingCredentials
		if ok {
			identity, err = m.services.Authenticate(username, password)
		}

		if err != nil {
			logger.Warn("service authentication failed", zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Basic realm="`+m.basicRealm+`"`)
			msg := MsgInvalidServiceCreds
			if errors.Is(err, auth.ErrMissingCredentials) {
				msg = MsgMissingBasicAuth
			}
			_ = utils.WriteUnauthorized(w, msg)
			return
		}

		logger.Debug("service authentication successful",
			zap.String("service_user", identity.Subject))

		next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
	})
}

// writeVerificationError maps verifier errors to HTTP responses
func writeVerificationError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, keycloak.ErrKeyFetchFailed):
		logger.Error("signing keys unavailable", zap.Error(err))
		_ = utils.WriteBadGateway(w, MsgIdentityProviderDown)

	case errors.Is(err, keycloak.ErrSigningKeyNotFound):
		logger.Warn("token signed with unknown key", zap.Error(err))
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		_ = utils.WriteUnauthorized(w, MsgSigningKeyNotFound)

	default:
		logger.Warn("token validation failed", zap.Error(err))
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		_ = utils.WriteUnauthorized(w, MsgInvalidToken)
	}
}

var (
	errMissingAuthHeader = errors.New("authorization header missing")
	errMalformedHeader   = errors.New("authorization header is not a bearer token")
)

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errMissingAuthHeader
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errMalformedHeader
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errMalformedHeader
	}
	return token, nil
}
