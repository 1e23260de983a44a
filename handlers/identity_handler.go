package handlers

import (
	"net/http"

	"github.com/upb/keycloak-gateway/internal/observability"
	"github.com/upb/keycloak-gateway/middleware"
	"github.com/upb/keycloak-gateway/utils"
	"go.uber.org/zap"
)

// HomeResponse is returned by GET /
type HomeResponse struct {
	Message string `json:"message"`
	Realm   string `json:"realm"`
	Issuer  string `json:"issuer"`
}

// ProfileResponse is returned by GET /me
type ProfileResponse struct {
	Sub               string   `json:"sub"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Email             string   `json:"email,omitempty"`
	Roles             []string `json:"roles"`
}

// ServiceDataResponse is returned by GET /service-data
type ServiceDataResponse struct {
	Message     string `json:"message"`
	ServiceUser string `json:"service_user"`
}

// IdentityHandler serves the endpoints that echo the authenticated caller
type IdentityHandler struct {
	realm  string
	issuer string
	logger *zap.Logger
}

// NewIdentityHandler creates a new IdentityHandler
func NewIdentityHandler(realm, issuer string, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{
		realm:  realm,
		issuer: issuer,
		logger: logger,
	}
}

// HandleHome handles GET /
func (h *IdentityHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HomeResponse{
		Message: "Keycloak gateway is running",
		Realm:   h.realm,
		Issuer:  h.issuer,
	})
}

// HandleMe handles GET /me
func (h *IdentityHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		_ = utils.WriteUnauthorized(w, middleware.MsgAuthenticationRequired)
		return
	}

	_ = utils.WriteOK(w, ProfileResponse{
		Sub:               claims.Subject,
		PreferredUsername: claims.PreferredUsername,
		Email:             claims.Email,
		Roles:             claims.RealmRoles(),
	})
}

// HandleAdmin handles GET /admin
func (h *IdentityHandler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]string{
		"message": "You have admin access from Keycloak",
	})
}

// HandleServiceData handles GET /service-data
func (h *IdentityHandler) HandleServiceData(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetServiceIdentityFromContext(r.Context())
	if identity == nil {
		_ = utils.WriteUnauthorized(w, middleware.MsgAuthenticationRequired)
		return
	}

	observability.FromContext(r.Context(), h.logger).Debug("service data requested",
		zap.String("service_user", identity.Subject))

	_ = utils.WriteOK(w, ServiceDataResponse{
		Message:     "Service account authenticated via HTTP Basic",
		ServiceUser: identity.Subject,
	})
}
