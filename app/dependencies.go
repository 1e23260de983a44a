package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/upb/keycloak-gateway/auth"
	"github.com/upb/keycloak-gateway/config"
	"github.com/upb/keycloak-gateway/keycloak"
	"github.com/upb/keycloak-gateway/middleware"
	"github.com/upb/keycloak-gateway/services"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Token verification
	KeyCache *keycloak.KeyCache
	Verifier *keycloak.Verifier

	// Service credentials
	ServiceAuth *auth.ServiceAuthenticator

	// Keycloak admin API
	AdminClient *services.KeycloakAdminClient
	Users       *services.UserService

	// Middleware
	AuthMiddleware *middleware.AuthMiddleware
}

// Options overrides collaborators; used by tests
type Options struct {
	HTTPClient *http.Client
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	return NewDependenciesWithOptions(ctx, cfg, logger, Options{})
}

// NewDependenciesWithOptions is NewDependencies with overridable collaborators
func NewDependenciesWithOptions(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initVerifier(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	deps.initServiceAuth(cfg)
	deps.initAdmin(cfg, opts)

	deps.AuthMiddleware = middleware.NewAuthMiddleware(deps.Verifier, deps.ServiceAuth, logger)

	logger.Info("all dependencies initialized successfully",
		zap.String("realm", cfg.Keycloak.Realm),
		zap.String("issuer", cfg.Keycloak.Issuer()))
	return deps, nil
}

// initVerifier builds the key cache and the token verifier
func (d *Dependencies) initVerifier(cfg *config.Config, opts Options) error {
	d.KeyCache = keycloak.NewKeyCache(keycloak.KeyCacheConfig{
		JWKSURL:     cfg.Keycloak.JWKSURL(),
		TTL:         cfg.Keycloak.JWKSCacheTTL,
		MaxStale:    cfg.Keycloak.JWKSMaxStale,
		HTTPTimeout: cfg.Keycloak.JWKSTimeout,
		HTTPClient:  opts.HTTPClient,
	}, d.Logger.Named("jwks"))

	verifier, err := keycloak.NewVerifier(d.KeyCache, keycloak.VerifierConfig{
		Issuer:         cfg.Keycloak.Issuer(),
		Audience:       cfg.Keycloak.ResolvedAudience(),
		Algorithms:     cfg.Keycloak.AllowedAlgorithms,
		VerifyIssuer:   cfg.Keycloak.VerifyIssuer,
		VerifyAudience: cfg.Keycloak.VerifyAudience,
		Leeway:         cfg.Keycloak.ClockSkew,
	}, d.Logger.Named("verifier"))
	if err != nil {
		return err
	}
	d.Verifier = verifier

	if !cfg.Keycloak.VerifyAudience {
		d.Logger.Warn("token audience verification is disabled")
	}
	if !cfg.Keycloak.VerifyIssuer {
		d.Logger.Warn("token issuer verification is disabled")
	}

	d.Logger.Info("token verifier initialized",
		zap.String("jwks_url", cfg.Keycloak.JWKSURL()),
		zap.Strings("algorithms", cfg.Keycloak.AllowedAlgorithms),
		zap.Duration("jwks_ttl", cfg.Keycloak.JWKSCacheTTL))
	return nil
}

// initServiceAuth sets up the Basic-auth service account
func (d *Dependencies) initServiceAuth(cfg *config.Config) {
	d.ServiceAuth = auth.NewServiceAuthenticator(cfg.ServiceAccount.Username, cfg.ServiceAccount.Password)
	if cfg.ServiceAccount.Password == "" {
		d.Logger.Warn("service account password is empty; basic auth is disabled")
	}
}

// initAdmin sets up the Keycloak admin client and user service
func (d *Dependencies) initAdmin(cfg *config.Config, opts Options) {
	adminCfg := services.NewAdminClientConfig(cfg)
	adminCfg.HTTPClient = opts.HTTPClient

	d.AdminClient = services.NewKeycloakAdminClient(adminCfg, d.Logger.Named("keycloak-admin"))
	d.Users = services.NewUserService(d.AdminClient, cfg.Admin.ListLimit, d.Logger.Named("users"))
}
