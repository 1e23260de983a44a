package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/keycloak-gateway/keycloak"
)

const (
	defaultAdminPassword   = "admin"
	defaultServicePassword = "service-pass"
)

// Config represents the complete application configuration
type Config struct {
	Server         ServerConfig
	Keycloak       KeycloakConfig
	Admin          AdminConfig
	ServiceAccount ServiceAccountConfig
	Observability  ObservabilityConfig
	CORS           CORSConfig
	Environment    string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// KeycloakConfig holds token verification settings for the realm
type KeycloakConfig struct {
	ServerURL         string
	Realm             string
	ClientID          string
	Audience          string // defaults to ClientID when empty
	AllowedAlgorithms []string
	VerifyAudience    bool
	VerifyIssuer      bool
	ClockSkew         time.Duration
	JWKSCacheTTL      time.Duration
	JWKSMaxStale      time.Duration
	JWKSTimeout       time.Duration
}

// AdminConfig holds credentials for the Keycloak admin REST API
type AdminConfig struct {
	Realm        string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Timeout      time.Duration
	ListLimit    int
}

// ServiceAccountConfig holds the Basic-auth service credentials
type ServiceAccountConfig struct {
	Username string
	Password string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// CORSConfig holds cross-origin settings
type CORSConfig struct {
	AllowedOrigins []string
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := Load()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads configuration from the environment without validating it
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Keycloak: KeycloakConfig{
			ServerURL:         getEnv("KEYCLOAK_SERVER_URL", "http://localhost:8080"),
			Realm:             getEnv("KEYCLOAK_REALM", "master"),
			ClientID:          getEnv("KEYCLOAK_CLIENT_ID", "backend-service"),
			Audience:          getEnv("KEYCLOAK_AUDIENCE", ""),
			AllowedAlgorithms: getEnvAsList("KEYCLOAK_ALLOWED_ALGORITHMS", []string{"RS256"}),
			VerifyAudience:    getEnvAsBool("KEYCLOAK_VERIFY_AUDIENCE", true),
			VerifyIssuer:      getEnvAsBool("KEYCLOAK_VERIFY_ISSUER", true),
			ClockSkew:         getEnvAsDuration("KEYCLOAK_CLOCK_SKEW", 0),
			JWKSCacheTTL:      getEnvAsSeconds("KEYCLOAK_JWKS_CACHE_TTL", 300*time.Second),
			JWKSMaxStale:      getEnvAsDuration("KEYCLOAK_JWKS_MAX_STALE", time.Hour),
			JWKSTimeout:       getEnvAsDuration("KEYCLOAK_JWKS_TIMEOUT", 10*time.Second),
		},
		Admin: AdminConfig{
			Realm:        getEnv("KEYCLOAK_ADMIN_REALM", "master"),
			ClientID:     getEnv("KEYCLOAK_ADMIN_CLIENT_ID", "admin-cli"),
			ClientSecret: getEnv("KEYCLOAK_ADMIN_CLIENT_SECRET", ""),
			Username:     getEnv("KEYCLOAK_ADMIN_USERNAME", "admin"),
			Password:     getEnv("KEYCLOAK_ADMIN_PASSWORD", defaultAdminPassword),
			Timeout:      getEnvAsDuration("KEYCLOAK_ADMIN_TIMEOUT", 10*time.Second),
			ListLimit:    getEnvAsInt("KEYCLOAK_ADMIN_LIST_LIMIT", 50),
		},
		ServiceAccount: ServiceAccountConfig{
			Username: getEnv("SERVICE_USERNAME", "service-user"),
			Password: getEnv("SERVICE_PASSWORD", defaultServicePassword),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
		},
	}
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	u, err := url.Parse(c.Keycloak.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("keycloak server URL must be an absolute http(s) URL: %q", c.Keycloak.ServerURL)
	}
	if c.Keycloak.Realm == "" {
		return fmt.Errorf("keycloak realm is required")
	}
	if c.Keycloak.VerifyAudience && c.Keycloak.ResolvedAudience() == "" {
		return fmt.Errorf("keycloak audience or client ID is required when audience verification is enabled")
	}
	if len(c.Keycloak.AllowedAlgorithms) == 0 {
		return fmt.Errorf("at least one signing algorithm must be allowed")
	}
	for _, alg := range c.Keycloak.AllowedAlgorithms {
		if !keycloak.IsSupportedAlgorithm(alg) {
			return fmt.Errorf("unsupported signing algorithm %q", alg)
		}
	}
	if c.Keycloak.JWKSCacheTTL <= 0 {
		return fmt.Errorf("JWKS cache TTL must be positive")
	}
	if c.Keycloak.JWKSMaxStale < 0 {
		return fmt.Errorf("JWKS max stale must not be negative")
	}
	if c.Keycloak.ClockSkew < 0 {
		return fmt.Errorf("clock skew must not be negative")
	}

	if c.Admin.Realm == "" || c.Admin.ClientID == "" {
		return fmt.Errorf("keycloak admin realm and client ID are required")
	}
	if c.Admin.ListLimit <= 0 {
		return fmt.Errorf("admin list limit must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}

	if c.IsProduction() {
		if u.Scheme != "https" {
			return fmt.Errorf("keycloak server URL must use https in production")
		}
		if c.Admin.Password == defaultAdminPassword {
			return fmt.Errorf("default keycloak admin password is not allowed in production")
		}
		if c.ServiceAccount.Password == defaultServicePassword {
			return fmt.Errorf("default service password is not allowed in production")
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// BaseURL returns the server URL without a trailing slash
func (k *KeycloakConfig) BaseURL() string {
	return strings.TrimRight(k.ServerURL, "/")
}

// Issuer returns the expected token issuer for the realm
func (k *KeycloakConfig) Issuer() string {
	return fmt.Sprintf("%s/realms/%s", k.BaseURL(), k.Realm)
}

// JWKSURL returns the realm's certificate endpoint
func (k *KeycloakConfig) JWKSURL() string {
	return k.Issuer() + "/protocol/openid-connect/certs"
}

// ResolvedAudience returns the expected audience, falling back to the client ID
func (k *KeycloakConfig) ResolvedAudience() string {
	if k.Audience != "" {
		return k.Audience
	}
	return k.ClientID
}

// AdminTokenURL returns the token endpoint of the admin realm
func (c *Config) AdminTokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.Keycloak.BaseURL(), c.Admin.Realm)
}

// AdminRealmURL returns the admin REST base URL of the managed realm
func (c *Config) AdminRealmURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.Keycloak.BaseURL(), c.Keycloak.Realm)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds accepts either a bare number of seconds or a Go duration
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return getEnvAsDuration(key, defaultValue)
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
