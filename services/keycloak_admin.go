package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/keycloak-gateway/config"
	"github.com/upb/keycloak-gateway/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const maxAdminResponseSize = 4 << 20

// AdminClientConfig holds configuration for KeycloakAdminClient
type AdminClientConfig struct {
	TokenURL     string // admin realm token endpoint
	RealmURL     string // {server}/admin/realms/{realm}
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// NewAdminClientConfig derives the admin client settings from application config
func NewAdminClientConfig(cfg *config.Config) AdminClientConfig {
	return AdminClientConfig{
		TokenURL:     cfg.AdminTokenURL(),
		RealmURL:     cfg.AdminRealmURL(),
		ClientID:     cfg.Admin.ClientID,
		ClientSecret: cfg.Admin.ClientSecret,
		Username:     cfg.Admin.Username,
		Password:     cfg.Admin.Password,
		Timeout:      cfg.Admin.Timeout,
	}
}

// KeycloakAdminClient calls the Keycloak admin REST API for one realm.
// It obtains an admin token with the password grant and reuses it until it expires.
type KeycloakAdminClient struct {
	cfg        AdminClientConfig
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *zap.Logger

	tokenMu sync.Mutex
	token   *oauth2.Token
}

// NewKeycloakAdminClient creates a new KeycloakAdminClient
func NewKeycloakAdminClient(cfg AdminClientConfig, logger *zap.Logger) *KeycloakAdminClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KeycloakAdminClient{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: client,
		logger:     logger,
	}
}

// CreateUser creates a user and returns its id
func (c *KeycloakAdminClient) CreateUser(ctx context.Context, user models.UserRepresentation) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "users", nil, user)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		return "", ErrUserAlreadyExists
	default:
		return "", c.unexpected("create user", resp)
	}

	id, err := userIDFromLocation(resp.Header.Get("Location"))
	if err != nil {
		return "", Wrap(ErrKeycloakRequest, err)
	}
	return id, nil
}

// GetUser fetches a user by id
func (c *KeycloakAdminClient) GetUser(ctx context.Context, id string) (*models.UserRepresentation, error) {
	resp, err := c.do(ctx, http.MethodGet, "users/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrUserNotFound
	default:
		return nil, c.unexpected("get user", resp)
	}

	var user models.UserRepresentation
	if err := decodeBody(resp, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers lists users, optionally filtered by a search string
func (c *KeycloakAdminClient) ListUsers(ctx context.Context, query models.ListUsersQuery) ([]models.UserRepresentation, error) {
	params := url.Values{}
	params.Set("max", strconv.Itoa(query.Max))
	if query.Search != "" {
		params.Set("search", query.Search)
	}

	resp, err := c.do(ctx, http.MethodGet, "users", params, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpected("list users", resp)
	}

	users := []models.UserRepresentation{}
	if err := decodeBody(resp, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetRealmRole fetches a realm role by name
func (c *KeycloakAdminClient) GetRealmRole(ctx context.Context, name string) (*models.RoleRepresentation, error) {
	resp, err := c.do(ctx, http.MethodGet, "roles/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrRoleNotFound.WithDetail("role", name)
	default:
		return nil, c.unexpected("get realm role", resp)
	}

	var role models.RoleRepresentation
	if err := decodeBody(resp, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// AssignRealmRole grants a realm role to a user
func (c *KeycloakAdminClient) AssignRealmRole(ctx context.Context, userID, roleName string) error {
	role, err := c.GetRealmRole(ctx, roleName)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost,
		"users/"+url.PathEscape(userID)+"/role-mappings/realm", nil,
		[]models.RoleRepresentation{*role})
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrUserNotFound
	default:
		return c.unexpected("assign realm role", resp)
	}
}

// do sends an authenticated admin request. A 401 drops the cached token and
// the request is retried once with a fresh one.
func (c *KeycloakAdminClient) do(ctx context.Context, method, rel string, query url.Values, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, WrapInternal("failed to encode admin request", err)
		}
	}

	target := c.cfg.RealmURL + "/" + rel
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		token, err := c.adminToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return nil, WrapInternal("failed to create admin request", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		token.SetAuthHeader(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, Wrap(ErrKeycloakRequest, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			drain(resp)
			c.logger.Info("admin token rejected, re-authenticating")
			c.clearToken()
			continue
		}
		return resp, nil
	}
}

// adminToken returns a cached admin token or obtains a new one
func (c *KeycloakAdminClient) adminToken(ctx context.Context) (*oauth2.Token, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token.Valid() {
		return c.token, nil
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth.PasswordCredentialsToken(tokenCtx, c.cfg.Username, c.cfg.Password)
	if err != nil {
		c.logger.Error("failed to obtain admin token",
			zap.String("token_url", c.cfg.TokenURL),
			zap.Error(err))
		return nil, Wrap(ErrAdminTokenFailed, err)
	}

	c.token = token
	return token, nil
}

func (c *KeycloakAdminClient) clearToken() {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = nil
}

// unexpected converts an unexpected admin response into an upstream error
func (c *KeycloakAdminClient) unexpected(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	c.logger.Warn("unexpected keycloak admin response",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body))
	err := ErrKeycloakRequest.WithDetail("upstream_status", resp.StatusCode)
	err.Err = fmt.Errorf("%s: status %d", op, resp.StatusCode)
	return err
}

func decodeBody(resp *http.Response, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAdminResponseSize)).Decode(v); err != nil {
		return Wrap(ErrKeycloakRequest, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxAdminResponseSize))
	_ = resp.Body.Close()
}

// userIDFromLocation extracts the new user's id from the Location header
func userIDFromLocation(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("missing Location header")
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid Location header: %w", err)
	}
	id := path.Base(u.Path)
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("location %q does not end in a user id", location)
	}
	return id, nil
}
