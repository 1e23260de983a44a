package keycloak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrKeyFetchFailed is returned when the key set cannot be retrieved from the identity provider
	ErrKeyFetchFailed = errors.New("failed to fetch signing keys")

	// ErrSigningKeyNotFound is returned when no key in the current set matches the token kid
	ErrSigningKeyNotFound = errors.New("signing key not found")
)

const maxJWKSBodySize = 1 << 20

// KeyCacheConfig holds configuration for KeyCache
type KeyCacheConfig struct {
	JWKSURL string

	// TTL is how long a fetched key set is considered fresh
	TTL time.Duration

	// MaxStale is how long past TTL a key set keeps being served while refreshes fail
	MaxStale time.Duration

	// RetryInterval spaces refresh attempts while the provider is failing
	RetryInterval time.Duration

	// MinRefreshInterval bounds how often an unknown kid may force an early refresh
	MinRefreshInterval time.Duration

	HTTPTimeout time.Duration
	HTTPClient  *http.Client
}

// keySnapshot is published atomically; readers never see a partially refreshed set
type keySnapshot struct {
	keys        *KeySet
	fetchedAt   time.Time
	lastAttempt time.Time
	nextRefresh time.Time
	lastErr     error
}

// KeyCache holds the identity provider's signing keys.
// Refreshes are single-flight and replace the whole set at once.
type KeyCache struct {
	cfg        KeyCacheConfig
	httpClient *http.Client
	logger     *zap.Logger

	current atomic.Pointer[keySnapshot]
	group   singleflight.Group
	now     func() time.Time
}

// KeyCacheStats describes the cache state
type KeyCacheStats struct {
	Loaded    bool      `json:"loaded"`
	Stale     bool      `json:"stale"`
	KeyIDs    []string  `json:"key_ids"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// NewKeyCache creates a new KeyCache
func NewKeyCache(cfg KeyCacheConfig, logger *zap.Logger) *KeyCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxStale < 0 {
		cfg.MaxStale = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = 30 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &KeyCache{
		cfg:        cfg,
		httpClient: client,
		logger:     logger,
		now:        time.Now,
	}
}

// GetKey returns the signing key for kid, refreshing the key set when it is missing or expired
func (c *KeyCache) GetKey(ctx context.Context, kid string) (SigningKey, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return SigningKey{}, err
	}

	if key, ok := snap.keys.Lookup(kid); ok {
		return key, nil
	}

	// Unknown kid: the provider may have rotated keys since the last fetch
	if c.now().Sub(snap.lastAttempt) >= c.cfg.MinRefreshInterval {
		c.logger.Debug("unknown kid, refreshing key set early", zap.String("kid", kid))
		if fresh, err := c.refresh(ctx); err == nil {
			if key, ok := fresh.keys.Lookup(kid); ok {
				return key, nil
			}
		}
	}

	return SigningKey{}, fmt.Errorf("%w: kid %q", ErrSigningKeyNotFound, kid)
}

// Keys returns the current key set, fetching it if necessary
func (c *KeyCache) Keys(ctx context.Context) (*KeySet, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.keys, nil
}

// Refresh forces a fetch of the key set
func (c *KeyCache) Refresh(ctx context.Context) (*KeySet, error) {
	snap, err := c.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return snap.keys, nil
}

// Invalidate drops the cached key set; the next lookup fetches a new one
func (c *KeyCache) Invalidate() {
	c.current.Store(nil)
}

// Stats returns cache statistics
func (c *KeyCache) Stats() KeyCacheStats {
	snap := c.current.Load()
	if snap == nil {
		return KeyCacheStats{KeyIDs: []string{}}
	}

	stats := KeyCacheStats{
		Loaded:    snap.keys != nil,
		KeyIDs:    snap.keys.KeyIDs(),
		FetchedAt: snap.fetchedAt,
		ExpiresAt: snap.fetchedAt.Add(c.cfg.TTL),
	}
	if stats.KeyIDs == nil {
		stats.KeyIDs = []string{}
	}
	if snap.lastErr != nil {
		stats.LastError = snap.lastErr.Error()
	}
	stats.Stale = stats.Loaded && !c.now().Before(stats.ExpiresAt)
	return stats
}

// snapshot returns a usable snapshot, refreshing when the current one is absent or due
func (c *KeyCache) snapshot(ctx context.Context) (*keySnapshot, error) {
	snap := c.current.Load()
	if snap == nil || snap.keys == nil {
		return c.refresh(ctx)
	}

	now := c.now()
	staleUntil := snap.fetchedAt.Add(c.cfg.TTL + c.cfg.MaxStale)
	if now.Before(snap.nextRefresh) {
		// Waiting out the retry interval after a failed refresh
		if snap.lastErr != nil && now.After(staleUntil) {
			return nil, snap.lastErr
		}
		return snap, nil
	}

	fresh, err := c.refresh(ctx)
	if err == nil {
		return fresh, nil
	}

	if now.After(staleUntil) {
		return nil, err
	}

	c.logger.Warn("serving stale signing keys",
		zap.Time("fetched_at", snap.fetchedAt),
		zap.Time("stale_until", staleUntil),
		zap.Error(err))
	return snap, nil
}

// refresh fetches the key set once for all concurrent callers
func (c *KeyCache) refresh(ctx context.Context) (*keySnapshot, error) {
	ch := c.group.DoChan("jwks", func() (interface{}, error) {
		// Detach from the caller so one cancelled request does not fail the others
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.HTTPTimeout)
		defer cancel()
		return c.fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrKeyFetchFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*keySnapshot), nil
	}
}

func (c *KeyCache) fetch(ctx context.Context) (*keySnapshot, error) {
	started := c.now()

	keys, err := c.fetchKeySet(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
		c.logger.Error("jwks fetch failed",
			zap.String("jwks_url", c.cfg.JWKSURL),
			zap.Error(err))

		// Keep serving the previous keys; the next attempt waits for RetryInterval
		if prev := c.current.Load(); prev != nil && prev.keys != nil {
			c.current.Store(&keySnapshot{
				keys:        prev.keys,
				fetchedAt:   prev.fetchedAt,
				lastAttempt: started,
				nextRefresh: started.Add(c.cfg.RetryInterval),
				lastErr:     err,
			})
		}
		return nil, err
	}

	for _, reason := range keys.Skipped() {
		c.logger.Debug("skipped jwks entry", zap.String("reason", reason))
	}

	snap := &keySnapshot{
		keys:        keys,
		fetchedAt:   started,
		lastAttempt: started,
		nextRefresh: started.Add(c.cfg.TTL),
	}
	c.current.Store(snap)

	c.logger.Info("signing keys refreshed",
		zap.Int("keys", keys.Len()),
		zap.Strings("kids", keys.KeyIDs()))
	return snap, nil
}

func (c *KeyCache) fetchKeySet(ctx context.Context) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxJWKSBodySize))
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS: %w", err)
	}

	return ParseKeySet(body)
}
