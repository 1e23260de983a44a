package keycloak

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func defaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		Issuer:         testIssuer,
		Audience:       testAudience,
		VerifyIssuer:   true,
		VerifyAudience: true,
	}
}

func rsaSigningKey(kid string, pub interface{}) SigningKey {
	return SigningKey{KeyID: kid, KeyType: "RSA", Algorithm: "RS256", Use: "sig", PublicKey: pub}
}

func TestNewVerifier(t *testing.T) {
	keys := new(MockKeyProvider)

	t.Run("defaults to RS256", func(t *testing.T) {
		v, err := NewVerifier(keys, defaultVerifierConfig(), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"RS256"}, v.cfg.Algorithms)
	})

	t.Run("rejects unsupported algorithm", func(t *testing.T) {
		cfg := defaultVerifierConfig()
		cfg.Algorithms = []string{"RS256", "HS256"}
		_, err := NewVerifier(keys, cfg, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "HS256")
	})

	t.Run("requires issuer when issuer check is enabled", func(t *testing.T) {
		cfg := defaultVerifierConfig()
		cfg.Issuer = ""
		_, err := NewVerifier(keys, cfg, nil)
		assert.Error(t, err)
	})

	t.Run("requires audience when audience check is enabled", func(t *testing.T) {
		cfg := defaultVerifierConfig()
		cfg.Audience = ""
		_, err := NewVerifier(keys, cfg, nil)
		assert.Error(t, err)
	})

	t.Run("requires key provider", func(t *testing.T) {
		_, err := NewVerifier(nil, defaultVerifierConfig(), nil)
		assert.Error(t, err)
	})
}

func TestVerifier_Verify(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	privateKey := generateTestKeyPair(t)
	signingKey := rsaSigningKey("k1", &privateKey.PublicKey)

	t.Run("valid token returns claims", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		want := validClaims("admin", "user")
		want.ResourceAccess = map[string]ResourceAccess{"account": {Roles: []string{"view-profile"}}}
		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k1", want)

		got, err := v.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, want.Subject, got.Subject)
		assert.Equal(t, want.Issuer, got.Issuer)
		assert.Equal(t, want.Audience, got.Audience)
		assert.Equal(t, want.ExpiresAt.Unix(), got.ExpiresAt.Unix())
		assert.Equal(t, "alice", got.PreferredUsername)
		assert.Equal(t, "alice@example.com", got.Email)
		assert.True(t, got.EmailVerified)
		assert.Equal(t, []string{"admin", "user"}, got.RealmRoles())
		assert.Equal(t, []string{"view-profile"}, got.ClientRoles("account"))
		keys.AssertExpectations(t)
	})

	t.Run("unknown kid is SigningKeyNotFound not InvalidToken", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k9").
			Return(SigningKey{}, ErrSigningKeyNotFound)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k9", validClaims())
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrSigningKeyNotFound)
		assert.NotErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("key fetch failure is propagated", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").
			Return(SigningKey{}, errors.Join(ErrKeyFetchFailed, errors.New("status code 500")))
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k1", validClaims())
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrKeyFetchFailed)
		assert.NotErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token is invalid", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k1", claims)

		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("expired token with bad signature is invalid", func(t *testing.T) {
		otherKey := generateTestKeyPair(t)
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		token := createTestToken(t, otherKey, jwt.SigningMethodRS256, "k1", claims)

		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("token without exp is invalid", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		claims := validClaims()
		claims.ExpiresAt = nil
		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k1", claims)

		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("leeway tolerates small clock skew", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		cfg := defaultVerifierConfig()
		cfg.Leeway = 30 * time.Second
		v, err := NewVerifier(keys, cfg, logger)
		require.NoError(t, err)

		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-10 * time.Second))
		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k1", claims)

		_, err = v.Verify(ctx, token)
		assert.NoError(t, err)
	})

	t.Run("bad signature is invalid", func(t *testing.T) {
		otherKey := generateTestKeyPair(t)
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		token := createTestToken(t, otherKey, jwt.SigningMethodRS256, "k1", validClaims())
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing kid is invalid", func(t *testing.T) {
		keys := new(MockKeyProvider)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "", validClaims())
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
		keys.AssertNotCalled(t, "GetKey", mock.Anything, mock.Anything)
	})

	t.Run("malformed token is invalid", func(t *testing.T) {
		keys := new(MockKeyProvider)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		for _, raw := range []string{"", "not-a-jwt", "a.b.c", "eyJhbGciOiJSUzI1NiJ9.e30"} {
			_, err = v.Verify(ctx, raw)
			assert.ErrorIs(t, err, ErrInvalidToken, raw)
		}
		keys.AssertNotCalled(t, "GetKey", mock.Anything, mock.Anything)
	})

	t.Run("algorithm outside the allowlist is rejected before key lookup", func(t *testing.T) {
		keys := new(MockKeyProvider)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		hsToken := createTestToken(t, []byte("shared-secret"), jwt.SigningMethodHS256, "k1", validClaims())
		_, err = v.Verify(ctx, hsToken)
		assert.ErrorIs(t, err, ErrInvalidToken)

		psToken := createTestToken(t, privateKey, jwt.SigningMethodPS256, "k1", validClaims())
		_, err = v.Verify(ctx, psToken)
		assert.ErrorIs(t, err, ErrInvalidToken)

		noneToken := createTestToken(t, jwt.UnsafeAllowNoneSignatureType, jwt.SigningMethodNone, "k1", validClaims())
		_, err = v.Verify(ctx, noneToken)
		assert.ErrorIs(t, err, ErrInvalidToken)

		keys.AssertNotCalled(t, "GetKey", mock.Anything, mock.Anything)
	})

	t.Run("key declared for another algorithm is rejected", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		cfg := defaultVerifierConfig()
		cfg.Algorithms = []string{"RS256", "RS384"}
		v, err := NewVerifier(keys, cfg, logger)
		require.NoError(t, err)

		token := createTestToken(t, privateKey, jwt.SigningMethodRS384, "k1", validClaims())
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("key family must match the method", func(t *testing.T) {
		ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "ec").
			Return(SigningKey{KeyID: "ec", KeyType: "EC", PublicKey: &ecKey.PublicKey}, nil)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "ec", validClaims())
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("ES256 is accepted when allowlisted", func(t *testing.T) {
		ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "ec").
			Return(SigningKey{KeyID: "ec", KeyType: "EC", Algorithm: "ES256", PublicKey: &ecKey.PublicKey}, nil)
		cfg := defaultVerifierConfig()
		cfg.Algorithms = []string{"ES256"}
		v, err := NewVerifier(keys, cfg, logger)
		require.NoError(t, err)

		token := createTestToken(t, ecKey, jwt.SigningMethodES256, "ec", validClaims("user"))
		claims, err := v.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, []string{"user"}, claims.RealmRoles())
	})

	t.Run("wrong issuer is invalid", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		claims := validClaims()
		claims.Issuer = "http://evil.test/realms/demo"
		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k1", claims)

		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})

	t.Run("wrong audience is invalid", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		claims := validClaims()
		claims.Audience = jwt.ClaimStrings{"some-other-client"}
		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k1", claims)

		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)
	})

	t.Run("issuer and audience checks can be disabled", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		v, err := NewVerifier(keys, VerifierConfig{}, logger)
		require.NoError(t, err)

		claims := validClaims()
		claims.Issuer = "http://elsewhere.test"
		claims.Audience = nil
		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k1", claims)

		_, err = v.Verify(ctx, token)
		assert.NoError(t, err)
	})

	t.Run("token issued in the future is invalid", func(t *testing.T) {
		keys := new(MockKeyProvider)
		keys.On("GetKey", mock.Anything, "k1").Return(signingKey, nil)
		v, err := NewVerifier(keys, defaultVerifierConfig(), logger)
		require.NoError(t, err)

		claims := validClaims()
		claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(10 * time.Minute))
		token := createTestToken(t, privateKey, jwt.SigningMethodRS256, "k1", claims)

		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerifier_WithKeyCache(t *testing.T) {
	ctx := context.Background()
	key1 := generateTestKeyPair(t)
	key2 := generateTestKeyPair(t)

	server := newJWKSServer(t, buildJWKS(t, rsaJWK("k1", key1), rsaJWK("k2", key2)))
	cache := newTestKeyCache(t, server.URL, newFakeClock())
	v, err := NewVerifier(cache, defaultVerifierConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("token signed by k1 verifies and carries its roles", func(t *testing.T) {
		token := createTestToken(t, key1, jwt.SigningMethodRS256, "k1", validClaims("admin"))

		claims, err := v.Verify(ctx, token)
		require.NoError(t, err)
		assert.True(t, claims.HasRealmRole("admin"))
		assert.False(t, claims.HasRealmRole("superadmin"))
	})

	t.Run("token signed by k2 verifies", func(t *testing.T) {
		token := createTestToken(t, key2, jwt.SigningMethodRS256, "k2", validClaims())
		_, err := v.Verify(ctx, token)
		assert.NoError(t, err)
	})

	t.Run("token claiming k2 but signed by k1 is invalid", func(t *testing.T) {
		token := createTestToken(t, key1, jwt.SigningMethodRS256, "k2", validClaims())
		_, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown kid", func(t *testing.T) {
		token := createTestToken(t, key1, jwt.SigningMethodRS256, "k3", validClaims())
		_, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrSigningKeyNotFound)
	})
}

func TestVerifier_ProviderDown(t *testing.T) {
	key1 := generateTestKeyPair(t)
	server := newJWKSServer(t, nil)
	server.set(nil, 500)
	cache := newTestKeyCache(t, server.URL, newFakeClock())
	v, err := NewVerifier(cache, defaultVerifierConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	token := createTestToken(t, key1, jwt.SigningMethodRS256, "k1", validClaims())
	for i := 0; i < 3; i++ {
		_, err = v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrKeyFetchFailed)
	}
}
