package keycloak

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "http://keycloak.test/realms/demo"
	testAudience = "backend-service"
)

// Test helper to generate RSA key pair
func generateTestKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey
}

type testJWK struct {
	kid string
	alg jwa.SignatureAlgorithm
	use string
	key interface{}
}

// Test helper to build a JWKS document
func buildJWKS(t *testing.T, keys ...testJWK) []byte {
	t.Helper()
	set := jwk.NewSet()
	for _, k := range keys {
		key, err := jwk.FromRaw(k.key)
		require.NoError(t, err)
		if k.kid != "" {
			require.NoError(t, key.Set(jwk.KeyIDKey, k.kid))
		}
		if k.alg != "" {
			require.NoError(t, key.Set(jwk.AlgorithmKey, k.alg))
		}
		if k.use != "" {
			require.NoError(t, key.Set(jwk.KeyUsageKey, k.use))
		}
		require.NoError(t, set.AddKey(key))
	}
	data, err := json.Marshal(set)
	require.NoError(t, err)
	return data
}

func rsaJWK(kid string, key *rsa.PrivateKey) testJWK {
	return testJWK{kid: kid, alg: jwa.RS256, use: "sig", key: &key.PublicKey}
}

// jwksServer serves a swappable JWKS document and counts fetches
type jwksServer struct {
	*httptest.Server
	mu     sync.Mutex
	body   []byte
	status int
	delay  time.Duration
	hits   atomic.Int32
}

func newJWKSServer(t *testing.T, body []byte) *jwksServer {
	t.Helper()
	s := &jwksServer{body: body, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		body, status, delay := s.body, s.status, s.delay
		s.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) set(body []byte, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
	s.status = status
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Test helper to create a signed access token
func createTestToken(t *testing.T, key interface{}, method jwt.SigningMethod, kid string, claims *ClaimSet) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims(roles ...string) *ClaimSet {
	now := time.Now()
	claims := &ClaimSet{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "3f0c7d5e-6b1a-4c2b-9a57-1f4f8f9e2d11",
			Audience:  jwt.ClaimStrings{testAudience, "account"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		},
		Type:              "Bearer",
		AuthorizedParty:   testAudience,
		PreferredUsername: "alice",
		Email:             "alice@example.com",
		EmailVerified:     true,
	}
	if roles != nil {
		claims.RealmAccess = &RealmAccess{Roles: roles}
	}
	return claims
}

// MockKeyProvider is a mock implementation of KeyProvider
type MockKeyProvider struct {
	mock.Mock
}

func (m *MockKeyProvider) GetKey(ctx context.Context, kid string) (SigningKey, error) {
	args := m.Called(ctx, kid)
	return args.Get(0).(SigningKey), args.Error(1)
}
