package keycloak

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrInvalidToken is returned for malformed, badly signed or expired tokens and
// tokens whose issuer or audience does not match
var ErrInvalidToken = errors.New("invalid token")

// SupportedAlgorithms lists the signature algorithms that may appear in the allowlist
var SupportedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// KeyProvider resolves signing keys by kid
type KeyProvider interface {
	GetKey(ctx context.Context, kid string) (SigningKey, error)
}

// VerifierConfig holds configuration for Verifier
type VerifierConfig struct {
	Issuer   string
	Audience string

	// Algorithms is the allowlist of accepted signature algorithms. Defaults to RS256.
	Algorithms []string

	VerifyIssuer   bool
	VerifyAudience bool

	// Leeway is the clock skew tolerated on exp, nbf and iat
	Leeway time.Duration
}

// Verifier validates Keycloak bearer tokens
type Verifier struct {
	keys   KeyProvider
	cfg    VerifierConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewVerifier creates a new Verifier
func NewVerifier(keys KeyProvider, cfg VerifierConfig, logger *zap.Logger) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("key provider is required")
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{"RS256"}
	}
	for _, alg := range cfg.Algorithms {
		if !IsSupportedAlgorithm(alg) {
			return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
		}
	}
	if cfg.VerifyIssuer && cfg.Issuer == "" {
		return nil, errors.New("issuer is required when issuer verification is enabled")
	}
	if cfg.VerifyAudience && cfg.Audience == "" {
		return nil, errors.New("audience is required when audience verification is enabled")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Verifier{
		keys:   keys,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// IsSupportedAlgorithm reports whether alg can be placed in the allowlist
func IsSupportedAlgorithm(alg string) bool {
	for _, a := range SupportedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// Verify validates a raw bearer token and returns its claims.
// Errors wrap ErrInvalidToken, ErrSigningKeyNotFound or ErrKeyFetchFailed.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*ClaimSet, error) {
	claims := &ClaimSet{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc(ctx), v.parserOptions()...)
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *Verifier) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.cfg.VerifyIssuer {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.VerifyAudience {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	return opts
}

// keyFunc resolves the verification key from the kid header.
// The alg header was already checked against the allowlist by the parser.
func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: kid header not found", ErrInvalidToken)
		}

		key, err := v.keys.GetKey(ctx, kid)
		if err != nil {
			return nil, err
		}

		if key.Algorithm != "" && key.Algorithm != token.Method.Alg() {
			return nil, fmt.Errorf("%w: key %s is bound to %s, token uses %s",
				ErrInvalidToken, kid, key.Algorithm, token.Method.Alg())
		}
		if !keyMatchesMethod(key.PublicKey, token.Method) {
			return nil, fmt.Errorf("%w: key %s cannot verify %s", ErrInvalidToken, kid, token.Method.Alg())
		}

		return key.PublicKey, nil
	}
}

func keyMatchesMethod(key interface{}, method jwt.SigningMethod) bool {
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		_, ok := key.(*rsa.PublicKey)
		return ok
	case *jwt.SigningMethodECDSA:
		_, ok := key.(*ecdsa.PublicKey)
		return ok
	case *jwt.SigningMethodEd25519:
		_, ok := key.(ed25519.PublicKey)
		return ok
	default:
		return false
	}
}

// classify reduces parser errors to the three verification outcomes
func classify(err error) error {
	switch {
	case errors.Is(err, ErrKeyFetchFailed):
		return err
	case errors.Is(err, ErrSigningKeyNotFound):
		return err
	case errors.Is(err, ErrInvalidToken):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
}
