package keycloak

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ErrNoUsableKeys is returned when a JWKS document parses but holds no signing keys
var ErrNoUsableKeys = errors.New("jwks contains no usable signing keys")

// SigningKey is a verification key published by the identity provider
type SigningKey struct {
	KeyID     string
	KeyType   string
	Algorithm string // empty when the JWK does not declare one
	Use       string
	PublicKey crypto.PublicKey
}

// KeySet is an immutable kid-indexed view of a JWKS document.
// A KeySet is never modified after ParseKeySet returns it.
type KeySet struct {
	keys    map[string]SigningKey
	skipped []string
}

// ParseKeySet converts a raw JWKS document into a KeySet.
// Encryption keys and keys without a kid are skipped. When two keys share a kid
// the first one wins.
func ParseKeySet(data []byte) (*KeySet, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	ks := &KeySet{keys: make(map[string]SigningKey, set.Len())}
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}

		kid := key.KeyID()
		if kid == "" {
			ks.skipped = append(ks.skipped, fmt.Sprintf("key #%d: missing kid", i))
			continue
		}
		if key.KeyUsage() == string(jwk.ForEncryption) {
			ks.skipped = append(ks.skipped, fmt.Sprintf("%s: encryption key", kid))
			continue
		}
		if _, exists := ks.keys[kid]; exists {
			ks.skipped = append(ks.skipped, fmt.Sprintf("%s: duplicate kid", kid))
			continue
		}

		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			ks.skipped = append(ks.skipped, fmt.Sprintf("%s: %v", kid, err))
			continue
		}
		pub, err := publicKeyOf(raw)
		if err != nil {
			ks.skipped = append(ks.skipped, fmt.Sprintf("%s: %v", kid, err))
			continue
		}

		var alg string
		if key.Algorithm() != nil {
			alg = key.Algorithm().String()
		}

		ks.keys[kid] = SigningKey{
			KeyID:     kid,
			KeyType:   key.KeyType().String(),
			Algorithm: alg,
			Use:       key.KeyUsage(),
			PublicKey: pub,
		}
	}

	if len(ks.keys) == 0 {
		return nil, ErrNoUsableKeys
	}
	return ks, nil
}

// Lookup returns the key with the given kid
func (ks *KeySet) Lookup(kid string) (SigningKey, bool) {
	if ks == nil {
		return SigningKey{}, false
	}
	key, ok := ks.keys[kid]
	return key, ok
}

// Len returns the number of usable keys
func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.keys)
}

// KeyIDs returns the key ids in lexical order
func (ks *KeySet) KeyIDs() []string {
	if ks == nil {
		return nil
	}
	ids := make([]string, 0, len(ks.keys))
	for kid := range ks.keys {
		ids = append(ids, kid)
	}
	sort.Strings(ids)
	return ids
}

// Keys returns the keys ordered by kid
func (ks *KeySet) Keys() []SigningKey {
	ids := ks.KeyIDs()
	out := make([]SigningKey, 0, len(ids))
	for _, kid := range ids {
		out = append(out, ks.keys[kid])
	}
	return out
}

// Skipped describes the JWKS entries that were not loaded
func (ks *KeySet) Skipped() []string {
	if ks == nil {
		return nil
	}
	return append([]string(nil), ks.skipped...)
}

func publicKeyOf(raw interface{}) (crypto.PublicKey, error) {
	switch k := raw.(type) {
	case *rsa.PublicKey:
		return k, nil
	case *ecdsa.PublicKey:
		return k, nil
	case ed25519.PublicKey:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", raw)
	}
}
