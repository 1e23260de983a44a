package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

var (
	// ErrMissingCredentials is returned when no service credentials were supplied
	ErrMissingCredentials = errors.New("missing basic auth credentials")

	// ErrInvalidCredentials is returned when the supplied service credentials do not match
	ErrInvalidCredentials = errors.New("invalid service credentials")
)

// ServiceIdentity is the caller authenticated by service credentials
type ServiceIdentity struct {
	Subject string `json:"sub"`
}

// ServiceAuthenticator checks Basic credentials against one configured service account
type ServiceAuthenticator struct {
	username     string
	usernameHash [sha256.Size]byte
	passwordHash [sha256.Size]byte
	enabled      bool
}

// NewServiceAuthenticator creates a new ServiceAuthenticator.
// An empty password disables the account; every attempt then fails.
func NewServiceAuthenticator(username, password string) *ServiceAuthenticator {
	return &ServiceAuthenticator{
		username:     username,
		usernameHash: sha256.Sum256([]byte(username)),
		passwordHash: sha256.Sum256([]byte(password)),
		enabled:      username != "" && password != "",
	}
}

// Authenticate verifies a username and password pair
func (a *ServiceAuthenticator) Authenticate(username, password string) (*ServiceIdentity, error) {
	if username == "" && password == "" {
		return nil, ErrMissingCredentials
	}

	// Hashing equalizes lengths so the comparison time does not depend on the input
	userHash := sha256.Sum256([]byte(username))
	passHash := sha256.Sum256([]byte(password))
	userOK := subtle.ConstantTimeCompare(userHash[:], a.usernameHash[:])
	passOK := subtle.ConstantTimeCompare(passHash[:], a.passwordHash[:])

	if userOK&passOK != 1 || !a.enabled {
		return nil, ErrInvalidCredentials
	}
	return &ServiceIdentity{Subject: a.username}, nil
}
