// servicetoken.go verifies the shared bearer token that machine event
// sources present. Only the bcrypt hash lives in configuration.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrServiceTokenNotConfigured means no service token hash is set, so the
// machine ingest endpoints cannot authenticate anyone.
var ErrServiceTokenNotConfigured = errors.New("service token is not configured")

// VerifyServiceToken checks a presented raw token against the configured
// bcrypt hash. Returns nil on match.
func VerifyServiceToken(raw, hash string) error {
	if hash == "" {
		return ErrServiceTokenNotConfigured
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}

// HashServiceToken produces the bcrypt hash to store in configuration.
// Used by the token subcommand.
func HashServiceToken(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
