// Package auth issues and validates the two bearer credential kinds: session
// tokens for interactive admin users and single-use action tokens that arm
// the destructive log operations. Both are HS256 JWTs signed with the shared
// process secret; machine event sources use the bcrypt service token instead
// (see servicetoken.go).
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/changetrail/changetrail/internal/db/models"
)

var (
	tokenSecret     string
	tokenSecretOnce sync.Once
	tokenSecretErr  error
)

// SessionClaims is the claim set carried by interactive session tokens.
type SessionClaims struct {
	UserID int64  `json:"user_id"`
	Login  string `json:"login"`
	jwt.RegisteredClaims
}

// isDevMode reports whether the process is running in a development
// environment, where a missing secret is tolerable.
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateTokenSecret checks that the signing secret is configured. In
// production a missing CTL_TOKEN_SECRET fails fast; in dev mode a random
// secret is generated, which means sessions do not survive restarts.
// Call at startup.
func ValidateTokenSecret() error {
	tokenSecretOnce.Do(func() {
		secret := os.Getenv("CTL_TOKEN_SECRET")

		if secret == "" {
			if isDevMode() {
				tokenSecret = generateRandomSecret()
				slog.Warn("CTL_TOKEN_SECRET not set, using auto-generated secret for development")
				slog.Warn("sessions will not persist across restarts; set CTL_TOKEN_SECRET for persistent sessions")
			} else {
				tokenSecretErr = errors.New("CTL_TOKEN_SECRET environment variable is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			slog.Warn("CTL_TOKEN_SECRET is shorter than the recommended 32 characters")
		}
		tokenSecret = secret
	})

	return tokenSecretErr
}

// getTokenSecret retrieves the validated secret, panicking if startup
// validation was skipped and fails now.
func getTokenSecret() string {
	if tokenSecret == "" {
		if err := ValidateTokenSecret(); err != nil {
			panic(err)
		}
	}
	return tokenSecret
}

// GenerateSessionToken creates a session token for an authenticated admin.
func GenerateSessionToken(actor models.Actor, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = 12 * time.Hour
	}

	claims := &SessionClaims{
		UserID: actor.ID,
		Login:  actor.Login,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "changetrail",
			Subject:   fmt.Sprintf("%d", actor.ID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(getTokenSecret()))
}

// ValidateSessionToken parses and validates a session token.
func ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(getTokenSecret()), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}
