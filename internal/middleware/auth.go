// Package middleware provides the Gin HTTP middleware chain.
//
// Ordering matters and is enforced in router.go:
//
//	Security → RateLimit → RequestID → Metrics → Auth → Handler
//
// Security headers run first so they appear on every response including
// errors. Rate limiting runs before auth to stop brute-force traffic before
// any signature or bcrypt work. Auth populates the actor identity that the
// admin handlers and the recorder read from context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/changetrail/changetrail/internal/auth"
	"github.com/changetrail/changetrail/internal/db/models"
)

const (
	// ActorKey is the gin.Context key holding the authenticated *models.Actor.
	ActorKey = "actor"
	// AuthMethodKey is the gin.Context key holding how the request
	// authenticated ("session" or "service_token").
	AuthMethodKey = "auth_method"
)

// bearerToken extracts the credential from the Authorization header.
// Returns "" when the header is absent or not a Bearer scheme.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// RequireSession guards the admin surface: only a valid session token gets
// through, and the actor it names is placed in context.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or malformed authorization header",
			})
			return
		}

		claims, err := auth.ValidateSessionToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session token",
			})
			return
		}

		c.Set(ActorKey, &models.Actor{ID: claims.UserID, Login: claims.Login})
		c.Set(AuthMethodKey, "session")
		c.Next()
	}
}

// RequireServiceToken guards the event ingest surface. Machine sources
// present the shared raw token; it is compared against the configured bcrypt
// hash. No actor is set: attribution for ingested events comes from the
// event payload, not from the transport credential.
func RequireServiceToken(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or malformed authorization header",
			})
			return
		}

		if err := auth.VerifyServiceToken(token, tokenHash); err != nil {
			status := http.StatusUnauthorized
			msg := "Invalid service token"
			if err == auth.ErrServiceTokenNotConfigured {
				status = http.StatusServiceUnavailable
				msg = "Event ingest is not configured"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set(AuthMethodKey, "service_token")
		c.Next()
	}
}

// RequireEventSource guards the event ingest surface for both credential
// kinds: an interactive session token (a logged-in admin replaying or testing
// events) or the shared machine service token. Session validation runs first
// because it is a pure signature check; the bcrypt comparison only happens
// for non-JWT credentials.
func RequireEventSource(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or malformed authorization header",
			})
			return
		}

		if claims, err := auth.ValidateSessionToken(token); err == nil {
			c.Set(ActorKey, &models.Actor{ID: claims.UserID, Login: claims.Login})
			c.Set(AuthMethodKey, "session")
			c.Next()
			return
		}

		if err := auth.VerifyServiceToken(token, tokenHash); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Set(AuthMethodKey, "service_token")
		c.Next()
	}
}

// ActorFromContext returns the authenticated actor, or nil when the request
// did not pass through RequireSession.
func ActorFromContext(c *gin.Context) *models.Actor {
	v, ok := c.Get(ActorKey)
	if !ok {
		return nil
	}
	actor, ok := v.(*models.Actor)
	if !ok {
		return nil
	}
	return actor
}
