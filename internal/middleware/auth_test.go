package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/changetrail/changetrail/internal/auth"
	"github.com/changetrail/changetrail/internal/db/models"
)

// newSessionRouter builds an engine with RequireSession and a handler that
// echoes the actor it found in context.
func newSessionRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequireSession())
	r.GET("/", func(c *gin.Context) {
		actor := ActorFromContext(c)
		if actor == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no actor in context"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": actor.ID, "login": actor.Login})
	})
	return r
}

func doGet(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireSession_MissingHeader(t *testing.T) {
	if w := doGet(newSessionRouter(), ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireSession_NonBearerScheme(t *testing.T) {
	if w := doGet(newSessionRouter(), "Basic dXNlcjpwYXNz"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireSession_GarbageToken(t *testing.T) {
	if w := doGet(newSessionRouter(), "Bearer not-a-jwt"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireSession_ExpiredToken(t *testing.T) {
	token, err := auth.GenerateSessionToken(models.Actor{ID: 7, Login: "admin"}, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if w := doGet(newSessionRouter(), "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireSession_ValidTokenSetsActor(t *testing.T) {
	token, err := auth.GenerateSessionToken(models.Actor{ID: 7, Login: "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	w := doGet(newSessionRouter(), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var body struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.ID != 7 || body.Login != "admin" {
		t.Errorf("actor = %+v", body)
	}
}

func newServiceRouter(hash string) *gin.Engine {
	r := gin.New()
	r.Use(RequireServiceToken(hash))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRequireServiceToken_ValidToken(t *testing.T) {
	hash, err := auth.HashServiceToken("swordfish")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if w := doGet(newServiceRouter(hash), "Bearer swordfish"); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequireServiceToken_WrongToken(t *testing.T) {
	hash, err := auth.HashServiceToken("swordfish")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if w := doGet(newServiceRouter(hash), "Bearer marlin"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireServiceToken_NotConfigured(t *testing.T) {
	if w := doGet(newServiceRouter(""), "Bearer anything"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
