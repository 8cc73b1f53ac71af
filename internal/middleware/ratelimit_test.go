package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestLimiter(t *testing.T, cfg RateLimitConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func TestAllow_BurstThenExhaustion(t *testing.T) {
	rl := newTestLimiter(t, RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})

	for i := 0; i < 3; i++ {
		if !rl.Allow("client") {
			t.Fatalf("request %d within burst denied", i+1)
		}
	}
	if rl.Allow("client") {
		t.Error("request beyond burst allowed")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	rl := newTestLimiter(t, RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})

	if !rl.Allow("a") {
		t.Error("first request for a denied")
	}
	if rl.Allow("a") {
		t.Error("second request for a allowed")
	}
	if !rl.Allow("b") {
		t.Error("b starved by a's bucket")
	}
}

func TestAllow_Refills(t *testing.T) {
	// 600/min = 10 tokens per second; 200ms is about 2 tokens.
	rl := newTestLimiter(t, RateLimitConfig{
		RequestsPerMinute: 600,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})

	if !rl.Allow("client") {
		t.Fatal("initial request denied")
	}
	if rl.Allow("client") {
		t.Fatal("bucket should be empty")
	}
	time.Sleep(200 * time.Millisecond)
	if !rl.Allow("client") {
		t.Error("bucket did not refill")
	}
}

func TestRateLimit_MiddlewareAnswers429(t *testing.T) {
	rl := newTestLimiter(t, RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})

	r := gin.New()
	r.Use(RateLimit(rl))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:1000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}
}

func TestRateLimitKey_ActorOverIP(t *testing.T) {
	r := gin.New()
	var key string
	r.GET("/", func(c *gin.Context) {
		key = rateLimitKey(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1000"
	r.ServeHTTP(httptest.NewRecorder(), req)
	if key != "ip:203.0.113.9" {
		t.Errorf("anonymous key = %q", key)
	}
}
