package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(2, 100*time.Millisecond))
	r.POST("/login", func(c *gin.Context) { c.String(200, "ok") })

	// First two requests should pass
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/login", nil)
		r.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}

	// Third request within window should be rate-limited
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/login", nil)
	r.ServeHTTP(w, req)
	if w.Code != 429 {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	time.Sleep(120 * time.Millisecond)

	// After window resets, should pass again
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/login", nil)
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200 after reset, got %d", w.Code)
	}
}

func TestRateLimiterSweepsStaleCounters(t *testing.T) {
	l := newRateLimiter(5, time.Minute)
	now := time.Now()

	for _, key := range []string{"a|/login", "b|/login", "c|/login"} {
		ok, _, _ := l.allow(key, now)
		if !ok {
			t.Fatalf("expected %s to be allowed", key)
		}
	}
	if l.size() != 3 {
		t.Fatalf("expected 3 counters, got %d", l.size())
	}

	// Past the window all prior counters are stale; the next request
	// sweeps them without any background goroutine.
	ok, remaining, _ := l.allow("d|/login", now.Add(2*time.Minute))
	if !ok {
		t.Fatal("expected fresh key to be allowed")
	}
	if remaining != 4 {
		t.Fatalf("expected remaining 4, got %d", remaining)
	}
	if l.size() != 1 {
		t.Fatalf("expected stale counters swept, got %d", l.size())
	}
}

func TestRateLimiterWindowResetPerKey(t *testing.T) {
	l := newRateLimiter(1, time.Minute)
	now := time.Now()

	if ok, _, _ := l.allow("a|/login", now); !ok {
		t.Fatal("expected first request allowed")
	}
	if ok, _, _ := l.allow("a|/login", now.Add(time.Second)); ok {
		t.Fatal("expected second request within window rejected")
	}
	if ok, _, _ := l.allow("a|/login", now.Add(61*time.Second)); !ok {
		t.Fatal("expected request after window allowed")
	}
}

func TestRateLimitDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(0, 0))
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		r.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
}
