package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitPerUser(t *testing.T) {
	h := RateLimit(2, time.Minute)(okHandler())

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/tryon", nil)
		req.Header.Set("X-User-ID", user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("user-1"); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := do("user-1"); code != http.StatusOK {
		t.Fatalf("second request = %d", code)
	}
	if code := do("user-1"); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}
	// A different user has their own budget.
	if code := do("user-2"); code != http.StatusOK {
		t.Fatalf("other user = %d", code)
	}
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	h := RateLimit(1, time.Minute)(okHandler())

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/tryon", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := do("10.0.0.1:9999"); code != http.StatusTooManyRequests {
		t.Fatalf("same ip = %d, want 429", code)
	}
	if code := do("10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("other ip = %d", code)
	}
}

func TestRateLimitWindowResets(t *testing.T) {
	h := RateLimit(1, 10*time.Millisecond)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/tryon", nil)
	req.Header.Set("X-User-ID", "user-1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}

	time.Sleep(20 * time.Millisecond)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("request after window = %d", rec.Code)
	}
}
