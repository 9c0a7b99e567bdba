package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestRateLimiter(burst int) *RateLimiter {
	return NewRateLimiter(RateLimiterConfig{
		Rate:            rate.Limit(0.001), // テスト中の補充を事実上無効化
		Burst:           burst,
		CleanupInterval: time.Hour,
	})
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := newTestRateLimiter(3)
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/catalog/search", nil)
		req.RemoteAddr = "203.0.113.1:12345"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%d回目のリクエスト status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := newTestRateLimiter(1)
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/catalog/search", nil)
	req.RemoteAddr = "203.0.113.1:12345"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("1回目のリクエストは成功するべき: %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("2回目のリクエスト status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されるべき")
	}
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := newTestRateLimiter(1)
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// クライアントAがバーストを使い切る
	reqA := httptest.NewRequest(http.MethodGet, "/api/catalog/search", nil)
	reqA.RemoteAddr = "203.0.113.1:12345"
	handler.ServeHTTP(httptest.NewRecorder(), reqA)

	// クライアントBには影響しない
	reqB := httptest.NewRequest(http.MethodGet, "/api/catalog/search", nil)
	reqB.RemoteAddr = "203.0.113.2:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, reqB)

	if w.Code != http.StatusOK {
		t.Errorf("別IPのリクエストは制限されないべき: %d", w.Code)
	}
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount = %d, want 2", rl.LimiterCount())
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"RemoteAddrから抽出", "203.0.113.1:12345", "", "203.0.113.1"},
		{"X-Forwarded-Forを優先", "10.0.0.1:80", "198.51.100.7", "198.51.100.7"},
		{"X-Forwarded-Forの先頭のみ", "10.0.0.1:80", "198.51.100.7, 10.0.0.2", "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := extractClientIP(req); got != tt.want {
				t.Errorf("extractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
