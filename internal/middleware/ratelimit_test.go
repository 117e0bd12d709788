package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/devotion/internal/model"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/notes", nil)
	if userID == "" {
		return req
	}
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: rate.Limit(1.0 / 60.0), GeneralBurst: 3,
		WriteRate: rate.Limit(1.0 / 60.0), WriteBurst: 3,
	})

	for name, mw := range map[string]func(http.Handler) http.Handler{
		"general": rl.GeneralMiddleware(),
		"write":   rl.WriteMiddleware(),
	} {
		t.Run(name, func(t *testing.T) {
			h := mw(okHandler())
			for i := range 3 {
				if w := serve(h, requestAs("user-"+name)); w.Code != http.StatusOK {
					t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
				}
			}

			w := serve(h, requestAs("user-"+name))
			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("status = %d, want 429", w.Code)
			}
			if got := w.Header().Get("Retry-After"); got != "60" {
				t.Errorf("Retry-After = %q, want 60", got)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("429のボディがJSONではない: %v", err)
			}
			if body.Code != model.ErrCodeRateLimited {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
			}
		})
	}
}

func TestRateLimiter_PerUserIsolation(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: rate.Limit(0.01), GeneralBurst: 1})
	h := rl.GeneralMiddleware()(okHandler())

	if w := serve(h, requestAs("alice")); w.Code != http.StatusOK {
		t.Fatalf("alice 1st: %d", w.Code)
	}
	if w := serve(h, requestAs("alice")); w.Code != http.StatusTooManyRequests {
		t.Fatalf("alice 2nd: %d, want 429", w.Code)
	}
	if w := serve(h, requestAs("bob")); w.Code != http.StatusOK {
		t.Errorf("bobはaliceの上限の影響を受けない: %d", w.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_WritePoolIndependentOfGeneral(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: rate.Limit(100), GeneralBurst: 100,
		WriteRate: rate.Limit(0.01), WriteBurst: 1,
	})
	general := rl.GeneralMiddleware()(okHandler())
	write := rl.GeneralMiddleware()(rl.WriteMiddleware()(okHandler()))

	if w := serve(write, requestAs("carol")); w.Code != http.StatusOK {
		t.Fatalf("1st write: %d", w.Code)
	}
	if w := serve(write, requestAs("carol")); w.Code != http.StatusTooManyRequests {
		t.Fatalf("2nd write: %d, want 429", w.Code)
	}
	if w := serve(general, requestAs("carol")); w.Code != http.StatusOK {
		t.Errorf("投稿系の上限は読み取りに影響しない: %d", w.Code)
	}
	if rl.WriteLimiterCount() != 1 {
		t.Errorf("WriteLimiterCount = %d, want 1", rl.WriteLimiterCount())
	}
}

func TestRateLimiter_NoUserReturns401(t *testing.T) {
	rl := newTestRateLimiter(t, DefaultRateLimiterConfig())
	if w := serve(rl.GeneralMiddleware()(okHandler()), requestAs("")); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRateLimiter_CleanupEvictsIdleUsers(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: rate.Limit(1), GeneralBurst: 1,
		WriteRate: rate.Limit(1), WriteBurst: 1,
		CleanupInterval: time.Minute,
	})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.clock = func() time.Time { return now }

	serve(rl.GeneralMiddleware()(okHandler()), requestAs("idle"))
	serve(rl.WriteMiddleware()(okHandler()), requestAs("idle"))

	now = now.Add(time.Minute)
	serve(rl.GeneralMiddleware()(okHandler()), requestAs("active"))

	now = now.Add(90 * time.Second)
	rl.cleanup()

	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount = %d, want 1 (activeのみ)", rl.GeneralLimiterCount())
	}
	if rl.WriteLimiterCount() != 0 {
		t.Errorf("WriteLimiterCount = %d, want 0", rl.WriteLimiterCount())
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		limit rate.Limit
		want  int
	}{
		{rate.Limit(2), 1},
		{rate.Limit(0.5), 2},
		{rate.Limit(1.0 / 60.0), 60},
		{0, 60},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.limit); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if perMin := float64(cfg.GeneralRate) * 60; perMin != 120 {
		t.Errorf("general = %v req/min, want 120", perMin)
	}
	if perMin := float64(cfg.WriteRate) * 60; perMin != 30 {
		t.Errorf("write = %v req/min, want 30", perMin)
	}
	if cfg.CleanupInterval <= 0 {
		t.Error("CleanupIntervalが設定されていない")
	}
}
