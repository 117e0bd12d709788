package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCronAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"正しいトークン", "s3cret", "Bearer s3cret", http.StatusOK},
		{"トークン不一致", "s3cret", "Bearer wrong", http.StatusUnauthorized},
		{"ヘッダーなし", "s3cret", "", http.StatusUnauthorized},
		{"Bearerなし", "s3cret", "s3cret", http.StatusUnauthorized},
		{"前方一致は不可", "s3cret", "Bearer s3cret-extra", http.StatusUnauthorized},
		{"シークレット未設定", "", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCronAuthMiddleware(tt.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/cron/daily-devotional", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if called != (tt.want == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.want == http.StatusUnauthorized {
				var body map[string]string
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["error"] == "" {
					t.Errorf("body = %v, err = %v, want {error}", body, err)
				}
			}
		})
	}
}

type recordedStatuses struct {
	codes []int
}

func (r *recordedStatuses) RecordHTTPStatus(code int) {
	r.codes = append(r.codes, code)
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	rec := &recordedStatuses{}
	mw := NewMetricsMiddleware(rec)

	for _, code := range []int{http.StatusOK, http.StatusConflict} {
		handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if code != http.StatusOK {
				w.WriteHeader(code)
			}
			w.Write([]byte("ok"))
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	}

	if len(rec.codes) != 2 || rec.codes[0] != http.StatusOK || rec.codes[1] != http.StatusConflict {
		t.Errorf("codes = %v, want [200 409]", rec.codes)
	}
}
