package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/repository"
)

type mockPreferencesStore struct {
	findFn func(ctx context.Context, userID string) (*model.UserPreferences, error)
}

func (m *mockPreferencesStore) FindByUserID(ctx context.Context, userID string) (*model.UserPreferences, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID)
	}
	return nil, nil
}

type mockContactStore struct {
	findFn   func(ctx context.Context, id string) (*model.User, error)
	updateFn func(ctx context.Context, userID, phone, timezone string, prefs *model.UserPreferences, now time.Time) error
}

func (m *mockContactStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findFn != nil {
		return m.findFn(ctx, id)
	}
	return &model.User{ID: id, Timezone: "Asia/Tokyo"}, nil
}

func (m *mockContactStore) UpdateSettings(ctx context.Context, userID, phone, timezone string, prefs *model.UserPreferences, now time.Time) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, phone, timezone, prefs, now)
	}
	return nil
}

func TestPreferencesHandler_Get_DefaultsWhenMissing(t *testing.T) {
	h := NewPreferencesHandler(&mockPreferencesStore{}, &mockContactStore{})

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/preferences", nil), "user-1")
	w := httptest.NewRecorder()
	h.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got preferencesResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !reflect.DeepEqual(got.ReminderHours, []string{"09"}) {
		t.Errorf("reminderHours = %v, want [09]", got.ReminderHours)
	}
	if !got.EmailEnabled || got.SMSEnabled {
		t.Errorf("デフォルトはメールのみ有効であるべきです: %+v", got)
	}
	if got.Timezone != "Asia/Tokyo" {
		t.Errorf("timezone = %q, want Asia/Tokyo", got.Timezone)
	}
}

func TestPreferencesHandler_Get_Unauthorized(t *testing.T) {
	h := NewPreferencesHandler(&mockPreferencesStore{}, &mockContactStore{})

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/preferences", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestPreferencesHandler_Update_NormalizesAndSaves(t *testing.T) {
	var saved *model.UserPreferences
	var savedPhone, savedTZ string
	h := NewPreferencesHandler(
		&mockPreferencesStore{},
		&mockContactStore{updateFn: func(ctx context.Context, userID, phone, tz string, p *model.UserPreferences, now time.Time) error {
			savedPhone, savedTZ, saved = phone, tz, p
			return nil
		}},
	)

	body := jsonBody(t, map[string]any{
		"reminderHours": []string{"7", "19:00"},
		"emailEnabled":  false,
		"smsEnabled":    true,
		"themes":        []string{" hope ", "", "grace"},
		"messageLength": "SHORT",
		"timezone":      "America/New_York",
		"phone":         "+15551234567",
	})
	req := withUserID(httptest.NewRequest(http.MethodPut, "/api/preferences", body), "user-1")
	w := httptest.NewRecorder()
	h.Update(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if saved == nil {
		t.Fatal("設定が保存されていません")
	}
	if !reflect.DeepEqual(saved.ReminderHours, []string{"07", "19"}) {
		t.Errorf("ReminderHours = %v, want [07 19]", saved.ReminderHours)
	}
	if !reflect.DeepEqual(saved.Themes, []string{"hope", "grace"}) {
		t.Errorf("Themes = %v, want [hope grace]", saved.Themes)
	}
	if saved.MessageLength != model.MessageLengthShort {
		t.Errorf("MessageLength = %q, want SHORT", saved.MessageLength)
	}
	if savedPhone != "+15551234567" || savedTZ != "America/New_York" {
		t.Errorf("contact = (%q, %q)", savedPhone, savedTZ)
	}
}

func TestPreferencesHandler_Update_Validation(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"reminderHours": []string{"09"},
			"emailEnabled":  true,
			"timezone":      "Asia/Tokyo",
		}
	}

	tests := []struct {
		name   string
		mutate func(m map[string]any)
		field  string
	}{
		{"時刻なし", func(m map[string]any) { m["reminderHours"] = []string{} }, "reminderHours"},
		{"時刻が3件", func(m map[string]any) { m["reminderHours"] = []string{"06", "12", "18"} }, "reminderHours"},
		{"時刻が範囲外", func(m map[string]any) { m["reminderHours"] = []string{"24"} }, "reminderHours"},
		{"分が00以外", func(m map[string]any) { m["reminderHours"] = []string{"09:30"} }, "reminderHours"},
		{"タイムゾーンが空", func(m map[string]any) { m["timezone"] = "" }, "timezone"},
		{"タイムゾーンが不正", func(m map[string]any) { m["timezone"] = "Mars/Olympus" }, "timezone"},
		{"電話番号が不正", func(m map[string]any) { m["phone"] = "090-1234-5678" }, "phone"},
		{"SMS有効で電話番号なし", func(m map[string]any) { m["smsEnabled"] = true }, "phone"},
		{"長さが不正", func(m map[string]any) { m["messageLength"] = "HUGE" }, "messageLength"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved := false
			h := NewPreferencesHandler(
				&mockPreferencesStore{},
				&mockContactStore{updateFn: func(ctx context.Context, userID, phone, tz string, p *model.UserPreferences, now time.Time) error {
					saved = true
					return nil
				}},
			)

			m := base()
			tt.mutate(m)
			req := withUserID(httptest.NewRequest(http.MethodPut, "/api/preferences", jsonBody(t, m)), "user-1")
			w := httptest.NewRecorder()
			h.Update(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := parseAPIErrorResponse(t, w); body["field"] != tt.field {
				t.Errorf("field = %q, want %q", body["field"], tt.field)
			}
			if saved {
				t.Error("バリデーションエラー時は保存してはいけません")
			}
		})
	}
}

func TestPreferencesHandler_Update_UserGone(t *testing.T) {
	h := NewPreferencesHandler(
		&mockPreferencesStore{},
		&mockContactStore{updateFn: func(ctx context.Context, userID, phone, tz string, p *model.UserPreferences, now time.Time) error {
			return repository.ErrNotFound
		}},
	)

	body := jsonBody(t, map[string]any{"reminderHours": []string{"09"}, "emailEnabled": true, "timezone": "UTC"})
	req := withUserID(httptest.NewRequest(http.MethodPut, "/api/preferences", body), "user-1")
	w := httptest.NewRecorder()
	h.Update(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestPreferencesHandler_Update_StoreFailure_Returns500(t *testing.T) {
	h := NewPreferencesHandler(
		&mockPreferencesStore{},
		&mockContactStore{updateFn: func(ctx context.Context, userID, phone, tz string, p *model.UserPreferences, now time.Time) error {
			return errors.New("tx aborted")
		}},
	)

	body := jsonBody(t, map[string]any{"reminderHours": []string{"09"}, "emailEnabled": true, "timezone": "UTC"})
	req := withUserID(httptest.NewRequest(http.MethodPut, "/api/preferences", body), "user-1")
	w := httptest.NewRecorder()
	h.Update(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
