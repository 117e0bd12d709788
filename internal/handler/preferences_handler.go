package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/notify"
	"github.com/hitoshi/devotion/internal/repository"
	"github.com/hitoshi/devotion/internal/schedule"
)

const (
	maxThemes      = 10
	maxThemeLength = 50
)

// PreferencesStore は配信設定の読み取りインターフェース。repository.PreferencesRepositoryが満たす。
type PreferencesStore interface {
	FindByUserID(ctx context.Context, userID string) (*model.UserPreferences, error)
}

// ContactStore はユーザーの連絡先と配信設定をまとめて書き込むインターフェース。
// repository.UserRepositoryが満たす。
type ContactStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	UpdateSettings(ctx context.Context, userID, phone, timezone string, prefs *model.UserPreferences, now time.Time) error
}

// PreferencesHandler は配信設定のHTTPハンドラー。
type PreferencesHandler struct {
	prefs    PreferencesStore
	contacts ContactStore
	clock    func() time.Time
}

// NewPreferencesHandler はPreferencesHandlerを生成する。
func NewPreferencesHandler(prefs PreferencesStore, contacts ContactStore) *PreferencesHandler {
	return &PreferencesHandler{
		prefs:    prefs,
		contacts: contacts,
		clock:    time.Now,
	}
}

// preferencesResponse は配信設定のAPIレスポンス。
type preferencesResponse struct {
	ReminderHours []string            `json:"reminderHours"`
	EmailEnabled  bool                `json:"emailEnabled"`
	SMSEnabled    bool                `json:"smsEnabled"`
	Themes        []string            `json:"themes"`
	MessageLength model.MessageLength `json:"messageLength"`
	Timezone      string              `json:"timezone"`
	Phone         string              `json:"phone"`
}

// updatePreferencesRequest は配信設定更新リクエストのボディ。全項目を置き換える。
type updatePreferencesRequest struct {
	ReminderHours []string            `json:"reminderHours"`
	EmailEnabled  bool                `json:"emailEnabled"`
	SMSEnabled    bool                `json:"smsEnabled"`
	Themes        []string            `json:"themes"`
	MessageLength model.MessageLength `json:"messageLength"`
	Timezone      string              `json:"timezone"`
	Phone         string              `json:"phone"`
}

// Get はログインユーザーの配信設定を返す。未作成の場合はデフォルト値を返す。
// GET /api/preferences
func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.contacts.FindByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if user == nil {
		handleServiceError(w, model.NewUserNotFoundError())
		return
	}

	prefs, err := h.prefs.FindByUserID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if prefs == nil {
		prefs = model.DefaultPreferences(userID, h.clock())
	}

	writeJSON(w, http.StatusOK, toPreferencesResponse(prefs, user))
}

// Update は配信設定と連絡先を更新する。
// PUT /api/preferences
func (h *PreferencesHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updatePreferencesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	now := h.clock()
	prefs, err := validatePreferences(userID, req, now)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	phone := strings.TrimSpace(req.Phone)
	timezone := strings.TrimSpace(req.Timezone)
	if err := h.contacts.UpdateSettings(r.Context(), userID, phone, timezone, prefs, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			handleServiceError(w, model.NewUserNotFoundError())
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPreferencesResponse(prefs, &model.User{Phone: phone, Timezone: timezone}))
}

// validatePreferences はリクエストを検証し、正規化した配信設定を返す。
func validatePreferences(userID string, req updatePreferencesRequest, now time.Time) (*model.UserPreferences, error) {
	if len(req.ReminderHours) == 0 || len(req.ReminderHours) > model.MaxReminderHours {
		return nil, model.NewValidationError("reminderHours", "1件または2件の時刻を指定してください")
	}
	hours := make([]string, 0, len(req.ReminderHours))
	seen := make(map[string]bool, len(req.ReminderHours))
	for _, raw := range req.ReminderHours {
		hour, ok := schedule.ParseHour(raw)
		if !ok {
			return nil, model.NewValidationError("reminderHours", "時刻は00〜23で指定してください")
		}
		hh := schedule.FormatHour(hour)
		if seen[hh] {
			continue
		}
		seen[hh] = true
		hours = append(hours, hh)
	}

	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		return nil, model.NewValidationError("timezone", "タイムゾーンを指定してください")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, model.NewValidationError("timezone", "IANAタイムゾーン名が正しくありません")
	}

	phone := strings.TrimSpace(req.Phone)
	if phone != "" && !notify.ValidPhone(phone) {
		return nil, model.NewValidationError("phone", "電話番号はE.164形式（例: +819012345678）で指定してください")
	}
	if req.SMSEnabled && phone == "" {
		return nil, model.NewValidationError("phone", "SMSを有効にするには電話番号が必要です")
	}

	length := req.MessageLength
	if length == "" {
		length = model.MessageLengthMedium
	}
	if !length.IsValid() {
		return nil, model.NewValidationError("messageLength", "SHORT、MEDIUM、LONGのいずれかを指定してください")
	}

	themes := make([]string, 0, len(req.Themes))
	for _, t := range req.Themes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxThemeLength {
			return nil, model.NewValidationError("themes", "テーマが長すぎます")
		}
		themes = append(themes, t)
	}
	if len(themes) > maxThemes {
		return nil, model.NewValidationError("themes", "テーマは10件までです")
	}

	return &model.UserPreferences{
		UserID:        userID,
		ReminderHours: hours,
		EmailEnabled:  req.EmailEnabled,
		SMSEnabled:    req.SMSEnabled,
		Themes:        themes,
		MessageLength: length,
		UpdatedAt:     now,
	}, nil
}

func toPreferencesResponse(p *model.UserPreferences, u *model.User) preferencesResponse {
	themes := p.Themes
	if themes == nil {
		themes = []string{}
	}
	return preferencesResponse{
		ReminderHours: p.ReminderHours,
		EmailEnabled:  p.EmailEnabled,
		SMSEnabled:    p.SMSEnabled,
		Themes:        themes,
		MessageLength: p.MessageLength,
		Timezone:      u.Timezone,
		Phone:         u.Phone,
	}
}
