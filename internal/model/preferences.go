package model

import "time"

// MessageLength は配信メッセージの長さの希望を表す。
type MessageLength string

const (
	MessageLengthShort  MessageLength = "SHORT"
	MessageLengthMedium MessageLength = "MEDIUM"
	MessageLengthLong   MessageLength = "LONG"
)

// IsValid は定義済みの値かどうかを返す。
func (l MessageLength) IsValid() bool {
	switch l {
	case MessageLengthShort, MessageLengthMedium, MessageLengthLong:
		return true
	}
	return false
}

// MaxReminderHours はユーザーが設定できるリマインダー時刻の最大数。
const MaxReminderHours = 2

// UserPreferences はユーザーごとの配信設定を表す。Userと1対1。
// ReminderHoursは "HH" 形式（"00"〜"23"）で1〜2件保持する。
type UserPreferences struct {
	UserID        string
	ReminderHours []string
	EmailEnabled  bool
	SMSEnabled    bool
	Themes        []string
	MessageLength MessageLength
	UpdatedAt     time.Time
}

// HasEnabledChannel はメールまたはSMSのどちらかが有効かを返す。
func (p UserPreferences) HasEnabledChannel() bool {
	return p.EmailEnabled || p.SMSEnabled
}

// DefaultPreferences はサインアップ直後のユーザーに付与するデフォルト設定を返す。
// 朝9時のメール配信のみ有効。
func DefaultPreferences(userID string, now time.Time) *UserPreferences {
	return &UserPreferences{
		UserID:        userID,
		ReminderHours: []string{"09"},
		EmailEnabled:  true,
		SMSEnabled:    false,
		Themes:        []string{},
		MessageLength: MessageLengthMedium,
		UpdatedAt:     now,
	}
}

// Recipient は配信候補となるユーザーとその設定の組。
type Recipient struct {
	User        User
	Preferences UserPreferences
}
