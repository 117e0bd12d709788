// Package model はドメインモデルを定義する。
package model

import "time"

// UserRole はアプリケーション全体でのユーザー権限を表す。
type UserRole string

const (
	// UserRoleUser は一般ユーザー。
	UserRoleUser UserRole = "USER"
	// UserRoleAdmin は管理コンソールを利用できる管理者。
	UserRoleAdmin UserRole = "ADMIN"
)

// User はサービス利用ユーザーを表す。
// Timezoneはリマインダー時刻の解釈に使うIANAタイムゾーン名（例: "Asia/Tokyo"）。
type User struct {
	ID        string
	Email     string
	Name      string
	Phone     string
	Image     string
	Timezone  string
	Role      UserRole
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserSummary は投稿者表示用のユーザー情報。
type UserSummary struct {
	ID    string
	Name  string
	Image string
}
