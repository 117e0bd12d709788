// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/devotion/internal/model"
)

var (
	// ErrAlreadyTerminal は配信レコードが既に終端状態の場合に返される。
	ErrAlreadyTerminal = errors.New("delivery record is already terminal")

	// ErrDuplicate は一意制約に違反した場合に返される。
	ErrDuplicate = errors.New("duplicate record")

	// ErrStaleState は条件付き更新の前提となる状態が変わっていた場合に返される。
	ErrStaleState = errors.New("record state changed concurrently")

	// ErrFamilyLimitReached は家族メンバー数が上限に達している場合に返される。
	ErrFamilyLimitReached = errors.New("family member limit reached")

	// ErrNotFound は削除・更新対象が存在しない場合に返される。
	ErrNotFound = errors.New("record not found")
)

// SignupBundle は初回ログイン時に同一トランザクションで作成するレコードの組。
type SignupBundle struct {
	User         *model.User
	Identity     *model.Identity
	Preferences  *model.UserPreferences
	Subscription *model.Subscription
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザー、identity、デフォルト設定、FREEプランを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, bundle SignupBundle) error

	// UpdateSettings は電話番号・タイムゾーンと配信設定を同一トランザクションで更新する。
	// ユーザーが存在しない場合はErrNotFoundを返す。
	UpdateSettings(ctx context.Context, userID, phone, timezone string, prefs *model.UserPreferences, now time.Time) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、user_preferences、group_membersはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PreferencesRepository は配信設定の永続化インターフェース。
type PreferencesRepository interface {
	// FindByUserID はユーザーの配信設定を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.UserPreferences, error)

	// ListDeliveryCandidates はメールまたはSMSのいずれかが有効なユーザーを設定付きで返す。
	// リマインダー時刻の判定は呼び出し側（schedule.Evaluator）で行う。
	ListDeliveryCandidates(ctx context.Context) ([]model.Recipient, error)
}

// DeliveryRepository は配信レコードの永続化インターフェース。
type DeliveryRepository interface {
	// Create はPENDING状態の配信レコードを作成する。
	Create(ctx context.Context, rec *model.DeliveryRecord) error

	// MarkTerminal はPENDINGのレコードをDELIVEREDまたはFAILEDに1度だけ遷移させる。
	// 既に終端状態の場合はErrAlreadyTerminalを返す。
	MarkTerminal(ctx context.Context, id string, status model.DeliveryStatus, at time.Time) error

	// ListByUser はユーザーの配信履歴を新しい順に返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.DeliveryRecord, error)

	// DeleteOlderThan はcutoffより前に作成された終端状態のレコードを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// GroupRepository はグループとメンバーシップの永続化インターフェース。
type GroupRepository interface {
	// FindByID は指定IDのグループを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Group, error)

	// CreateWithLeader はグループとリーダーのメンバーシップを同一トランザクションで作成する。
	CreateWithLeader(ctx context.Context, group *model.Group, leader *model.GroupMember) error

	// ListByUser はユーザーが参加中（または招待中）のグループを返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Group, error)

	// FindMember はグループとユーザーのメンバーシップを取得する。見つからない場合はnilを返す。
	FindMember(ctx context.Context, groupID, userID string) (*model.GroupMember, error)

	// ListMembers はグループのメンバー一覧をユーザー情報付きで返す。
	ListMembers(ctx context.Context, groupID string) ([]MemberWithUser, error)

	// CreateMember はメンバーシップを作成する。既に存在する場合はErrDuplicateを返す。
	CreateMember(ctx context.Context, member *model.GroupMember) error

	// UpdateMemberStatus はメンバーシップの状態をfromからtoへ条件付きで更新する。
	// 現在の状態がfromでない場合はErrStaleStateを返す。
	UpdateMemberStatus(ctx context.Context, memberID string, from, to model.MemberStatus, now time.Time) error
}

// NoteRepository はノート・祈りの課題と返信の永続化インターフェース。
type NoteRepository interface {
	Create(ctx context.Context, note *model.Note) error
	// FindByID は指定IDのノートを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Note, error)
	// ListByGroup はグループ内の指定種別のノートを新しい順に投稿者情報付きで返す。
	ListByGroup(ctx context.Context, groupID string, kind model.NoteKind) ([]model.NoteWithAuthor, error)
	// ListReplies は指定ノート群の返信を古い順に投稿者情報付きで返す。
	ListReplies(ctx context.Context, noteIDs []string) ([]model.ReplyWithAuthor, error)
	CreateReply(ctx context.Context, reply *model.NoteReply) error
	// Delete はノートを削除する。返信はCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// SubscriptionRepository は課金プランの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByUserID はユーザーのプランを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)
}

// FamilyRepository は家族アカウントの永続化インターフェース。
type FamilyRepository interface {
	// ListByOwner はオーナーに紐づく家族メンバーを返す。
	ListByOwner(ctx context.Context, ownerID string) ([]model.FamilyMemberWithUser, error)

	// CreateWithUser はメンバーユーザー、家族リンク、デフォルト設定を同一トランザクションで作成する。
	// トランザクション内で上限を再確認し、超える場合はErrFamilyLimitReachedを返す。
	CreateWithUser(ctx context.Context, user *model.User, link *model.FamilyMember, prefs *model.UserPreferences, limit int) error

	// Delete はオーナーに紐づく家族メンバーのユーザーを削除する。
	// 該当する紐付けがない場合はErrNotFoundを返す。
	Delete(ctx context.Context, ownerID, memberUserID string) error
}

// MemberWithUser はユーザー情報を結合したメンバーシップ。
type MemberWithUser struct {
	model.GroupMember
	Name  string
	Email string
	Image string
}
