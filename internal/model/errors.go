// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, group, family, delivery, system
	Action   string // ユーザー向け対処方法
	Field    string // バリデーションエラーの対象フィールド（該当する場合のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeGroupNotFound           = "GROUP_NOT_FOUND"
	ErrCodeMemberNotFound          = "MEMBER_NOT_FOUND"
	ErrCodeAlreadyMember           = "ALREADY_MEMBER"
	ErrCodeInvalidMemberTransition = "INVALID_MEMBER_TRANSITION"
	ErrCodeNoteNotFound            = "NOTE_NOT_FOUND"
	ErrCodeSubscriptionRequired    = "SUBSCRIPTION_REQUIRED"
	ErrCodeFamilyLimit             = "FAMILY_LIMIT"
	ErrCodeFamilyMemberNotFound    = "FAMILY_MEMBER_NOT_FOUND"
	ErrCodeRunInProgress           = "RUN_IN_PROGRESS"
	ErrCodeRateLimited             = "RATE_LIMITED"
	ErrCodeInvalidCSRFToken        = "INVALID_CSRF_TOKEN"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", reason),
		Category: "auth",
		Action:   "グループのリーダーまたは管理者に確認してください。",
	}
}

// NewValidationError はフィールド単位のバリデーションエラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("%s: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Field:    field,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewGroupNotFoundError はグループが見つからない場合のエラーを生成する。
func NewGroupNotFoundError(groupID string) *APIError {
	return &APIError{
		Code:     ErrCodeGroupNotFound,
		Message:  fmt.Sprintf("指定されたグループが見つかりません: %s", groupID),
		Category: "group",
		Action:   "グループIDを確認してください。",
	}
}

// NewMemberNotFoundError はメンバーシップが見つからない場合のエラーを生成する。
func NewMemberNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  "グループへの招待が見つかりません。",
		Category: "group",
		Action:   "招待が取り消されていないか確認してください。",
	}
}

// NewAlreadyMemberError は既にメンバーまたは招待済みの場合のエラーを生成する。
func NewAlreadyMemberError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyMember,
		Message:  "このユーザーは既にグループに招待されています。",
		Category: "group",
		Action:   "メンバー一覧を確認してください。",
	}
}

// NewInvalidMemberTransitionError はメンバーシップ状態の不正な遷移エラーを生成する。
func NewInvalidMemberTransitionError(from, to MemberStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMemberTransition,
		Message:  fmt.Sprintf("メンバーシップを %s から %s に変更できません。", from, to),
		Category: "group",
		Action:   "招待の状態を確認してください。",
	}
}

// NewNoteNotFoundError はノートが見つからない場合のエラーを生成する。
func NewNoteNotFoundError(noteID string) *APIError {
	return &APIError{
		Code:     ErrCodeNoteNotFound,
		Message:  fmt.Sprintf("指定されたノートが見つかりません: %s", noteID),
		Category: "group",
		Action:   "ノートIDを確認してください。",
	}
}

// NewSubscriptionRequiredError は家族機能に有効なプランが必要な場合のエラーを生成する。
func NewSubscriptionRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionRequired,
		Message:  "家族アカウントの利用にはファミリーまたはプレミアムプランが必要です。",
		Category: "family",
		Action:   "プランをアップグレードしてください。",
	}
}

// NewFamilyLimitError は家族メンバー上限エラーを生成する。
func NewFamilyLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeFamilyLimit,
		Message:  fmt.Sprintf("家族メンバーが上限（%d人）に達しています。", MaxFamilyMembers),
		Category: "family",
		Action:   "不要なメンバーを削除してから追加してください。",
	}
}

// NewFamilyMemberNotFoundError は家族メンバーが見つからない場合のエラーを生成する。
func NewFamilyMemberNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeFamilyMemberNotFound,
		Message:  "指定された家族メンバーが見つかりません。",
		Category: "family",
		Action:   "家族メンバー一覧を確認してください。",
	}
}

// NewRunInProgressError は配信サイクルが実行中の場合のエラーを生成する。
func NewRunInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeRunInProgress,
		Message:  "配信サイクルは既に実行中です。",
		Category: "delivery",
		Action:   "現在の実行が終わるまでお待ちください。",
	}
}

// NewRateLimitedError はレート制限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInvalidCSRFTokenError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewInvalidCSRFTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCSRFToken,
		Message:  "CSRFトークンが無効です。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
