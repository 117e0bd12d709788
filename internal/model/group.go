package model

import "time"

// MemberRole はグループ内での役割を表す。
type MemberRole string

const (
	MemberRoleLeader MemberRole = "LEADER"
	MemberRoleAdmin  MemberRole = "ADMIN"
	MemberRoleMember MemberRole = "MEMBER"
)

// MemberStatus はグループメンバーシップの状態を表す。
// PENDING → ACCEPTED | REJECTED、ACCEPTED → ACTIVE のみ許可される。
type MemberStatus string

const (
	MemberStatusPending  MemberStatus = "PENDING"
	MemberStatusAccepted MemberStatus = "ACCEPTED"
	MemberStatusActive   MemberStatus = "ACTIVE"
	MemberStatusRejected MemberStatus = "REJECTED"
)

// IsParticipating は承認済み（ACCEPTEDまたはACTIVE）かどうかを返す。
func (s MemberStatus) IsParticipating() bool {
	return s == MemberStatusAccepted || s == MemberStatusActive
}

// Visibility はグループコンテンツの公開範囲を表す。
type Visibility string

const (
	// VisibilityPrivate は投稿者本人のみ閲覧可能。
	VisibilityPrivate Visibility = "PRIVATE"
	// VisibilityLeader はリーダー、管理者、投稿者のみ閲覧可能。
	VisibilityLeader Visibility = "LEADER"
	// VisibilityGroup は承認済みメンバー全員が閲覧可能。
	VisibilityGroup Visibility = "GROUP"
)

// IsValid は定義済みの値かどうかを返す。
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPrivate, VisibilityLeader, VisibilityGroup:
		return true
	}
	return false
}

// NoteKind はグループコンテンツの種別。ノートと祈りの課題は同じ構造を共有する。
type NoteKind string

const (
	NoteKindNote   NoteKind = "NOTE"
	NoteKindPrayer NoteKind = "PRAYER"
)

// Group は学びのグループを表す。リーダーはLeaderIDで一意に決まる。
type Group struct {
	ID          string
	Name        string
	Description string
	LeaderID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GroupMember はグループとユーザーのメンバーシップ。(GroupID, UserID)で一意。
type GroupMember struct {
	ID        string
	GroupID   string
	UserID    string
	Role      MemberRole
	Status    MemberStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Note はグループ内のノートまたは祈りの課題。
type Note struct {
	ID         string
	GroupID    string
	AuthorID   string
	Kind       NoteKind
	Title      string
	Content    string
	Visibility Visibility
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NoteReply はノートへの返信。親ノートの公開範囲に従う。
type NoteReply struct {
	ID        string
	NoteID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

// NoteWithAuthor は投稿者情報を結合したノート。
type NoteWithAuthor struct {
	Note
	Author UserSummary
}

// ReplyWithAuthor は投稿者情報を結合した返信。
type ReplyWithAuthor struct {
	NoteReply
	Author UserSummary
}
