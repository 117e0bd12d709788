// Package group は学びのグループのメンバーシップ管理と、ノート・祈りの課題の公開範囲の判定を提供する。
//
// 閲覧・作成・削除の可否はすべてAuthorizeで判定する。ハンドラーやリポジトリは独自に判定しない。
package group

import (
	"github.com/hitoshi/devotion/internal/model"
)

// Action はグループリソースに対する操作。
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
	// ActionManage はメンバーの招待など、グループ運営の操作。
	ActionManage Action = "manage"
)

// Actor は操作を行うユーザーと、そのグループでのメンバーシップ。
// メンバーでない場合はMembershipがnil。
type Actor struct {
	UserID     string
	Membership *model.GroupMember
}

// Resource は判定対象。グループ自体を対象とする場合はAuthorIDを空にし、VisibilityにGROUPを指定する。
type Resource struct {
	LeaderID   string
	AuthorID   string
	Visibility model.Visibility
}

// Decision は判定結果。拒否の場合はReasonに理由が入る。
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// NoteResource はノートを判定対象に変換する。
func NoteResource(g *model.Group, n *model.Note) Resource {
	return Resource{LeaderID: g.LeaderID, AuthorID: n.AuthorID, Visibility: n.Visibility}
}

// GroupResource はグループ全体（GROUP公開のコンテンツ相当）を判定対象に変換する。
func GroupResource(g *model.Group) Resource {
	return Resource{LeaderID: g.LeaderID, Visibility: model.VisibilityGroup}
}

// Authorize はactorがresに対してactionを行えるかを判定する。
//
//   - 閲覧: GROUPはリーダー、承認済みメンバー、投稿者。LEADERはリーダー、承認済みADMIN、投稿者。PRIVATEは投稿者のみ。
//   - 作成: リーダーまたは承認済みメンバー。LEADER公開での作成はリーダーまたはADMINに限る。
//   - 削除: 投稿者、リーダー、ADMIN。
//   - 運営: リーダーまたはADMIN。
//
// 未定義の公開範囲は常に拒否する。
func Authorize(actor Actor, res Resource, action Action) Decision {
	if actor.UserID == "" {
		return deny("ログインしていません")
	}
	if !res.Visibility.IsValid() {
		return deny("不明な公開範囲です")
	}

	isLeader := actor.UserID == res.LeaderID
	isAuthor := res.AuthorID != "" && actor.UserID == res.AuthorID
	isMember := false
	isAdmin := false
	if m := actor.Membership; m != nil && m.UserID == actor.UserID && m.Status.IsParticipating() {
		isMember = true
		isAdmin = m.Role == model.MemberRoleAdmin
	}

	switch action {
	case ActionRead:
		switch res.Visibility {
		case model.VisibilityGroup:
			if isLeader || isMember || isAuthor {
				return allow()
			}
			return deny("グループのメンバーではありません")
		case model.VisibilityLeader:
			if isLeader || isAdmin || isAuthor {
				return allow()
			}
			return deny("リーダー向けのコンテンツです")
		case model.VisibilityPrivate:
			if isAuthor {
				return allow()
			}
			return deny("投稿者のみが閲覧できます")
		}

	case ActionCreate:
		if !isLeader && !isMember {
			return deny("グループのメンバーではありません")
		}
		if res.Visibility == model.VisibilityLeader && !isLeader && !isAdmin {
			return deny("リーダー向けの投稿はリーダーまたは管理者のみ作成できます")
		}
		return allow()

	case ActionDelete:
		if isAuthor || isLeader || isAdmin {
			return allow()
		}
		return deny("投稿者、リーダー、管理者のみ削除できます")

	case ActionManage:
		if isLeader || isAdmin {
			return allow()
		}
		return deny("メンバー管理はリーダーまたは管理者のみ行えます")
	}
	return deny("不明な操作です")
}

// Transition はメンバーシップの状態遷移が許可されているかを検証する。
// 許可されるのは PENDING → ACCEPTED、PENDING → REJECTED、ACCEPTED → ACTIVE のみ。
func Transition(from, to model.MemberStatus) error {
	switch {
	case from == model.MemberStatusPending && (to == model.MemberStatusAccepted || to == model.MemberStatusRejected):
		return nil
	case from == model.MemberStatusAccepted && to == model.MemberStatusActive:
		return nil
	}
	return model.NewInvalidMemberTransitionError(from, to)
}
