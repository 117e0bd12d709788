package handler

import (
	"context"

	"github.com/hitoshi/devotion/internal/family"
	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/user"
)

// FamilyServiceAdapter は family.Service を FamilyServiceInterface に適合させるアダプタ。
type FamilyServiceAdapter struct {
	svc *family.Service
}

// NewFamilyServiceAdapter はFamilyServiceAdapterを生成する。
func NewFamilyServiceAdapter(svc *family.Service) *FamilyServiceAdapter {
	return &FamilyServiceAdapter{svc: svc}
}

// AddMember は家族メンバーを追加しhandlerレスポンス型で返す。
func (a *FamilyServiceAdapter) AddMember(ctx context.Context, ownerID, name, email string) (*familyMemberResponse, error) {
	u, err := a.svc.AddMember(ctx, ownerID, name, email)
	if err != nil {
		return nil, err
	}
	return &familyMemberResponse{
		UserID:    u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}, nil
}

// ListMembers は家族メンバー一覧をhandlerレスポンス型で返す。
func (a *FamilyServiceAdapter) ListMembers(ctx context.Context, ownerID string) ([]familyMemberResponse, error) {
	members, err := a.svc.ListMembers(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	results := make([]familyMemberResponse, len(members))
	for i, m := range members {
		results[i] = toFamilyMemberResponse(m)
	}
	return results, nil
}

// RemoveMember は家族メンバーを削除する。
func (a *FamilyServiceAdapter) RemoveMember(ctx context.Context, ownerID, memberUserID string) error {
	return a.svc.RemoveMember(ctx, ownerID, memberUserID)
}

func toFamilyMemberResponse(m model.FamilyMemberWithUser) familyMemberResponse {
	return familyMemberResponse{
		UserID:    m.MemberUserID,
		Name:      m.Name,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
	}
}

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// Withdraw はユーザーの退会処理を実行する。
func (a *UserServiceAdapter) Withdraw(ctx context.Context, userID string) error {
	return a.svc.Withdraw(ctx, userID)
}

// --- compile-time interface checks ---

var _ FamilyServiceInterface = (*FamilyServiceAdapter)(nil)
var _ UserServiceInterface = (*UserServiceAdapter)(nil)
