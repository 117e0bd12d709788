// Package family はオーナーアカウントに紐づく家族メンバーの管理を提供する。
// 家族メンバーは独立したユーザーとして作成され、それぞれが自分の配信設定を持つ。
package family

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/repository"
)

// Service は家族メンバーの追加・一覧・削除を行う。
type Service struct {
	familyRepo repository.FamilyRepository
	subRepo    repository.SubscriptionRepository
	userRepo   repository.UserRepository
	logger     *slog.Logger
	clock      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	familyRepo repository.FamilyRepository,
	subRepo repository.SubscriptionRepository,
	userRepo repository.UserRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		familyRepo: familyRepo,
		subRepo:    subRepo,
		userRepo:   userRepo,
		logger:     logger,
		clock:      time.Now,
	}
}

// AddMember は家族メンバーを追加する。
// 有効なFAMILYまたはPREMIUMプラン（トライアル期間中を含む）が必要で、上限はmodel.MaxFamilyMembers人。
// メンバーのタイムゾーンはオーナーのものを引き継ぐ。
func (s *Service) AddMember(ctx context.Context, ownerID, name, email string) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return nil, model.NewValidationError("name", "名前は必須です")
	}
	if _, err := mail.ParseAddress(email); err != nil || strings.ContainsAny(email, "<> ") {
		return nil, model.NewValidationError("email", "メールアドレスの形式が正しくありません")
	}

	now := s.clock()
	sub, err := s.subRepo.FindByUserID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	if !sub.AllowsFamily(now) {
		return nil, model.NewSubscriptionRequiredError()
	}

	owner, err := s.userRepo.FindByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find owner: %w", err)
	}
	if owner == nil {
		return nil, model.NewUserNotFoundError()
	}

	u := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		Timezone:  owner.Timezone,
		Role:      model.UserRoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	link := &model.FamilyMember{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		MemberUserID: u.ID,
		CreatedAt:    now,
	}
	prefs := model.DefaultPreferences(u.ID, now)

	if err := s.familyRepo.CreateWithUser(ctx, u, link, prefs, model.MaxFamilyMembers); err != nil {
		switch {
		case errors.Is(err, repository.ErrFamilyLimitReached):
			return nil, model.NewFamilyLimitError()
		case errors.Is(err, repository.ErrDuplicate):
			return nil, model.NewValidationError("email", "このメールアドレスは既に登録されています")
		}
		return nil, fmt.Errorf("failed to create family member: %w", err)
	}

	s.logger.InfoContext(ctx, "family member added",
		slog.String("user_id", ownerID),
		slog.String("member_user_id", u.ID),
	)
	return u, nil
}

// ListMembers はオーナーの家族メンバー一覧を返す。
func (s *Service) ListMembers(ctx context.Context, ownerID string) ([]model.FamilyMemberWithUser, error) {
	members, err := s.familyRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family members: %w", err)
	}
	if members == nil {
		members = []model.FamilyMemberWithUser{}
	}
	return members, nil
}

// RemoveMember は家族メンバーのユーザーを削除する。オーナー本人の明示的な操作でのみ呼ばれる。
func (s *Service) RemoveMember(ctx context.Context, ownerID, memberUserID string) error {
	if err := s.familyRepo.Delete(ctx, ownerID, memberUserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewFamilyMemberNotFoundError()
		}
		return fmt.Errorf("failed to remove family member: %w", err)
	}
	s.logger.InfoContext(ctx, "family member removed",
		slog.String("user_id", ownerID),
		slog.String("member_user_id", memberUserID),
	)
	return nil
}
