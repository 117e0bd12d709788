// Package user は退会処理を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/repository"
)

// FamilyRemover はオーナーの家族メンバーを列挙・削除する。
type FamilyRemover interface {
	ListByOwner(ctx context.Context, ownerID string) ([]model.FamilyMemberWithUser, error)
	Delete(ctx context.Context, ownerID, memberUserID string) error
}

// Service は退会処理を行う。
type Service struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	family   FamilyRemover
	logger   *slog.Logger
}

// NewService はServiceを生成する。sessionsとfamilyはnilでもよい。
func NewService(users repository.UserRepository, sessions repository.SessionRepository, family FamilyRemover, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, sessions: sessions, family: family, logger: logger}
}

// Withdraw は本人と、本人がオーナーの家族メンバーを削除する。
//
// 家族メンバー、セッション、本人の順に消す。途中で失敗した場合、本人は残るので再実行できる。
// 本人の行を消すとidentities、配信設定、プラン、配信履歴、グループの所属、
// リーダーを務めるグループ、投稿したノートはCASCADEで消える。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewUserNotFoundError()
	}

	removed, err := s.removeFamily(ctx, userID)
	if err != nil {
		return err
	}

	if s.sessions != nil {
		if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if err := s.users.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 同時に実行された別の退会が先に消した
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	s.logger.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("family_members_removed", removed),
	)
	return nil
}

// removeFamily は家族メンバーを削除し、削除した人数を返す。既に消えているメンバーは数えない。
func (s *Service) removeFamily(ctx context.Context, ownerID string) (int, error) {
	if s.family == nil {
		return 0, nil
	}
	members, err := s.family.ListByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("家族メンバーの取得に失敗しました: %w", err)
	}

	removed := 0
	for _, m := range members {
		err := s.family.Delete(ctx, ownerID, m.MemberUserID)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, repository.ErrNotFound):
		default:
			return removed, fmt.Errorf("家族メンバー %s の削除に失敗しました: %w", m.MemberUserID, err)
		}
	}
	return removed, nil
}
