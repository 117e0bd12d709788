package user

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	repository.UserRepository
	findByIDFn   func(ctx context.Context, id string) (*model.User, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}
func (m *mockSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type mockFamily struct {
	members []model.FamilyMemberWithUser
	deleted []string
	err     error
}

func (m *mockFamily) ListByOwner(ctx context.Context, ownerID string) ([]model.FamilyMemberWithUser, error) {
	return m.members, nil
}
func (m *mockFamily) Delete(ctx context.Context, ownerID, memberUserID string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, memberUserID)
	return nil
}

// --- テスト ---

// TestService_Withdraw は退会処理が家族メンバー、セッション、ユーザーの順に削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	var order []string

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			order = append(order, "user")
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			order = append(order, "sessions")
			return nil
		},
	}
	family := &mockFamily{members: []model.FamilyMemberWithUser{
		{FamilyMember: model.FamilyMember{OwnerID: "user-1", MemberUserID: "child-1"}},
		{FamilyMember: model.FamilyMember{OwnerID: "user-1", MemberUserID: "child-2"}},
	}}

	svc := NewService(userRepo, sessionRepo, family, discardLogger())

	if err := svc.Withdraw(context.Background(), "user-1"); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	if len(family.deleted) != 2 || family.deleted[0] != "child-1" || family.deleted[1] != "child-2" {
		t.Errorf("deleted family members = %v", family.deleted)
	}
	if len(order) != 2 || order[0] != "sessions" || order[1] != "user" {
		t.Errorf("delete order = %v, want [sessions user]", order)
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, nil
		},
	}

	svc := NewService(userRepo, nil, nil, discardLogger())

	err := svc.Withdraw(context.Background(), "nonexistent-user")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Fatalf("err = %v, want USER_NOT_FOUND", err)
	}
}

// TestService_Withdraw_FamilyFailureStopsBeforeUserDelete は家族メンバーの削除に失敗した場合に
// 本人のユーザーを削除しないことを検証する。
func TestService_Withdraw_FamilyFailureStopsBeforeUserDelete(t *testing.T) {
	userDeleted := false
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			userDeleted = true
			return nil
		},
	}
	family := &mockFamily{
		members: []model.FamilyMemberWithUser{{FamilyMember: model.FamilyMember{MemberUserID: "child-1"}}},
		err:     errors.New("connection reset"),
	}

	svc := NewService(userRepo, nil, family, discardLogger())
	if err := svc.Withdraw(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error")
	}
	if userDeleted {
		t.Error("家族メンバーの削除に失敗した場合はユーザーを削除してはいけません")
	}
}

func TestService_Withdraw_SkipsAlreadyRemovedFamilyMember(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn:   func(ctx context.Context, id string) (*model.User, error) { return &model.User{ID: id}, nil },
		deleteByIDFn: func(ctx context.Context, id string) error { return nil },
	}
	family := &mockFamily{
		members: []model.FamilyMemberWithUser{{FamilyMember: model.FamilyMember{MemberUserID: "child-1"}}},
		err:     repository.ErrNotFound,
	}

	svc := NewService(userRepo, nil, family, discardLogger())
	if err := svc.Withdraw(context.Background(), "user-1"); err != nil {
		t.Fatalf("既に削除済みの家族メンバーでエラー: %v", err)
	}
}

func TestService_Withdraw_ConcurrentDeleteIsNotFound(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn:   func(ctx context.Context, id string) (*model.User, error) { return &model.User{ID: id}, nil },
		deleteByIDFn: func(ctx context.Context, id string) error { return repository.ErrNotFound },
	}

	svc := NewService(userRepo, nil, nil, discardLogger())
	err := svc.Withdraw(context.Background(), "user-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Fatalf("err = %v, want USER_NOT_FOUND", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
