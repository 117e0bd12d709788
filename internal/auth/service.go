// Package auth はGoogleログインとセッションの発行・破棄を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/repository"
)

// ErrSessionNotFound はセッションが存在しない、期限切れ、またはユーザーが退会済みであることを表す。
var ErrSessionNotFound = errors.New("session not found or expired")

// ExternalIdentity はIdPが確認したユーザー。
type ExternalIdentity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Picture  string
}

// IdentityProvider は外部IdPとの認可コードフロー。
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*ExternalIdentity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration
	// DefaultTimezone は新規ユーザーのリマインダー時刻の解釈に使う。
	DefaultTimezone string
}

// Service はログイン、ログアウト、現在のユーザーの解決を行う。
type Service struct {
	provider   IdentityProvider
	users      repository.UserRepository
	identities repository.IdentityRepository
	sessions   repository.SessionRepository
	config     ServiceConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	provider IdentityProvider,
	users repository.UserRepository,
	identities repository.IdentityRepository,
	sessions repository.SessionRepository,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:   provider,
		users:      users,
		identities: identities,
		sessions:   sessions,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// LoginURL はIdPの同意画面のURLを返す。
func (s *Service) LoginURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

// CompleteLogin は認可コードでユーザーを確認し、新しいセッションを発行する。
// 初めてのユーザーにはユーザー、identity、既定の配信設定、FREEプランをまとめて作る。
func (s *Service) CompleteLogin(ctx context.Context, code string) (*model.Session, error) {
	ext, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	userID, err := s.resolveUser(ctx, ext)
	if err != nil {
		return nil, err
	}

	session, err := s.issueSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return session, nil
}

// resolveUser はidentityに紐づくユーザーIDを返す。未登録ならサインアップする。
func (s *Service) resolveUser(ctx context.Context, ext *ExternalIdentity) (string, error) {
	identity, err := s.identities.FindByProviderAndProviderUserID(ctx, ext.Provider, ext.Subject)
	if err != nil {
		return "", fmt.Errorf("find identity: %w", err)
	}
	if identity != nil {
		s.logger.Info("user signed in",
			slog.String("user_id", identity.UserID),
			slog.String("provider", ext.Provider),
		)
		return identity.UserID, nil
	}

	userID, err := s.signUp(ctx, ext)
	if errors.Is(err, repository.ErrDuplicate) {
		// 同じアカウントの同時ログインで先に作られていれば、そちらを使う
		identity, findErr := s.identities.FindByProviderAndProviderUserID(ctx, ext.Provider, ext.Subject)
		if findErr == nil && identity != nil {
			return identity.UserID, nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("sign up: %w", err)
	}
	return userID, nil
}

func (s *Service) signUp(ctx context.Context, ext *ExternalIdentity) (string, error) {
	now := s.now()
	userID := uuid.NewString()

	bundle := repository.SignupBundle{
		User: &model.User{
			ID:        userID,
			Email:     ext.Email,
			Name:      ext.Name,
			Image:     ext.Picture,
			Timezone:  s.config.DefaultTimezone,
			Role:      model.UserRoleUser,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Identity: &model.Identity{
			ID:             uuid.NewString(),
			UserID:         userID,
			Provider:       ext.Provider,
			ProviderUserID: ext.Subject,
			CreatedAt:      now,
		},
		Preferences:  model.DefaultPreferences(userID, now),
		Subscription: model.FreeSubscription(uuid.NewString(), userID, now),
	}
	if err := s.users.CreateWithIdentity(ctx, bundle); err != nil {
		return "", err
	}

	s.logger.Info("user signed up",
		slog.String("user_id", userID),
		slog.String("provider", ext.Provider),
	)
	return userID, nil
}

// Logout はセッションを破棄する。sessionIDが空なら何もしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CurrentUser はセッションの持ち主を返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrSessionNotFound
	}
	return user, nil
}

func (s *Service) issueSession(ctx context.Context, userID string) (*model.Session, error) {
	id, err := randomToken(32)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// randomToken はnバイトの乱数を16進文字列で返す。
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
