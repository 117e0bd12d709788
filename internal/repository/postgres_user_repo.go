package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/devotion/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const selectUserColumns = `SELECT id, email, name, phone, image, timezone, role, created_at, updated_at FROM users`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	var phone, image, timezone sql.NullString
	var role string
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &phone, &image, &timezone, &role, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Phone = nullStringValue(phone)
	user.Image = nullStringValue(image)
	user.Timezone = nullStringValue(timezone)
	user.Role = model.UserRole(role)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE email = $1`, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// CreateWithIdentity はユーザー、identity、デフォルト設定、FREEプランを同一トランザクションで作成する。
// いずれかの挿入に失敗した場合は全体がロールバックされる。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, b SignupBundle) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user := b.User
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, phone, image, timezone, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.Name, nullString(user.Phone), nullString(user.Image),
		nullString(user.Timezone), string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert user: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	identity := b.Identity
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := insertPreferences(ctx, tx, b.Preferences); err != nil {
		return err
	}

	sub := b.Subscription
	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, plan, status, trial_ends_at, current_period_end, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.UserID, string(sub.Plan), string(sub.Status), sub.TrialEndsAt, sub.CurrentPeriodEnd, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insertPreferences はトランザクション内で配信設定を挿入する。
func insertPreferences(ctx context.Context, tx *sql.Tx, p *model.UserPreferences) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, reminder_hours, email_enabled, sms_enabled, themes, message_length, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.UserID, pq.Array(p.ReminderHours), p.EmailEnabled, p.SMSEnabled, pq.Array(p.Themes), string(p.MessageLength), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert preferences: %w", err)
	}
	return nil
}

// UpdateSettings は電話番号・タイムゾーンと配信設定を同一トランザクションで更新する。
func (r *PostgresUserRepo) UpdateSettings(ctx context.Context, userID, phone, timezone string, prefs *model.UserPreferences, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET phone = $2, timezone = $3, updated_at = $4 WHERE id = $1`,
		userID, nullString(phone), nullString(timezone), now,
	)
	if err != nil {
		return fmt.Errorf("failed to update user contact: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := upsertPreferences(ctx, tx, prefs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するidentities、sessions、user_preferences、group_membersはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
