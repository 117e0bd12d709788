package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/devotion/internal/model"
)

// PostgresPreferencesRepo はPostgreSQLを使用した配信設定リポジトリ。
type PostgresPreferencesRepo struct {
	db *sql.DB
}

// NewPostgresPreferencesRepo はPostgresPreferencesRepoを生成する。
func NewPostgresPreferencesRepo(db *sql.DB) *PostgresPreferencesRepo {
	return &PostgresPreferencesRepo{db: db}
}

// FindByUserID はユーザーの配信設定を取得する。見つからない場合はnilを返す。
func (r *PostgresPreferencesRepo) FindByUserID(ctx context.Context, userID string) (*model.UserPreferences, error) {
	p := &model.UserPreferences{}
	var length string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, reminder_hours, email_enabled, sms_enabled, themes, message_length, updated_at
		 FROM user_preferences WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, pq.Array(&p.ReminderHours), &p.EmailEnabled, &p.SMSEnabled, pq.Array(&p.Themes), &length, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find preferences: %w", err)
	}
	p.MessageLength = model.MessageLength(length)
	return p, nil
}

// upsertPreferences は配信設定を作成または更新する。ユーザー設定の更新トランザクション内で使う。
func upsertPreferences(ctx context.Context, ex execer, p *model.UserPreferences) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, reminder_hours, email_enabled, sms_enabled, themes, message_length, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
		   reminder_hours = EXCLUDED.reminder_hours,
		   email_enabled = EXCLUDED.email_enabled,
		   sms_enabled = EXCLUDED.sms_enabled,
		   themes = EXCLUDED.themes,
		   message_length = EXCLUDED.message_length,
		   updated_at = EXCLUDED.updated_at`,
		p.UserID, pq.Array(p.ReminderHours), p.EmailEnabled, p.SMSEnabled, pq.Array(p.Themes), string(p.MessageLength), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}
	return nil
}

// ListDeliveryCandidates はメールまたはSMSのいずれかが有効なユーザーを設定付きで返す。
func (r *PostgresPreferencesRepo) ListDeliveryCandidates(ctx context.Context) ([]model.Recipient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.name, u.phone, u.timezone,
		        p.reminder_hours, p.email_enabled, p.sms_enabled, p.themes, p.message_length
		 FROM users u
		 JOIN user_preferences p ON p.user_id = u.id
		 WHERE p.email_enabled OR p.sms_enabled
		 ORDER BY u.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery candidates: %w", err)
	}
	defer rows.Close()

	var recipients []model.Recipient
	for rows.Next() {
		var rc model.Recipient
		var phone, timezone sql.NullString
		var length string
		if err := rows.Scan(
			&rc.User.ID, &rc.User.Email, &rc.User.Name, &phone, &timezone,
			pq.Array(&rc.Preferences.ReminderHours), &rc.Preferences.EmailEnabled, &rc.Preferences.SMSEnabled,
			pq.Array(&rc.Preferences.Themes), &length,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery candidate: %w", err)
		}
		rc.User.Phone = nullStringValue(phone)
		rc.User.Timezone = nullStringValue(timezone)
		rc.Preferences.UserID = rc.User.ID
		rc.Preferences.MessageLength = model.MessageLength(length)
		recipients = append(recipients, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery candidates: %w", err)
	}
	return recipients, nil
}

// compile-time interface check
var _ PreferencesRepository = (*PostgresPreferencesRepo)(nil)
