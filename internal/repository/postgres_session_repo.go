package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/devotion/internal/model"
)

// PostgresSessionRepo はsessionsテーブルへのアクセス。
// dataカラムは使わず、常に空のJSONオブジェクトを入れる。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

const insertSession = `INSERT INTO sessions (id, user_id, data, expires_at, created_at) VALUES ($1, $2, '{}', $3, $4)`

// Create はセッションを保存する。
func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.Session) error {
	if _, err := r.db.ExecContext(ctx, insertSession, s.ID, s.UserID, s.ExpiresAt, s.CreatedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindByID は有効期限内のセッションを返す。期限切れや未登録はnil。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = $1 AND expires_at > now()`, id,
	).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &s, nil
}

// DeleteByID はセッションを1件消す。存在しなくてもエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.deleteWhere(ctx, "id = $1", id)
	return err
}

// DeleteByUserID はユーザーのセッションをすべて消す。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.deleteWhere(ctx, "user_id = $1", userID)
	return err
}

// DeleteExpired はnow以前に期限の切れたセッションを消し、件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(ctx, "expires_at <= $1", now)
}

func (r *PostgresSessionRepo) deleteWhere(ctx context.Context, cond string, arg any) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE "+cond, arg)
	if err != nil {
		return 0, fmt.Errorf("delete sessions where %s: %w", cond, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
