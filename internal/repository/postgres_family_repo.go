package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/devotion/internal/model"
)

// PostgresFamilyRepo はPostgreSQLを使用した家族アカウントリポジトリ。
type PostgresFamilyRepo struct {
	db *sql.DB
}

// NewPostgresFamilyRepo はPostgresFamilyRepoを生成する。
func NewPostgresFamilyRepo(db *sql.DB) *PostgresFamilyRepo {
	return &PostgresFamilyRepo{db: db}
}

// ListByOwner はオーナーに紐づく家族メンバーを返す。
func (r *PostgresFamilyRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.FamilyMemberWithUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.id, f.owner_id, f.member_user_id, f.created_at, u.name, u.email
		 FROM family_members f
		 JOIN users u ON u.id = f.member_user_id
		 WHERE f.owner_id = $1
		 ORDER BY f.created_at`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list family members: %w", err)
	}
	defer rows.Close()

	var members []model.FamilyMemberWithUser
	for rows.Next() {
		var m model.FamilyMemberWithUser
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.MemberUserID, &m.CreatedAt, &m.Name, &m.Email); err != nil {
			return nil, fmt.Errorf("failed to scan family member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate family members: %w", err)
	}
	return members, nil
}

// CreateWithUser はメンバーユーザー、家族リンク、デフォルト設定を同一トランザクションで作成する。
// オーナーのsubscriptions行をロックしてから件数を数えるため、同時追加でも上限を超えない。
func (r *PostgresFamilyRepo) CreateWithUser(ctx context.Context, user *model.User, link *model.FamilyMember, prefs *model.UserPreferences, limit int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var subID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM subscriptions WHERE user_id = $1 FOR UPDATE`,
		link.OwnerID,
	).Scan(&subID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to lock owner subscription: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM family_members WHERE owner_id = $1`,
		link.OwnerID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to count family members: %w", err)
	}
	if count >= limit {
		return ErrFamilyLimitReached
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, timezone, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.Name, nullString(user.Timezone), string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert member user: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert member user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO family_members (id, owner_id, member_user_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		link.ID, link.OwnerID, link.MemberUserID, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert family link: %w", err)
	}

	if err := insertPreferences(ctx, tx, prefs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete はオーナーに紐づく家族メンバーのユーザーを削除する。
// 家族リンクと設定はCASCADE削除される。
func (r *PostgresFamilyRepo) Delete(ctx context.Context, ownerID, memberUserID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users
		 WHERE id = $2
		   AND EXISTS (SELECT 1 FROM family_members WHERE owner_id = $1 AND member_user_id = $2)`,
		ownerID, memberUserID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete family member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ FamilyRepository = (*PostgresFamilyRepo)(nil)
