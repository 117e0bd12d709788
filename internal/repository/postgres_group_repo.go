package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/devotion/internal/model"
)

// PostgresGroupRepo はPostgreSQLを使用したグループリポジトリ。
type PostgresGroupRepo struct {
	db *sql.DB
}

// NewPostgresGroupRepo はPostgresGroupRepoを生成する。
func NewPostgresGroupRepo(db *sql.DB) *PostgresGroupRepo {
	return &PostgresGroupRepo{db: db}
}

// FindByID は指定IDのグループを取得する。見つからない場合はnilを返す。
func (r *PostgresGroupRepo) FindByID(ctx context.Context, id string) (*model.Group, error) {
	g := &model.Group{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, leader_id, created_at, updated_at FROM groups WHERE id = $1`,
		id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.LeaderID, &g.CreatedAt, &g.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	return g, nil
}

// CreateWithLeader はグループとリーダーのメンバーシップを同一トランザクションで作成する。
func (r *PostgresGroupRepo) CreateWithLeader(ctx context.Context, g *model.Group, leader *model.GroupMember) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO groups (id, name, description, leader_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.Name, g.Description, g.LeaderID, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	if err := insertMember(ctx, tx, leader); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// execer はsql.DBとsql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMember(ctx context.Context, ex execer, m *model.GroupMember) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO group_members (id, group_id, user_id, role, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.GroupID, m.UserID, string(m.Role), string(m.Status), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert group member: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert group member: %w", err)
	}
	return nil
}

// ListByUser はユーザーが参加中（または招待中）のグループを返す。拒否済みは含まない。
func (r *PostgresGroupRepo) ListByUser(ctx context.Context, userID string) ([]*model.Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.description, g.leader_id, g.created_at, g.updated_at
		 FROM groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.user_id = $1 AND m.status <> 'REJECTED'
		 ORDER BY g.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*model.Group
	for rows.Next() {
		g := &model.Group{}
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.LeaderID, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	return groups, nil
}

// FindMember はグループとユーザーのメンバーシップを取得する。見つからない場合はnilを返す。
func (r *PostgresGroupRepo) FindMember(ctx context.Context, groupID, userID string) (*model.GroupMember, error) {
	m := &model.GroupMember{}
	var role, status string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, group_id, user_id, role, status, created_at, updated_at
		 FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&m.ID, &m.GroupID, &m.UserID, &role, &status, &m.CreatedAt, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group member: %w", err)
	}
	m.Role = model.MemberRole(role)
	m.Status = model.MemberStatus(status)
	return m, nil
}

// ListMembers はグループのメンバー一覧をユーザー情報付きで返す。
func (r *PostgresGroupRepo) ListMembers(ctx context.Context, groupID string) ([]MemberWithUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.group_id, m.user_id, m.role, m.status, m.created_at, m.updated_at,
		        u.name, u.email, u.image
		 FROM group_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.group_id = $1
		 ORDER BY m.created_at`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []MemberWithUser
	for rows.Next() {
		var mu MemberWithUser
		var role, status string
		var image sql.NullString
		if err := rows.Scan(&mu.ID, &mu.GroupID, &mu.UserID, &role, &status, &mu.CreatedAt, &mu.UpdatedAt,
			&mu.Name, &mu.Email, &image); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		mu.Role = model.MemberRole(role)
		mu.Status = model.MemberStatus(status)
		mu.Image = nullStringValue(image)
		members = append(members, mu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}
	return members, nil
}

// CreateMember はメンバーシップを作成する。既に存在する場合はErrDuplicateを返す。
func (r *PostgresGroupRepo) CreateMember(ctx context.Context, m *model.GroupMember) error {
	return insertMember(ctx, r.db, m)
}

// UpdateMemberStatus はメンバーシップの状態をfromからtoへ条件付きで更新する。
func (r *PostgresGroupRepo) UpdateMemberStatus(ctx context.Context, memberID string, from, to model.MemberStatus, now time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE group_members SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		memberID, string(from), string(to), now,
	)
	if err != nil {
		return fmt.Errorf("failed to update member status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrStaleState
	}
	return nil
}

// compile-time interface check
var _ GroupRepository = (*PostgresGroupRepo)(nil)
