package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/devotion/internal/model"
)

// PostgresNoteRepo はPostgreSQLを使用したノートリポジトリ。
type PostgresNoteRepo struct {
	db *sql.DB
}

// NewPostgresNoteRepo はPostgresNoteRepoを生成する。
func NewPostgresNoteRepo(db *sql.DB) *PostgresNoteRepo {
	return &PostgresNoteRepo{db: db}
}

// Create はノートを作成する。
func (r *PostgresNoteRepo) Create(ctx context.Context, n *model.Note) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notes (id, group_id, author_id, kind, title, content, visibility, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.GroupID, n.AuthorID, string(n.Kind), n.Title, n.Content, string(n.Visibility), n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

// FindByID は指定IDのノートを取得する。見つからない場合はnilを返す。
func (r *PostgresNoteRepo) FindByID(ctx context.Context, id string) (*model.Note, error) {
	n := &model.Note{}
	var kind, visibility string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, group_id, author_id, kind, title, content, visibility, created_at, updated_at
		 FROM notes WHERE id = $1`,
		id,
	).Scan(&n.ID, &n.GroupID, &n.AuthorID, &kind, &n.Title, &n.Content, &visibility, &n.CreatedAt, &n.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find note: %w", err)
	}
	n.Kind = model.NoteKind(kind)
	n.Visibility = model.Visibility(visibility)
	return n, nil
}

// ListByGroup はグループ内の指定種別のノートを新しい順に投稿者情報付きで返す。
// 公開範囲による絞り込みは呼び出し側で行う。
func (r *PostgresNoteRepo) ListByGroup(ctx context.Context, groupID string, kind model.NoteKind) ([]model.NoteWithAuthor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT n.id, n.group_id, n.author_id, n.kind, n.title, n.content, n.visibility, n.created_at, n.updated_at,
		        u.name, u.image
		 FROM notes n
		 JOIN users u ON u.id = n.author_id
		 WHERE n.group_id = $1 AND n.kind = $2
		 ORDER BY n.created_at DESC`,
		groupID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []model.NoteWithAuthor
	for rows.Next() {
		var nw model.NoteWithAuthor
		var k, visibility string
		var image sql.NullString
		if err := rows.Scan(&nw.ID, &nw.GroupID, &nw.AuthorID, &k, &nw.Title, &nw.Content, &visibility, &nw.CreatedAt, &nw.UpdatedAt,
			&nw.Author.Name, &image); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		nw.Kind = model.NoteKind(k)
		nw.Visibility = model.Visibility(visibility)
		nw.Author.ID = nw.AuthorID
		nw.Author.Image = nullStringValue(image)
		notes = append(notes, nw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}

// ListReplies は指定ノート群の返信を古い順に投稿者情報付きで返す。
func (r *PostgresNoteRepo) ListReplies(ctx context.Context, noteIDs []string) ([]model.ReplyWithAuthor, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.note_id, r.author_id, r.content, r.created_at, u.name, u.image
		 FROM note_replies r
		 JOIN users u ON u.id = r.author_id
		 WHERE r.note_id = ANY($1)
		 ORDER BY r.created_at`,
		pq.Array(noteIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	defer rows.Close()

	var replies []model.ReplyWithAuthor
	for rows.Next() {
		var rw model.ReplyWithAuthor
		var image sql.NullString
		if err := rows.Scan(&rw.ID, &rw.NoteID, &rw.AuthorID, &rw.Content, &rw.CreatedAt, &rw.Author.Name, &image); err != nil {
			return nil, fmt.Errorf("failed to scan reply: %w", err)
		}
		rw.Author.ID = rw.AuthorID
		rw.Author.Image = nullStringValue(image)
		replies = append(replies, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate replies: %w", err)
	}
	return replies, nil
}

// CreateReply は返信を作成する。
func (r *PostgresNoteRepo) CreateReply(ctx context.Context, reply *model.NoteReply) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO note_replies (id, note_id, author_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		reply.ID, reply.NoteID, reply.AuthorID, reply.Content, reply.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reply: %w", err)
	}
	return nil
}

// Delete はノートを削除する。返信はCASCADE削除される。
func (r *PostgresNoteRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
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
var _ NoteRepository = (*PostgresNoteRepo)(nil)
