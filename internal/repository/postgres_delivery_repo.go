package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/devotion/internal/model"
)

// PostgresDeliveryRepo はPostgreSQLを使用した配信レコードリポジトリ。
type PostgresDeliveryRepo struct {
	db *sql.DB
}

// NewPostgresDeliveryRepo はPostgresDeliveryRepoを生成する。
func NewPostgresDeliveryRepo(db *sql.DB) *PostgresDeliveryRepo {
	return &PostgresDeliveryRepo{db: db}
}

// Create はPENDING状態の配信レコードを作成する。
// DeliveryStatusは呼び出し側の値に関わらずPENDINGで保存する。
func (r *PostgresDeliveryRepo) Create(ctx context.Context, rec *model.DeliveryRecord) error {
	rec.DeliveryStatus = model.DeliveryStatusPending
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delivery_records (id, user_id, message_content, message_type, delivery_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.MessageContent, string(rec.MessageType), string(rec.DeliveryStatus), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery record: %w", err)
	}
	return nil
}

// MarkTerminal はPENDINGのレコードをDELIVEREDまたはFAILEDに遷移させる。
// DELIVEREDの場合のみsent_atを記録する。2回目以降の呼び出しはErrAlreadyTerminalを返す。
func (r *PostgresDeliveryRepo) MarkTerminal(ctx context.Context, id string, status model.DeliveryStatus, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("invalid terminal status: %s", status)
	}

	var sentAt *time.Time
	if status == model.DeliveryStatusDelivered {
		sentAt = &at
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE delivery_records
		 SET delivery_status = $2, sent_at = $3, updated_at = $4
		 WHERE id = $1 AND delivery_status = 'PENDING'`,
		id, string(status), sentAt, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark delivery record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// ListByUser はユーザーの配信履歴を新しい順に返す。
func (r *PostgresDeliveryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.DeliveryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, message_content, message_type, delivery_status, sent_at, created_at, updated_at
		 FROM delivery_records
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery records: %w", err)
	}
	defer rows.Close()

	var records []*model.DeliveryRecord
	for rows.Next() {
		rec := &model.DeliveryRecord{}
		var msgType, status string
		var sentAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.MessageContent, &msgType, &status, &sentAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		rec.MessageType = model.MessageType(msgType)
		rec.DeliveryStatus = model.DeliveryStatus(status)
		if sentAt.Valid {
			t := sentAt.Time
			rec.SentAt = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery records: %w", err)
	}
	return records, nil
}

// DeleteOlderThan はcutoffより前に作成された終端状態のレコードを削除する。
// PENDINGのまま残ったレコードは調査用に保持する。
func (r *PostgresDeliveryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM delivery_records WHERE created_at < $1 AND delivery_status <> 'PENDING'`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old delivery records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ DeliveryRepository = (*PostgresDeliveryRepo)(nil)
