// Package cleanup は期限切れセッションと古い配信レコードの自動削除ジョブを提供する。
// 配信レコードは保持期間（デフォルト90日）を超えたものを日次バッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DeliveryPurger は作成日時がcutoffより古い配信レコードを削除する。
type DeliveryPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultRetentionDays は配信レコードのデフォルト保持日数。
const DefaultRetentionDays = 90

// CleanupJob は日次の削除ジョブ。何度実行しても結果は変わらない。
type CleanupJob struct {
	sessions      SessionPurger
	deliveries    DeliveryPurger
	logger        *slog.Logger
	clock         func() time.Time
	RetentionDays int // 配信レコードの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPurger, deliveries DeliveryPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		deliveries:    deliveries,
		logger:        logger,
		clock:         time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は期限切れセッションと保持期間を超えた配信レコードを削除する。
// 片方が失敗してももう片方は実行し、両方のエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.clock()
	var errs []error

	sessions, err := j.sessions.DeleteExpired(ctx, start)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("セッション削除に失敗: %w", err))
	}

	cutoff := start.AddDate(0, 0, -j.RetentionDays)
	records, err := j.deliveries.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("配信レコードの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		errs = append(errs, fmt.Errorf("配信レコード削除に失敗: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_deliveries", records),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(j.clock().Sub(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを実行する。ctxのキャンセルで停止する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
