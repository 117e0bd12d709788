package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/devotion/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した課金プランリポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// FindByUserID はユーザーのプランを取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var plan, status string
	var trialEndsAt, periodEnd sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, plan, status, trial_ends_at, current_period_end, created_at, updated_at
		 FROM subscriptions WHERE user_id = $1`,
		userID,
	).Scan(&sub.ID, &sub.UserID, &plan, &status, &trialEndsAt, &periodEnd, &sub.CreatedAt, &sub.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読プランの取得に失敗しました: %w", err)
	}

	sub.Plan = model.Plan(plan)
	sub.Status = model.SubscriptionStatus(status)
	if trialEndsAt.Valid {
		t := trialEndsAt.Time
		sub.TrialEndsAt = &t
	}
	if periodEnd.Valid {
		t := periodEnd.Time
		sub.CurrentPeriodEnd = &t
	}
	return sub, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
