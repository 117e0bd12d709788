package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/devotion/internal/model"
)

// PostgresIdentityRepo はidentitiesテーブルへのアクセス。
// (provider, provider_user_id)には一意制約があり、行の作成はPostgresUserRepo.CreateWithIdentityが行う。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はIdP上のユーザーに紐づくidentityを返す。未登録はnil。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var id model.Identity
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at FROM identities WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&id.ID, &id.UserID, &id.Provider, &id.ProviderUserID, &id.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select identity %s/%s: %w", provider, providerUserID, err)
	}
	return &id, nil
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
