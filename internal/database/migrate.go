// Package database はPostgreSQLへの接続とスキーマのマイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator は埋め込みのSQLファイルをソースにしたmigrateインスタンスを返す。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

// MigrationStatus はマイグレーション後のスキーマの状態。
type MigrationStatus struct {
	Version uint
	// Applied は今回の実行で1つ以上のマイグレーションを適用したか。
	Applied bool
}

// MigrateUp は未適用のマイグレーションをすべて適用する。
// 前回の失敗でdirtyになっている場合は適用せずにエラーを返す。
func MigrateUp(databaseURL string, logger *slog.Logger) (MigrationStatus, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()
	if logger != nil {
		m.Log = &migrateLogger{logger: logger}
	}

	if v, dirty, err := m.Version(); err == nil && dirty {
		return MigrationStatus{Version: v}, fmt.Errorf("schema version %d is dirty; fix it manually and force the version", v)
	}

	applied := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationStatus{}, fmt.Errorf("apply migrations: %w", err)
		}
		applied = false
	}

	v, _, err := m.Version()
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("read schema version: %w", err)
	}
	return MigrationStatus{Version: v, Applied: applied}, nil
}

// migrateLogger はgolang-migrateのログをslogに流す。
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
