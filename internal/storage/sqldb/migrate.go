package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"SmartTodo/deploy/migrations"
)

// MigrationStatus 描述单个迁移文件的状态。
type MigrationStatus struct {
	Version   int64     `json:"version"`
	Path      string    `json:"path"`
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"applied_at,omitempty"`
}

func (d Dialect) gooseDialect() goose.Dialect {
	switch d {
	case Postgres:
		return goose.DialectPostgres
	case SQLite:
		return goose.DialectSQLite3
	default:
		return goose.DialectMySQL
	}
}

func newProvider(db *sql.DB, d Dialect) (*goose.Provider, error) {
	fsys, err := migrations.ForDialect(string(d))
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(d.gooseDialect(), db, fsys)
	if err != nil {
		return nil, fmt.Errorf("初始化迁移器失败: %w", err)
	}
	return provider, nil
}

// Migrate 执行所有待应用的迁移。
func Migrate(ctx context.Context, db *sql.DB, d Dialect, logger *slog.Logger) error {
	provider, err := newProvider(db, d)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("执行迁移失败: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		logger.Info("迁移已应用",
			slog.Int64("version", res.Source.Version),
			slog.String("path", res.Source.Path),
			slog.Duration("duration", res.Duration),
		)
	}
	return nil
}

// Status 返回全部迁移的应用情况。
func Status(ctx context.Context, db *sql.DB, d Dialect) ([]MigrationStatus, error) {
	provider, err := newProvider(db, d)
	if err != nil {
		return nil, err
	}
	list, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询迁移状态失败: %w", err)
	}
	out := make([]MigrationStatus, 0, len(list))
	for _, st := range list {
		if st == nil || st.Source == nil {
			continue
		}
		out = append(out, MigrationStatus{
			Version:   st.Source.Version,
			Path:      st.Source.Path,
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return out, nil
}
