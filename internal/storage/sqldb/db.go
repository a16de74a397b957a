package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config 描述数据库连接池参数。
type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open 打开连接池并确认数据库可用。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", cfg.Dialect)
	}
	dsn, err := normalizeDSN(cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", cfg.Dialect, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.Dialect == SQLite {
		// SQLite 单写者，串行化连接避免 database is locked。
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", cfg.Dialect, err)
	}
	return db, nil
}

// normalizeDSN 补齐各驱动正确解析时间列所需的参数。
func normalizeDSN(d Dialect, dsn string) (string, error) {
	switch d {
	case MySQL:
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("解析 MySQL DSN 失败: %w", err)
		}
		parsed.ParseTime = true
		parsed.Loc = time.UTC
		parsed.ClientFoundRows = true
		return parsed.FormatDSN(), nil
	case SQLite:
		if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk") {
			return dsn, nil
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "_foreign_keys=on&_busy_timeout=5000", nil
	default:
		return dsn, nil
	}
}
