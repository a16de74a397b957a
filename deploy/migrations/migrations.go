package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

// Files 按方言目录暴露全部 goose SQL 迁移。
//
//go:embed mysql/*.sql postgres/*.sql sqlite/*.sql
var Files embed.FS

// ForDialect 返回指定方言的迁移目录。
func ForDialect(dialect string) (fs.FS, error) {
	switch dialect {
	case "mysql", "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("没有 %q 方言的迁移文件", dialect)
	}
	return fs.Sub(Files, dialect)
}
