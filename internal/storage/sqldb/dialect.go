package sqldb

import (
	stdErrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Dialect 标识底层数据库方言。
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect 解析配置中的驱动名称。
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("不支持的数据库方言 %q", name)
	}
}

// DriverName 返回 database/sql 注册的驱动名。
func (d Dialect) DriverName() string {
	switch d {
	case SQLite:
		return "sqlite3"
	default:
		return string(d)
	}
}

// Rebind 将 ? 占位符转换为方言所需的形式。
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsUniqueViolation 判断错误是否由唯一约束冲突引起。
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// go-sqlite3 的错误类型依赖 cgo，这里按错误文本识别。
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
