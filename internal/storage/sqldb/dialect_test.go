package sqldb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{
		"mysql":      MySQL,
		" Postgres ": Postgres,
		"pg":         Postgres,
		"sqlite3":    SQLite,
	}
	for in, want := range cases {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Fatal("expected error for unsupported dialect")
	}
	if SQLite.DriverName() != "sqlite3" || MySQL.DriverName() != "mysql" {
		t.Fatal("unexpected driver names")
	}
}

func TestRebind(t *testing.T) {
	query := `SELECT id FROM todos WHERE user_id = ? AND tags LIKE ? ESCAPE '!' AND text <> '?' LIMIT ?`
	if got := MySQL.Rebind(query); got != query {
		t.Fatalf("mysql rebind should be a no-op, got %q", got)
	}
	want := `SELECT id FROM todos WHERE user_id = $1 AND tags LIKE $2 ESCAPE '!' AND text <> '?' LIMIT $3`
	if got := Postgres.Rebind(query); got != want {
		t.Fatalf("unexpected postgres query:\n%s", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"mysql duplicate", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062}), true},
		{"mysql other", &mysql.MySQLError{Number: 1452}, false},
		{"postgres unique", &pq.Error{Code: "23505"}, true},
		{"postgres fk", &pq.Error{Code: "23503"}, false},
		{"sqlite", errors.New("UNIQUE constraint failed: categories.user_id, categories.name"), true},
		{"plain", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := MySQL.IsUniqueViolation(tc.err); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN(MySQL, "user:pass@tcp(localhost:3306)/smarttodo")
	if err != nil {
		t.Fatalf("normalize mysql: %v", err)
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse normalized dsn: %v", err)
	}
	if !cfg.ParseTime || !cfg.ClientFoundRows {
		t.Fatalf("expected parseTime and clientFoundRows, got %s", dsn)
	}

	sqlite, _ := normalizeDSN(SQLite, "file:todo.db?cache=shared")
	if sqlite != "file:todo.db?cache=shared&_foreign_keys=on&_busy_timeout=5000" {
		t.Fatalf("unexpected sqlite dsn %q", sqlite)
	}
	if _, err := normalizeDSN(MySQL, "not a dsn"); err == nil {
		t.Fatal("expected error for invalid mysql dsn")
	}
}
