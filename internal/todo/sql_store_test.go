package todo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stdErrors "errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"SmartTodo/internal/storage/sqldb"
)

const selectTodoSQL = `SELECT id, user_id, text, completed, category, tags, priority, due_date, created_at, updated_at
    FROM todos WHERE id = ? AND user_id = ?`

const insertTodoSQL = `INSERT INTO todos
    (id, user_id, text, completed, category, tags, priority, due_date, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

var todoColumnNames = []string{"id", "user_id", "text", "completed", "category", "tags", "priority", "due_date", "created_at", "updated_at"}

func todoRow(id string, completed bool, tags any, due any) []driver.Value {
	created := time.UnixMilli(1000).UTC()
	return []driver.Value{id, "alice", "text " + id, completed, "work", tags, "high", due, created, created}
}

func TestSQLStoreInsertAndGetTodo(t *testing.T) {
	t.Parallel()

	due := time.UnixMilli(5000).UTC()
	db, driver := newMockDB(t, []mockOperation{
		execOp(insertTodoSQL, mockResult{rowsAffected: 1}),
		queryOp(selectTodoSQL, mockRowsData{
			columns: todoColumnNames,
			values:  [][]driver.Value{todoRow("t1", false, `["home","q2"]`, due)},
		}),
		queryOp(selectTodoSQL, mockRowsData{columns: todoColumnNames}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.MySQL)
	ctx := context.Background()
	if err := store.InsertTodo(ctx, &Todo{ID: "t1", UserID: "alice", Text: "x", Tags: []string{"home"}, CreatedAt: 1000, UpdatedAt: 1000}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := store.GetTodo(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != "t1" || got.Category != "work" || got.Priority != PriorityHigh {
		t.Fatalf("unexpected todo: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "q2" {
		t.Fatalf("unexpected tags: %v", got.Tags)
	}
	if got.DueDate == nil || *got.DueDate != 5000 || got.CreatedAt != 1000 {
		t.Fatalf("unexpected times: due=%v created=%d", got.DueDate, got.CreatedAt)
	}

	if _, err := store.GetTodo(ctx, "alice", "missing"); !stdErrors.Is(err, ErrTodoNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLStoreUpdateTodo(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(`UPDATE todos SET completed = ?, due_date = ?, updated_at = ? WHERE id = ? AND user_id = ?`, mockResult{rowsAffected: 1}),
		queryOp(selectTodoSQL, mockRowsData{
			columns: todoColumnNames,
			values:  [][]driver.Value{todoRow("t1", true, nil, nil)},
		}),
		execOp(`UPDATE todos SET text = ?, updated_at = ? WHERE id = ? AND user_id = ?`, mockResult{rowsAffected: 0}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.MySQL)
	ctx := context.Background()
	got, err := store.UpdateTodo(ctx, "alice", "t1", TodoPatch{Completed: Some(true), DueDate: Null[Millis]()}, 2000)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !got.Completed || got.DueDate != nil || got.Tags != nil {
		t.Fatalf("unexpected todo: %+v", got)
	}

	if _, err := store.UpdateTodo(ctx, "bob", "t1", TodoPatch{Text: Some("x")}, 3000); !stdErrors.Is(err, ErrTodoNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLStoreListTodosBuildsFilters(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		queryOp(`SELECT id, user_id, text, completed, category, tags, priority, due_date, created_at, updated_at
    FROM todos WHERE user_id = ? AND completed = ? AND category = ? AND tags LIKE ? ESCAPE '!'
    ORDER BY CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date ASC, created_at DESC, id DESC LIMIT ? OFFSET ?`,
			mockRowsData{
				columns: todoColumnNames,
				values: [][]driver.Value{
					todoRow("t2", false, `["q2"]`, nil),
					todoRow("t1", false, `["q2"]`, nil),
				},
			}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.MySQL)
	opts := BuildListOptions(WithStatus(StatusActive), WithCategory("work"), WithTags("Q2"), WithSortOrder(SortDueAsc))
	list, err := store.ListTodos(context.Background(), "alice", opts)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "t2" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSQLStoreDeleteCompletedTodos(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(`SELECT id FROM todos WHERE user_id = ? AND completed = ? ORDER BY id FOR UPDATE`, mockRowsData{
			columns: []string{"id"},
			values:  [][]driver.Value{{"a"}, {"b"}},
		}),
		{
			typ:    opExec,
			query:  `DELETE FROM todos WHERE user_id = ? AND id IN (?, ?)`,
			args:   []driver.Value{"alice", "a", "b"},
			result: mockResult{rowsAffected: 2},
		},
		commitOp(),
		beginOp(),
		queryOp(`SELECT id FROM todos WHERE user_id = ? AND completed = ? ORDER BY id FOR UPDATE`, mockRowsData{columns: []string{"id"}}),
		commitOp(),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.MySQL)
	ids, err := store.DeleteCompletedTodos(context.Background(), "alice")
	if err != nil {
		t.Fatalf("delete completed failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	ids, err = store.DeleteCompletedTodos(context.Background(), "alice")
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty result, got %v %v", ids, err)
	}
}

// 删除失败时整个事务回滚，不返回任何 ID。
func TestSQLStoreDeleteCompletedTodosRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(`SELECT id FROM todos WHERE user_id = ? AND completed = ? ORDER BY id`, mockRowsData{
			columns: []string{"id"},
			values:  [][]driver.Value{{"a"}},
		}),
		{
			typ:   opExec,
			query: `DELETE FROM todos WHERE user_id = ? AND id IN (?)`,
			args:  []driver.Value{"alice", "a"},
			err:   fmt.Errorf("database is locked"),
		},
		rollbackOp(),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.SQLite)
	ids, err := store.DeleteCompletedTodos(context.Background(), "alice")
	if err == nil || ids != nil {
		t.Fatalf("expected failure without ids, got %v %v", ids, err)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3); got != "?, ?, ?" {
		t.Fatalf("unexpected placeholders %q", got)
	}
	if got := placeholders(0); got != "" {
		t.Fatalf("unexpected placeholders %q", got)
	}
}

func TestSQLStoreTodoStats(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		queryOp(`SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN completed = ? THEN 1 ELSE 0 END), 0) AS completed,
        COALESCE(SUM(CASE WHEN completed = ? AND due_date < ? THEN 1 ELSE 0 END), 0) AS overdue,
        COALESCE(SUM(CASE WHEN completed = ? AND due_date >= ? AND due_date < ? THEN 1 ELSE 0 END), 0) AS due_today
        FROM todos WHERE user_id = ?`, mockRowsData{
			columns: []string{"total", "completed", "overdue", "due_today"},
			values:  [][]driver.Value{{int64(7), int64(3), int64(2), int64(1)}},
		}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.MySQL)
	stats, err := store.TodoStats(context.Background(), "alice", 0, 86400000)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	want := Stats{Total: 7, Active: 4, Completed: 3, Overdue: 2, DueToday: 1}
	if stats != want {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSQLStoreInsertCategoryConflict(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		{
			typ: opExec,
			query: `INSERT INTO categories
    (id, user_id, name, color, icon, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)`,
			err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
		},
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.MySQL)
	err := store.InsertCategory(context.Background(), &Category{ID: "c1", UserID: "alice", Name: "Work", Color: "#000000"})
	if !stdErrors.Is(err, ErrCategoryConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSQLStoreListCategoriesUsesPostgresPlaceholders(t *testing.T) {
	t.Parallel()

	created := time.UnixMilli(predefinedEpoch).UTC()
	db, driver := newMockDB(t, []mockOperation{
		queryOp(`SELECT id, user_id, name, color, icon, created_at, updated_at FROM categories
    WHERE user_id = $1 OR user_id = $2 ORDER BY created_at ASC, id ASC`, mockRowsData{
			columns: []string{"id", "user_id", "name", "color", "icon", "created_at", "updated_at"},
			values: [][]driver.Value{
				{"c0", ReservedOwner, "general", "#6B7280", "folder", created, created},
				{"c1", "alice", "Trips", "#AABBCC", nil, created.Add(time.Hour), created.Add(time.Hour)},
			},
		}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.Postgres)
	list, err := store.ListCategories(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list categories failed: %v", err)
	}
	if len(list) != 2 || !list[0].Predefined() || list[1].Icon != "" {
		t.Fatalf("unexpected categories: %+v", list)
	}
}

func TestSQLStoreWithTxRollsBack(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(`UPDATE todos SET category = ?, updated_at = ? WHERE user_id = ? AND category = ?`, mockResult{rowsAffected: 3}),
		{typ: opExec, query: `DELETE FROM categories WHERE id = ? AND user_id = ?`, err: fmt.Errorf("lock wait timeout")},
		rollbackOp(),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.MySQL)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx Store) error {
		n, err := tx.RecategorizeTodos(ctx, "alice", "Trips", FallbackCategory, 1000)
		if err != nil {
			return err
		}
		if n != 3 {
			return fmt.Errorf("expected 3 rows, got %d", n)
		}
		_, err = tx.DeleteCategory(ctx, "alice", "c1")
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "lock wait timeout") {
		t.Fatalf("expected delete error, got %v", err)
	}
}

func TestSQLStoreWithTxCommits(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(`UPDATE categories SET name = ?, color = ?, icon = ?, updated_at = ? WHERE id = ? AND user_id = ?`, mockResult{rowsAffected: 1}),
		execOp(`UPDATE todos SET category = ?, updated_at = ? WHERE user_id = ? AND category = ?`, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	store := NewSQLStore(db, sqldb.MySQL)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx Store) error {
		if err := tx.UpdateCategory(ctx, &Category{ID: "c1", UserID: "alice", Name: "Trips", Color: "#AABBCC", UpdatedAt: 1000}); err != nil {
			return err
		}
		_, err := tx.RecategorizeTodos(ctx, "alice", "Travel", "Trips", 1000)
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	args   []driver.Value
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-todo-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.args != nil {
		if len(op.args) != len(args) {
			return nil, fmt.Errorf("unexpected args %v, want %v", args, op.args)
		}
		for i, want := range op.args {
			if args[i].Value != want {
				return nil, fmt.Errorf("arg %d = %v, want %v", i, args[i].Value, want)
			}
		}
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
