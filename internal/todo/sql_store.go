package todo

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "SmartTodo/internal/errors"
	"SmartTodo/internal/storage/sqldb"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore 基于 database/sql 保存待办，支持 MySQL、PostgreSQL 与 SQLite。
type SQLStore struct {
	db      *sql.DB
	q       queryer
	dialect sqldb.Dialect
	inTx    bool
}

// NewSQLStore 使用已打开的连接池创建 SQLStore。
func NewSQLStore(db *sql.DB, dialect sqldb.Dialect) *SQLStore {
	return &SQLStore{db: db, q: db, dialect: dialect}
}

const todoColumns = `id, user_id, text, completed, category, tags, priority, due_date, created_at, updated_at`

const categoryColumns = `id, user_id, name, color, icon, created_at, updated_at`

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// ListTodos 实现 Store 接口。
func (s *SQLStore) ListTodos(ctx context.Context, userID string, opts ListOptions) ([]*Todo, error) {
	opts.applyDefaults()

	clause, args := buildTodoFilter(userID, opts)
	query := `SELECT ` + todoColumns + ` FROM todos WHERE ` + clause + todoOrderBy(opts.Order) + ` LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询待办列表失败")
	}
	defer rows.Close()

	todos := make([]*Todo, 0)
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历待办失败")
	}
	return todos, nil
}

// GetTodo 实现 Store 接口。
func (s *SQLStore) GetTodo(ctx context.Context, userID, id string) (*Todo, error) {
	row := s.queryRow(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTodo(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTodoNotFound
		}
		return nil, err
	}
	return t, nil
}

// InsertTodo 实现 Store 接口。
func (s *SQLStore) InsertTodo(ctx context.Context, t *Todo) error {
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码标签失败")
	}
	const stmt = `INSERT INTO todos
    (id, user_id, text, completed, category, tags, priority, due_date, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, stmt,
		t.ID,
		t.UserID,
		t.Text,
		t.Completed,
		nullString(t.Category),
		tags,
		nullString(string(t.Priority)),
		nullMillis(t.DueDate),
		fromMillis(t.CreatedAt),
		fromMillis(t.UpdatedAt),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入待办失败")
	}
	return nil
}

// UpdateTodo 实现 Store 接口。
func (s *SQLStore) UpdateTodo(ctx context.Context, userID, id string, patch TodoPatch, updatedAt int64) (*Todo, error) {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 9)
	if patch.Text.Set {
		sets = append(sets, "text = ?")
		args = append(args, patch.Text.Value)
	}
	if patch.Completed.Set {
		sets = append(sets, "completed = ?")
		args = append(args, patch.Completed.Value)
	}
	if patch.Category.Set {
		sets = append(sets, "category = ?")
		args = append(args, nullString(patch.Category.Value))
	}
	if patch.Tags.Set {
		tags, err := encodeTags(patch.Tags.Value)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码标签失败")
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}
	if patch.Priority.Set {
		sets = append(sets, "priority = ?")
		args = append(args, nullString(string(patch.Priority.Value)))
	}
	if patch.DueDate.Set {
		sets = append(sets, "due_date = ?")
		if patch.DueDate.Null {
			args = append(args, sql.NullTime{})
		} else {
			args = append(args, nullMillis(patch.DueDate.Value.Ptr()))
		}
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, fromMillis(updatedAt), id, userID)

	res, err := s.exec(ctx, `UPDATE todos SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新待办失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return nil, ErrTodoNotFound
	}
	return s.GetTodo(ctx, userID, id)
}

// DeleteTodo 实现 Store 接口。
func (s *SQLStore) DeleteTodo(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM todos WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除待办失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return affected > 0, nil
}

// deleteBatchSize 限制单条 DELETE 的占位符数量。
const deleteBatchSize = 500

// DeleteCompletedTodos 在事务内锁定已完成待办并按 ID 删除，返回的 ID 与实际删除的行一致。
func (s *SQLStore) DeleteCompletedTodos(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		ids, err = tx.(*SQLStore).deleteCompleted(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLStore) deleteCompleted(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT id FROM todos WHERE user_id = ? AND completed = ? ORDER BY id`
	if s.dialect != sqldb.SQLite {
		query += ` FOR UPDATE`
	}
	rows, err := s.query(ctx, query, userID, true)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询已完成待办失败")
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析待办 ID 失败")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历已完成待办失败")
	}
	rows.Close()

	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		batch := ids[start:end]
		args := make([]any, 0, len(batch)+1)
		args = append(args, userID)
		for _, id := range batch {
			args = append(args, id)
		}
		stmt := `DELETE FROM todos WHERE user_id = ? AND id IN (` + placeholders(len(batch)) + `)`
		if _, err := s.exec(ctx, stmt, args...); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "清除已完成待办失败")
		}
	}
	return ids, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// RecategorizeTodos 实现 Store 接口。
func (s *SQLStore) RecategorizeTodos(ctx context.Context, userID, from, to string, updatedAt int64) (int64, error) {
	res, err := s.exec(ctx, `UPDATE todos SET category = ?, updated_at = ? WHERE user_id = ? AND category = ?`,
		nullString(to), fromMillis(updatedAt), userID, from)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新待办分类失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return affected, nil
}

// TodoStats 实现 Store 接口。
func (s *SQLStore) TodoStats(ctx context.Context, userID string, dayStart, dayEnd int64) (Stats, error) {
	const stmt = `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN completed = ? THEN 1 ELSE 0 END), 0) AS completed,
        COALESCE(SUM(CASE WHEN completed = ? AND due_date < ? THEN 1 ELSE 0 END), 0) AS overdue,
        COALESCE(SUM(CASE WHEN completed = ? AND due_date >= ? AND due_date < ? THEN 1 ELSE 0 END), 0) AS due_today
        FROM todos WHERE user_id = ?`

	start, end := fromMillis(dayStart), fromMillis(dayEnd)
	row := s.queryRow(ctx, stmt, true, false, start, false, start, end, userID)

	var stats Stats
	if err := row.Scan(&stats.Total, &stats.Completed, &stats.Overdue, &stats.DueToday); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询待办统计失败")
	}
	stats.Active = stats.Total - stats.Completed
	return stats, nil
}

// ListCategories 实现 Store 接口。
func (s *SQLStore) ListCategories(ctx context.Context, userID string) ([]*Category, error) {
	rows, err := s.query(ctx, `SELECT `+categoryColumns+` FROM categories WHERE user_id = ? OR user_id = ? ORDER BY created_at ASC, id ASC`,
		userID, ReservedOwner)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询分类列表失败")
	}
	defer rows.Close()

	list := make([]*Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历分类失败")
	}
	return list, nil
}

// GetCategory 实现 Store 接口。
func (s *SQLStore) GetCategory(ctx context.Context, id string) (*Category, error) {
	c, err := scanCategory(s.queryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	return c, nil
}

// FindCategoryByName 实现 Store 接口。
func (s *SQLStore) FindCategoryByName(ctx context.Context, userID, name string) (*Category, error) {
	c, err := scanCategory(s.queryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE user_id = ? AND name = ?`, userID, name))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	return c, nil
}

// InsertCategory 实现 Store 接口。
func (s *SQLStore) InsertCategory(ctx context.Context, c *Category) error {
	const stmt = `INSERT INTO categories
    (id, user_id, name, color, icon, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, stmt,
		c.ID,
		c.UserID,
		c.Name,
		c.Color,
		nullString(c.Icon),
		fromMillis(c.CreatedAt),
		fromMillis(c.UpdatedAt),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return ErrCategoryConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入分类失败")
	}
	return nil
}

// UpdateCategory 实现 Store 接口。
func (s *SQLStore) UpdateCategory(ctx context.Context, c *Category) error {
	res, err := s.exec(ctx, `UPDATE categories SET name = ?, color = ?, icon = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		c.Name, c.Color, nullString(c.Icon), fromMillis(c.UpdatedAt), c.ID, c.UserID)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return ErrCategoryConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新分类失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

// DeleteCategory 实现 Store 接口。
func (s *SQLStore) DeleteCategory(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM categories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除分类失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return affected > 0, nil
}

// WithTx 实现 Store 接口，嵌套调用复用外层事务。
func (s *SQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	txStore := &SQLStore{db: s.db, q: tx, dialect: s.dialect, inTx: true}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Ping 实现 Store 接口。
func (s *SQLStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return xerrors.New(xerrors.CodeUnavailable, "数据库未初始化")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeUnavailable, err, "数据库不可用")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil || s.inTx {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (*Todo, error) {
	var (
		t         Todo
		category  sql.NullString
		tags      sql.NullString
		priority  sql.NullString
		due       sql.NullTime
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Text, &t.Completed, &category, &tags, &priority, &due, &createdAt, &updatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析待办记录失败")
	}
	t.Category = category.String
	t.Priority = Priority(priority.String)
	if due.Valid {
		ms := due.Time.UnixMilli()
		t.DueDate = &ms
	}
	t.CreatedAt = createdAt.UnixMilli()
	t.UpdatedAt = updatedAt.UnixMilli()
	decoded, err := decodeTags(tags)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析待办标签失败")
	}
	t.Tags = decoded
	return &t, nil
}

func scanCategory(row rowScanner) (*Category, error) {
	var (
		c         Category
		icon      sql.NullString
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Color, &icon, &createdAt, &updatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析分类记录失败")
	}
	c.Icon = icon.String
	c.CreatedAt = createdAt.UnixMilli()
	c.UpdatedAt = updatedAt.UnixMilli()
	return &c, nil
}

func buildTodoFilter(userID string, opts ListOptions) (string, []any) {
	conditions := []string{"user_id = ?"}
	args := []any{userID}

	switch opts.Status {
	case StatusActive:
		conditions = append(conditions, "completed = ?")
		args = append(args, false)
	case StatusCompleted:
		conditions = append(conditions, "completed = ?")
		args = append(args, true)
	}
	if opts.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(opts.Priority))
	}
	for _, tag := range opts.Tags {
		encoded, _ := json.Marshal(tag)
		conditions = append(conditions, "tags LIKE ? ESCAPE '!'")
		args = append(args, "%"+escapeLike(string(encoded))+"%")
	}
	if opts.DueFrom > 0 {
		conditions = append(conditions, "due_date >= ?")
		args = append(args, fromMillis(opts.DueFrom))
	}
	if opts.DueTo > 0 {
		conditions = append(conditions, "due_date <= ?")
		args = append(args, fromMillis(opts.DueTo))
	}
	if opts.Query != "" {
		pattern := "%" + escapeLike(opts.Query) + "%"
		conditions = append(conditions, "(LOWER(text) LIKE ? ESCAPE '!' OR LOWER(COALESCE(category, '')) LIKE ? ESCAPE '!' OR COALESCE(tags, '') LIKE ? ESCAPE '!')")
		args = append(args, pattern, pattern, pattern)
	}
	return strings.Join(conditions, " AND "), args
}

func todoOrderBy(order SortOrder) string {
	switch order {
	case SortCreatedAsc:
		return " ORDER BY created_at ASC, id ASC"
	case SortDueAsc:
		return " ORDER BY CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date ASC, created_at DESC, id DESC"
	default:
		return " ORDER BY created_at DESC, id DESC"
	}
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func encodeTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeTags(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullMillis(ms *int64) sql.NullTime {
	if ms == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: fromMillis(*ms), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

var _ Store = (*SQLStore)(nil)
