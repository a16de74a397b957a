package todo

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 以内存方式保存待办与分类，主要用于测试和单机开发。
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryStore 创建 MemoryStore，并写入预置分类。
func NewMemoryStore() *MemoryStore {
	state := &memoryState{
		todos:      make(map[string]*Todo),
		categories: make(map[string]*Category),
	}
	for _, c := range PredefinedCategories() {
		state.categories[c.ID] = c
	}
	return &MemoryStore{state: state}
}

// ListTodos 实现 Store 接口。
func (m *MemoryStore) ListTodos(ctx context.Context, userID string, opts ListOptions) ([]*Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListTodos(ctx, userID, opts)
}

// GetTodo 实现 Store 接口。
func (m *MemoryStore) GetTodo(ctx context.Context, userID, id string) (*Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetTodo(ctx, userID, id)
}

// InsertTodo 实现 Store 接口。
func (m *MemoryStore) InsertTodo(ctx context.Context, todo *Todo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertTodo(ctx, todo)
}

// UpdateTodo 实现 Store 接口。
func (m *MemoryStore) UpdateTodo(ctx context.Context, userID, id string, patch TodoPatch, updatedAt int64) (*Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateTodo(ctx, userID, id, patch, updatedAt)
}

// DeleteTodo 实现 Store 接口。
func (m *MemoryStore) DeleteTodo(ctx context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteTodo(ctx, userID, id)
}

// DeleteCompletedTodos 实现 Store 接口。
func (m *MemoryStore) DeleteCompletedTodos(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteCompletedTodos(ctx, userID)
}

// RecategorizeTodos 实现 Store 接口。
func (m *MemoryStore) RecategorizeTodos(ctx context.Context, userID, from, to string, updatedAt int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.RecategorizeTodos(ctx, userID, from, to, updatedAt)
}

// TodoStats 实现 Store 接口。
func (m *MemoryStore) TodoStats(ctx context.Context, userID string, dayStart, dayEnd int64) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.TodoStats(ctx, userID, dayStart, dayEnd)
}

// ListCategories 实现 Store 接口。
func (m *MemoryStore) ListCategories(ctx context.Context, userID string) ([]*Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListCategories(ctx, userID)
}

// GetCategory 实现 Store 接口。
func (m *MemoryStore) GetCategory(ctx context.Context, id string) (*Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetCategory(ctx, id)
}

// FindCategoryByName 实现 Store 接口。
func (m *MemoryStore) FindCategoryByName(ctx context.Context, userID, name string) (*Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FindCategoryByName(ctx, userID, name)
}

// InsertCategory 实现 Store 接口。
func (m *MemoryStore) InsertCategory(ctx context.Context, category *Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertCategory(ctx, category)
}

// UpdateCategory 实现 Store 接口。
func (m *MemoryStore) UpdateCategory(ctx context.Context, category *Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateCategory(ctx, category)
}

// DeleteCategory 实现 Store 接口。
func (m *MemoryStore) DeleteCategory(ctx context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteCategory(ctx, userID, id)
}

// WithTx 持有写锁执行 fn，失败时恢复到执行前的快照。
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(ctx, &memoryTx{memoryState: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Ping 实现 Store 接口。
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

// memoryTx 在 MemoryStore.WithTx 持锁期间直接操作底层状态。
type memoryTx struct {
	*memoryState
}

func (t *memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

func (t *memoryTx) Ping(context.Context) error { return nil }

func (t *memoryTx) Close() error { return nil }

// memoryState 保存实际数据，不做任何加锁。
type memoryState struct {
	todos      map[string]*Todo
	categories map[string]*Category
}

func (s *memoryState) clone() *memoryState {
	cp := &memoryState{
		todos:      make(map[string]*Todo, len(s.todos)),
		categories: make(map[string]*Category, len(s.categories)),
	}
	for id, t := range s.todos {
		cp.todos[id] = t.Clone()
	}
	for id, c := range s.categories {
		cp.categories[id] = c.Clone()
	}
	return cp
}

func (s *memoryState) ListTodos(_ context.Context, userID string, opts ListOptions) ([]*Todo, error) {
	opts.applyDefaults()
	matched := make([]*Todo, 0)
	for _, t := range s.todos {
		if t.UserID == userID && opts.matches(t) {
			matched = append(matched, t)
		}
	}
	sortTodos(matched, opts.Order)

	if opts.Offset >= len(matched) {
		return []*Todo{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*Todo, 0, end-opts.Offset)
	for _, t := range matched[opts.Offset:end] {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *memoryState) GetTodo(_ context.Context, userID, id string) (*Todo, error) {
	t, ok := s.todos[id]
	if !ok || t.UserID != userID {
		return nil, ErrTodoNotFound
	}
	return t.Clone(), nil
}

func (s *memoryState) InsertTodo(_ context.Context, todo *Todo) error {
	if todo == nil || todo.ID == "" {
		return validationError("id", "todo id is required")
	}
	if _, ok := s.todos[todo.ID]; ok {
		return validationError("id", "todo id already exists")
	}
	s.todos[todo.ID] = todo.Clone()
	return nil
}

func (s *memoryState) UpdateTodo(_ context.Context, userID, id string, patch TodoPatch, updatedAt int64) (*Todo, error) {
	t, ok := s.todos[id]
	if !ok || t.UserID != userID {
		return nil, ErrTodoNotFound
	}
	patch.Apply(t)
	t.UpdatedAt = updatedAt
	return t.Clone(), nil
}

func (s *memoryState) DeleteTodo(_ context.Context, userID, id string) (bool, error) {
	t, ok := s.todos[id]
	if !ok || t.UserID != userID {
		return false, nil
	}
	delete(s.todos, id)
	return true, nil
}

func (s *memoryState) DeleteCompletedTodos(_ context.Context, userID string) ([]string, error) {
	ids := make([]string, 0)
	for id, t := range s.todos {
		if t.UserID == userID && t.Completed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		delete(s.todos, id)
	}
	return ids, nil
}

func (s *memoryState) RecategorizeTodos(_ context.Context, userID, from, to string, updatedAt int64) (int64, error) {
	var n int64
	for _, t := range s.todos {
		if t.UserID == userID && t.Category == from {
			t.Category = to
			t.UpdatedAt = updatedAt
			n++
		}
	}
	return n, nil
}

func (s *memoryState) TodoStats(_ context.Context, userID string, dayStart, dayEnd int64) (Stats, error) {
	var stats Stats
	for _, t := range s.todos {
		if t.UserID != userID {
			continue
		}
		stats.Total++
		if t.Completed {
			stats.Completed++
			continue
		}
		stats.Active++
		if t.DueDate == nil {
			continue
		}
		switch due := *t.DueDate; {
		case due < dayStart:
			stats.Overdue++
		case due < dayEnd:
			stats.DueToday++
		}
	}
	return stats, nil
}

func (s *memoryState) ListCategories(_ context.Context, userID string) ([]*Category, error) {
	out := make([]*Category, 0)
	for _, c := range s.categories {
		if c.UserID == userID || c.UserID == ReservedOwner {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

func (s *memoryState) GetCategory(_ context.Context, id string) (*Category, error) {
	c, ok := s.categories[id]
	if !ok {
		return nil, ErrCategoryNotFound
	}
	return c.Clone(), nil
}

func (s *memoryState) FindCategoryByName(_ context.Context, userID, name string) (*Category, error) {
	for _, c := range s.categories {
		if c.UserID == userID && c.Name == name {
			return c.Clone(), nil
		}
	}
	return nil, ErrCategoryNotFound
}

func (s *memoryState) InsertCategory(_ context.Context, category *Category) error {
	if category == nil || category.ID == "" {
		return validationError("id", "category id is required")
	}
	if _, ok := s.categories[category.ID]; ok {
		return ErrCategoryConflict
	}
	for _, c := range s.categories {
		if c.UserID == category.UserID && c.Name == category.Name {
			return ErrCategoryConflict
		}
	}
	s.categories[category.ID] = category.Clone()
	return nil
}

func (s *memoryState) UpdateCategory(_ context.Context, category *Category) error {
	current, ok := s.categories[category.ID]
	if !ok || current.UserID != category.UserID {
		return ErrCategoryNotFound
	}
	for _, c := range s.categories {
		if c.ID != category.ID && c.UserID == category.UserID && c.Name == category.Name {
			return ErrCategoryConflict
		}
	}
	s.categories[category.ID] = category.Clone()
	return nil
}

func (s *memoryState) DeleteCategory(_ context.Context, userID, id string) (bool, error) {
	c, ok := s.categories[id]
	if !ok || c.UserID != userID {
		return false, nil
	}
	delete(s.categories, id)
	return true, nil
}

func sortTodos(list []*Todo, order SortOrder) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch order {
		case SortCreatedAsc:
			if a.CreatedAt != b.CreatedAt {
				return a.CreatedAt < b.CreatedAt
			}
			return a.ID < b.ID
		case SortDueAsc:
			if (a.DueDate == nil) != (b.DueDate == nil) {
				return a.DueDate != nil
			}
			if a.DueDate != nil && *a.DueDate != *b.DueDate {
				return *a.DueDate < *b.DueDate
			}
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*memoryTx)(nil)
)
