package todo

import "context"

// Store 抽象待办与分类的持久化接口，所有待办操作都以 userID 限定范围。
type Store interface {
	ListTodos(ctx context.Context, userID string, opts ListOptions) ([]*Todo, error)
	GetTodo(ctx context.Context, userID, id string) (*Todo, error)
	InsertTodo(ctx context.Context, todo *Todo) error
	// UpdateTodo 应用已校验的补丁并返回最新记录，不存在时返回 ErrTodoNotFound。
	UpdateTodo(ctx context.Context, userID, id string, patch TodoPatch, updatedAt int64) (*Todo, error)
	DeleteTodo(ctx context.Context, userID, id string) (bool, error)
	// DeleteCompletedTodos 删除全部已完成待办并返回被删除的 ID。
	DeleteCompletedTodos(ctx context.Context, userID string) ([]string, error)
	// RecategorizeTodos 将 from 分类下的待办改到 to 分类。
	RecategorizeTodos(ctx context.Context, userID, from, to string, updatedAt int64) (int64, error)
	// TodoStats 统计待办，[dayStart, dayEnd) 为当天的毫秒区间。
	TodoStats(ctx context.Context, userID string, dayStart, dayEnd int64) (Stats, error)

	// ListCategories 返回用户自己的分类和预置分类，按创建时间正序。
	ListCategories(ctx context.Context, userID string) ([]*Category, error)
	GetCategory(ctx context.Context, id string) (*Category, error)
	FindCategoryByName(ctx context.Context, userID, name string) (*Category, error)
	InsertCategory(ctx context.Context, category *Category) error
	UpdateCategory(ctx context.Context, category *Category) error
	DeleteCategory(ctx context.Context, userID, id string) (bool, error)

	// WithTx 在单个事务中执行 fn，fn 返回错误时回滚。
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Ping(ctx context.Context) error
	Close() error
}
