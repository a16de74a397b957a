package todo

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	xerrors "SmartTodo/internal/errors"
	"SmartTodo/internal/events"
	"SmartTodo/internal/observability/metrics"
	"SmartTodo/pkg/logger"
)

// Service 负责待办与分类的业务规则：校验、归属检查以及变更事件。
type Service struct {
	store     Store
	publisher events.Publisher
	clock     clock.Clock
	location  *time.Location
	log       *slog.Logger
}

// Option 调整 Service 的可选依赖。
type Option func(*Service)

// WithClock 替换时间来源。
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocation 指定计算“今天”所用的时区。
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger 替换服务日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService 构造待办服务，publisher 为空时不发布事件。
func NewService(store Store, publisher events.Publisher, opts ...Option) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	s := &Service{
		store:     store,
		publisher: publisher,
		clock:     clock.WallClock,
		location:  time.Local,
		log:       logger.Named("todo"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Store 返回底层存储。
func (s *Service) Store() Store { return s.store }

func (s *Service) ready(userID string) error {
	if s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "待办存储未初始化")
	}
	id := strings.TrimSpace(userID)
	if id == "" || id == ReservedOwner {
		return xerrors.New(xerrors.CodeUnauthenticated, "unauthorized")
	}
	return nil
}

func (s *Service) now() int64 {
	return s.clock.Now().UnixMilli()
}

// ListTodos 返回用户的待办列表。
func (s *Service) ListTodos(ctx context.Context, userID string, opts ...ListOption) ([]*Todo, error) {
	if err := s.ready(userID); err != nil {
		return nil, err
	}
	options, err := ParseListOptions(opts...)
	if err != nil {
		return nil, err
	}
	return s.store.ListTodos(ctx, userID, options)
}

// GetTodo 返回单条待办，不存在或不属于该用户时返回 ErrTodoNotFound。
func (s *Service) GetTodo(ctx context.Context, userID, id string) (*Todo, error) {
	if err := s.ready(userID); err != nil {
		return nil, err
	}
	return s.store.GetTodo(ctx, userID, strings.TrimSpace(id))
}

// CreateTodo 校验输入并创建待办。
func (s *Service) CreateTodo(ctx context.Context, userID string, input TodoInput) (*Todo, error) {
	if err := s.ready(userID); err != nil {
		return nil, err
	}
	in, err := input.normalize()
	if err != nil {
		return nil, err
	}
	now := s.now()
	todo := &Todo{
		ID:        uuid.NewString(),
		Text:      in.Text,
		Completed: in.Completed,
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    userID,
		Category:  in.Category,
		Tags:      in.Tags,
		Priority:  in.Priority,
	}
	if in.DueDate != nil {
		todo.DueDate = in.DueDate.Ptr()
	}
	if err := s.store.InsertTodo(ctx, todo); err != nil {
		return nil, err
	}
	s.log.Debug("创建待办", slog.String("todo_id", todo.ID), slog.String("user_id", userID))
	s.publish(ctx, events.TodoCreated, userID, todo.ID, todo)
	return todo, nil
}

// UpdateTodo 应用补丁，只能修改自己的待办。
func (s *Service) UpdateTodo(ctx context.Context, userID, id string, patch TodoPatch) (*Todo, error) {
	if err := s.ready(userID); err != nil {
		return nil, err
	}
	normalized, err := patch.normalize()
	if err != nil {
		return nil, err
	}
	todo, err := s.store.UpdateTodo(ctx, userID, strings.TrimSpace(id), normalized, s.now())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TodoUpdated, userID, todo.ID, todo)
	return todo, nil
}

// DeleteTodo 删除待办；待办不存在或属于其他用户时静默成功。
func (s *Service) DeleteTodo(ctx context.Context, userID, id string) error {
	if err := s.ready(userID); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	deleted, err := s.store.DeleteTodo(ctx, userID, id)
	if err != nil {
		return err
	}
	if deleted {
		s.publish(ctx, events.TodoDeleted, userID, id, events.DeletedPayload{ID: id})
	}
	return nil
}

// ClearCompleted 删除用户全部已完成待办并返回删除数量。
func (s *Service) ClearCompleted(ctx context.Context, userID string) (int, error) {
	if err := s.ready(userID); err != nil {
		return 0, err
	}
	ids, err := s.store.DeleteCompletedTodos(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		logger.Audit().Info("清除已完成待办", slog.String("user_id", userID), slog.Int("deleted", len(ids)))
		s.publish(ctx, events.TodosCleared, userID, "", events.ClearedPayload{IDs: ids, Deleted: len(ids)})
	}
	return len(ids), nil
}

// Stats 返回用户的待办统计，“今天”按服务时区计算。
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := s.ready(userID); err != nil {
		return Stats{}, err
	}
	now := s.clock.Now().In(s.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	end := start.AddDate(0, 0, 1)
	return s.store.TodoStats(ctx, userID, start.UnixMilli(), end.UnixMilli())
}

// ListCategories 返回用户自己的分类与预置分类。
func (s *Service) ListCategories(ctx context.Context, userID string) ([]*Category, error) {
	if err := s.ready(userID); err != nil {
		return nil, err
	}
	return s.store.ListCategories(ctx, userID)
}

// CreateCategory 创建分类，同一用户下名称不可重复。
func (s *Service) CreateCategory(ctx context.Context, userID string, input CategoryInput) (*Category, error) {
	if err := s.ready(userID); err != nil {
		return nil, err
	}
	in, err := input.normalize()
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindCategoryByName(ctx, userID, in.Name); err == nil {
		return nil, ErrCategoryConflict
	} else if !IsNotFound(err) {
		return nil, err
	}
	now := s.now()
	category := &Category{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      in.Name,
		Color:     in.Color,
		Icon:      in.Icon,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertCategory(ctx, category); err != nil {
		return nil, err
	}
	logger.Audit().Info("创建分类",
		slog.String("user_id", userID),
		slog.String("category_id", category.ID),
		slog.String("name", category.Name),
	)
	s.publish(ctx, events.CategoryCreated, userID, category.ID, category)
	return category, nil
}

// ownedCategory 读取分类并检查是否可由该用户修改。
func (s *Service) ownedCategory(ctx context.Context, userID, id string) (*Category, error) {
	category, err := s.store.GetCategory(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if category.Predefined() {
		return nil, ErrCategoryPredefined
	}
	if category.UserID != userID {
		logger.Audit().Warn("尝试修改他人分类",
			slog.String("user_id", userID),
			slog.String("category_id", category.ID),
		)
		return nil, ErrCategoryForbidden
	}
	return category, nil
}

// UpdateCategory 更新分类；改名时同步修改该用户待办上的分类名。
func (s *Service) UpdateCategory(ctx context.Context, userID, id string, patch CategoryPatch) (*Category, error) {
	if err := s.ready(userID); err != nil {
		return nil, err
	}
	normalized, err := patch.normalize()
	if err != nil {
		return nil, err
	}
	current, err := s.ownedCategory(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	renamed := normalized.Name.Set && normalized.Name.Value != current.Name
	if renamed {
		existing, err := s.store.FindCategoryByName(ctx, userID, normalized.Name.Value)
		if err == nil && existing.ID != current.ID {
			return nil, ErrCategoryConflict
		}
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
	}

	updated := current.Clone()
	normalized.Apply(updated)
	updated.UpdatedAt = s.now()

	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.UpdateCategory(ctx, updated); err != nil {
			return err
		}
		if renamed {
			if _, err := tx.RecategorizeTodos(ctx, userID, current.Name, updated.Name, updated.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.CategoryUpdated, userID, updated.ID, updated)
	return updated, nil
}

// DeleteCategory 删除分类，并把该分类下的待办归入 general。
func (s *Service) DeleteCategory(ctx context.Context, userID, id string) error {
	if err := s.ready(userID); err != nil {
		return err
	}
	current, err := s.ownedCategory(ctx, userID, id)
	if err != nil {
		return err
	}
	now := s.now()
	var moved int64
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		n, err := tx.RecategorizeTodos(ctx, userID, current.Name, FallbackCategory, now)
		if err != nil {
			return err
		}
		moved = n
		deleted, err := tx.DeleteCategory(ctx, userID, current.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrCategoryNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Audit().Info("删除分类",
		slog.String("user_id", userID),
		slog.String("category_id", current.ID),
		slog.String("name", current.Name),
		slog.Int64("todos_moved", moved),
	)
	s.publish(ctx, events.CategoryDeleted, userID, current.ID, events.DeletedPayload{ID: current.ID})
	return nil
}

// Ping 检查存储是否可用。
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "待办存储未初始化")
	}
	return s.store.Ping(ctx)
}

// publish 尽力发布事件，失败只记录日志。
func (s *Service) publish(ctx context.Context, typ events.Type, userID, resourceID string, payload any) {
	evt, err := events.New(typ, userID, resourceID, payload, s.clock.Now())
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	metrics.ObserveEventPublish(string(typ), err)
	if err != nil {
		s.log.Warn("发布变更事件失败",
			slog.String("type", string(typ)),
			slog.String("user_id", userID),
			slog.String("resource_id", resourceID),
			slog.Any("error", err),
		)
	}
}
