package todo

import (
	"net/http"

	xerrors "SmartTodo/internal/errors"
)

// ReservedOwner 标记系统预置分类的所有者，任何用户都不能使用该 ID。
const ReservedOwner = "default"

// FallbackCategory 是分类被删除后待办自动归入的分类名。
const FallbackCategory = "general"

// Priority 表示待办的优先级。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid 判断优先级是否为合法枚举值。
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Todo 描述单条待办事项，时间字段为毫秒时间戳。
type Todo struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Completed bool     `json:"completed"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
	UserID    string   `json:"userId"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Priority  Priority `json:"priority,omitempty"`
	DueDate   *int64   `json:"due_date,omitempty"`
}

// Clone 返回深拷贝。
func (t *Todo) Clone() *Todo {
	if t == nil {
		return nil
	}
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.DueDate != nil {
		due := *t.DueDate
		c.DueDate = &due
	}
	return &c
}

// Category 描述用户自定义或系统预置的分类。
type Category struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Icon      string `json:"icon,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Clone 返回副本。
func (c *Category) Clone() *Category {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Predefined 判断分类是否为系统预置。
func (c *Category) Predefined() bool {
	return c != nil && c.UserID == ReservedOwner
}

// Stats 汇总某个用户的待办数量。
type Stats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
	DueToday  int `json:"dueToday"`
}

const (
	CodeValidationFailed   xerrors.Code = "VALIDATION_FAILED"
	CodeTodoNotFound       xerrors.Code = "TODO_NOT_FOUND"
	CodeCategoryNotFound   xerrors.Code = "CATEGORY_NOT_FOUND"
	CodeCategoryConflict   xerrors.Code = "CATEGORY_CONFLICT"
	CodeCategoryPredefined xerrors.Code = "CATEGORY_PREDEFINED"
	CodeCategoryForbidden  xerrors.Code = "CATEGORY_FORBIDDEN"
)

var (
	// ErrTodoNotFound 表示待办不存在或不属于当前用户。
	ErrTodoNotFound = xerrors.New(CodeTodoNotFound, "todo not found")
	// ErrCategoryNotFound 表示分类不存在。
	ErrCategoryNotFound = xerrors.New(CodeCategoryNotFound, "category not found")
	// ErrCategoryConflict 表示同名分类已存在。
	ErrCategoryConflict = xerrors.New(CodeCategoryConflict, "category already exists")
	// ErrCategoryPredefined 表示预置分类不可修改。
	ErrCategoryPredefined = xerrors.New(CodeCategoryPredefined, "predefined categories cannot be modified")
	// ErrCategoryForbidden 表示分类属于其他用户。
	ErrCategoryForbidden = xerrors.New(CodeCategoryForbidden, "category belongs to another user")
)

func init() {
	xerrors.Register(CodeValidationFailed, xerrors.Attributes{
		Message:    "validation failed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
	})
	xerrors.Register(CodeTodoNotFound, xerrors.Attributes{
		Message:    "todo not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeCategoryNotFound, xerrors.Attributes{
		Message:    "category not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeCategoryConflict, xerrors.Attributes{
		Message:    "category already exists",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeCategoryPredefined, xerrors.Attributes{
		Message:    "predefined categories cannot be modified",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusForbidden,
	})
	xerrors.Register(CodeCategoryForbidden, xerrors.Attributes{
		Message:    "category belongs to another user",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusForbidden,
	})
}

// validationError 构造带字段信息的校验错误。
func validationError(field, message string) error {
	return xerrors.New(CodeValidationFailed, message, xerrors.WithMetadata("field", field))
}

// IsNotFound 判断错误是否表示资源不存在。
func IsNotFound(err error) bool {
	switch xerrors.CodeOf(err) {
	case CodeTodoNotFound, CodeCategoryNotFound, xerrors.CodeNotFound:
		return true
	default:
		return false
	}
}
