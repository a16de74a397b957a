package todo

import (
	"strings"

	xerrors "SmartTodo/internal/errors"
)

// StatusFilter 按完成状态筛选待办。
type StatusFilter string

const (
	StatusAll       StatusFilter = "all"
	StatusActive    StatusFilter = "active"
	StatusCompleted StatusFilter = "completed"
)

// ParseStatusFilter 解析查询参数，非法值返回 false。
func ParseStatusFilter(raw string) (StatusFilter, bool) {
	switch StatusFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StatusAll:
		return StatusAll, true
	case StatusActive:
		return StatusActive, true
	case StatusCompleted:
		return StatusCompleted, true
	default:
		return StatusAll, false
	}
}

// Matches 判断待办是否满足状态过滤。
func (f StatusFilter) Matches(t *Todo) bool {
	switch f {
	case StatusActive:
		return !t.Completed
	case StatusCompleted:
		return t.Completed
	default:
		return true
	}
}

// SortOrder 定义列表排序方式。
type SortOrder string

const (
	// SortCreatedDesc 按创建时间倒序，默认值。
	SortCreatedDesc SortOrder = "created_desc"
	// SortCreatedAsc 按创建时间正序。
	SortCreatedAsc SortOrder = "created_asc"
	// SortDueAsc 按截止时间正序，无截止时间的排在最后。
	SortDueAsc SortOrder = "due_asc"
)

// ParseSortOrder 解析排序参数。
func ParseSortOrder(raw string) (SortOrder, bool) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SortCreatedDesc:
		return SortCreatedDesc, true
	case SortCreatedAsc:
		return SortCreatedAsc, true
	case SortDueAsc:
		return SortDueAsc, true
	default:
		return SortCreatedDesc, false
	}
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// ListOptions 控制查询待办时的过滤与分页。
type ListOptions struct {
	Status   StatusFilter
	Category string
	Priority Priority
	Tags     []string
	DueFrom  int64
	DueTo    int64
	Query    string
	Limit    int
	Offset   int
	Order    SortOrder
}

// applyDefaults 清理参数并补齐默认值。
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	switch opts.Status {
	case StatusActive, StatusCompleted:
	default:
		opts.Status = StatusAll
	}
	switch opts.Order {
	case SortCreatedAsc, SortDueAsc:
	default:
		opts.Order = SortCreatedDesc
	}
	if !opts.Priority.Valid() {
		opts.Priority = ""
	}
	opts.Category = strings.TrimSpace(opts.Category)
	opts.Query = strings.ToLower(strings.TrimSpace(opts.Query))
	// 非法标签保留原值，过滤只会更严格而不会被忽略。
	if tags, err := NormalizeTags(opts.Tags); err == nil {
		opts.Tags = tags
	}
}

// NormalizeTagFilter 规范化标签过滤条件，非法标签以 tag 字段报错。
func NormalizeTagFilter(tags []string) ([]string, error) {
	out, err := NormalizeTags(tags)
	if err != nil {
		msg := "invalid tag filter"
		if e, ok := xerrors.From(err); ok {
			msg = e.Message()
		}
		return nil, validationError("tag", msg)
	}
	return out, nil
}

// matches 在内存中判断待办是否满足过滤条件，分页与排序除外。
func (opts ListOptions) matches(t *Todo) bool {
	if !opts.Status.Matches(t) {
		return false
	}
	if opts.Category != "" && t.Category != opts.Category {
		return false
	}
	if opts.Priority != "" && t.Priority != opts.Priority {
		return false
	}
	for _, want := range opts.Tags {
		if !containsString(t.Tags, want) {
			return false
		}
	}
	if opts.DueFrom > 0 && (t.DueDate == nil || *t.DueDate < opts.DueFrom) {
		return false
	}
	if opts.DueTo > 0 && (t.DueDate == nil || *t.DueDate > opts.DueTo) {
		return false
	}
	if opts.Query != "" {
		hay := strings.ToLower(t.Text + "\n" + t.Category + "\n" + strings.Join(t.Tags, "\n"))
		if !strings.Contains(hay, opts.Query) {
			return false
		}
	}
	return true
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithStatus 按完成状态过滤。
func WithStatus(status StatusFilter) ListOption {
	return func(opts *ListOptions) {
		opts.Status = status
	}
}

// WithCategory 按分类名过滤。
func WithCategory(name string) ListOption {
	return func(opts *ListOptions) {
		opts.Category = name
	}
}

// WithPriority 按优先级过滤。
func WithPriority(p Priority) ListOption {
	return func(opts *ListOptions) {
		opts.Priority = p
	}
}

// WithTags 要求待办同时包含全部标签。
func WithTags(tags ...string) ListOption {
	return func(opts *ListOptions) {
		opts.Tags = append(opts.Tags, tags...)
	}
}

// WithDueRange 按截止时间闭区间过滤，0 表示不限。
func WithDueRange(from, to int64) ListOption {
	return func(opts *ListOptions) {
		opts.DueFrom = from
		opts.DueTo = to
	}
}

// WithQuery 在正文、标签和分类中模糊匹配。
func WithQuery(q string) ListOption {
	return func(opts *ListOptions) {
		opts.Query = q
	}
}

// WithLimit 限制返回条数。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset 跳过前 n 条。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithSortOrder 修改排序方式。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// BuildListOptions 在默认值之上应用选项。
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

// ParseListOptions 与 BuildListOptions 相同，但会校验过滤条件。
func ParseListOptions(opts ...ListOption) (ListOptions, error) {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	tags, err := NormalizeTagFilter(options.Tags)
	if err != nil {
		return ListOptions{}, err
	}
	options.Tags = tags
	options.applyDefaults()
	return options, nil
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
