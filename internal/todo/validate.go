package todo

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxTextLength         = 500
	MaxCategoryNameLength = 50
	MaxIconLength         = 64
	MaxTags               = 20
	MaxTagLength          = 32
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// TodoInput 是创建待办的请求体。
type TodoInput struct {
	Text      string   `json:"text"`
	Completed bool     `json:"completed,omitempty"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Priority  Priority `json:"priority,omitempty"`
	DueDate   *Millis  `json:"due_date,omitempty"`
}

func (in TodoInput) normalize() (TodoInput, error) {
	text, err := normalizeText(in.Text)
	if err != nil {
		return in, err
	}
	in.Text = text
	in.Category = strings.TrimSpace(in.Category)
	if utf8.RuneCountInString(in.Category) > MaxCategoryNameLength {
		return in, validationError("category", fmt.Sprintf("category must be at most %d characters", MaxCategoryNameLength))
	}
	tags, err := NormalizeTags(in.Tags)
	if err != nil {
		return in, err
	}
	in.Tags = tags
	if in.Priority != "" && !in.Priority.Valid() {
		return in, validationError("priority", "priority must be one of high, medium, low")
	}
	return in, nil
}

// TodoPatch 是更新待办的请求体，未出现的字段保持不变。
type TodoPatch struct {
	Text      Optional[string]   `json:"text,omitzero"`
	Completed Optional[bool]     `json:"completed,omitzero"`
	Category  Optional[string]   `json:"category,omitzero"`
	Tags      Optional[[]string] `json:"tags,omitzero"`
	Priority  Optional[Priority] `json:"priority,omitzero"`
	DueDate   Optional[Millis]   `json:"due_date,omitzero"`
}

// Empty 判断补丁是否没有任何字段。
func (p TodoPatch) Empty() bool {
	return !p.Text.Set && !p.Completed.Set && !p.Category.Set && !p.Tags.Set && !p.Priority.Set && !p.DueDate.Set
}

func (p TodoPatch) normalize() (TodoPatch, error) {
	if p.Empty() {
		return p, validationError("body", "at least one field must be provided")
	}
	if p.Text.Set {
		if p.Text.Null {
			return p, validationError("text", "text cannot be null")
		}
		text, err := normalizeText(p.Text.Value)
		if err != nil {
			return p, err
		}
		p.Text.Value = text
	}
	if p.Completed.Set && p.Completed.Null {
		return p, validationError("completed", "completed must be a boolean")
	}
	if p.Category.Set && !p.Category.Null {
		name := strings.TrimSpace(p.Category.Value)
		if utf8.RuneCountInString(name) > MaxCategoryNameLength {
			return p, validationError("category", fmt.Sprintf("category must be at most %d characters", MaxCategoryNameLength))
		}
		if name == "" {
			p.Category = Null[string]()
		} else {
			p.Category.Value = name
		}
	}
	if p.Tags.Set && !p.Tags.Null {
		tags, err := NormalizeTags(p.Tags.Value)
		if err != nil {
			return p, err
		}
		p.Tags.Value = tags
	}
	if p.Priority.Set && !p.Priority.Null && !p.Priority.Value.Valid() {
		return p, validationError("priority", "priority must be one of high, medium, low")
	}
	return p, nil
}

// Apply 将补丁应用到待办副本上。
func (p TodoPatch) Apply(t *Todo) {
	if p.Text.Set {
		t.Text = p.Text.Value
	}
	if p.Completed.Set {
		t.Completed = p.Completed.Value
	}
	if p.Category.Set {
		t.Category = p.Category.Value
	}
	if p.Tags.Set {
		if p.Tags.Null || len(p.Tags.Value) == 0 {
			t.Tags = nil
		} else {
			t.Tags = append([]string(nil), p.Tags.Value...)
		}
	}
	if p.Priority.Set {
		t.Priority = p.Priority.Value
	}
	if p.DueDate.Set {
		if p.DueDate.Null {
			t.DueDate = nil
		} else {
			t.DueDate = p.DueDate.Value.Ptr()
		}
	}
}

// CategoryInput 是创建分类的请求体。
type CategoryInput struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon,omitempty"`
}

func (in CategoryInput) normalize() (CategoryInput, error) {
	name, err := normalizeCategoryName(in.Name)
	if err != nil {
		return in, err
	}
	in.Name = name
	color, err := normalizeColor(in.Color)
	if err != nil {
		return in, err
	}
	in.Color = color
	in.Icon, err = normalizeIcon(in.Icon)
	return in, err
}

// CategoryPatch 是更新分类的请求体。
type CategoryPatch struct {
	Name  Optional[string] `json:"name,omitzero"`
	Color Optional[string] `json:"color,omitzero"`
	Icon  Optional[string] `json:"icon,omitzero"`
}

// Empty 判断补丁是否没有任何字段。
func (p CategoryPatch) Empty() bool {
	return !p.Name.Set && !p.Color.Set && !p.Icon.Set
}

func (p CategoryPatch) normalize() (CategoryPatch, error) {
	if p.Empty() {
		return p, validationError("body", "at least one field must be provided")
	}
	if p.Name.Set {
		if p.Name.Null {
			return p, validationError("name", "name cannot be null")
		}
		name, err := normalizeCategoryName(p.Name.Value)
		if err != nil {
			return p, err
		}
		p.Name.Value = name
	}
	if p.Color.Set {
		if p.Color.Null {
			return p, validationError("color", "color cannot be null")
		}
		color, err := normalizeColor(p.Color.Value)
		if err != nil {
			return p, err
		}
		p.Color.Value = color
	}
	if p.Icon.Set && !p.Icon.Null {
		icon, err := normalizeIcon(p.Icon.Value)
		if err != nil {
			return p, err
		}
		p.Icon.Value = icon
	}
	return p, nil
}

// Apply 将补丁应用到分类副本上。
func (p CategoryPatch) Apply(c *Category) {
	if p.Name.Set {
		c.Name = p.Name.Value
	}
	if p.Color.Set {
		c.Color = p.Color.Value
	}
	if p.Icon.Set {
		c.Icon = p.Icon.Value
	}
}

func normalizeText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", validationError("text", "text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", validationError("text", fmt.Sprintf("text must be at most %d characters", MaxTextLength))
	}
	return text, nil
}

func normalizeCategoryName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", validationError("name", "name is required")
	}
	if utf8.RuneCountInString(name) > MaxCategoryNameLength {
		return "", validationError("name", fmt.Sprintf("name must be at most %d characters", MaxCategoryNameLength))
	}
	return name, nil
}

func normalizeColor(raw string) (string, error) {
	color := strings.TrimSpace(raw)
	if color == "" {
		return "", validationError("color", "color is required")
	}
	if !colorPattern.MatchString(color) {
		return "", validationError("color", "color must be a hex value like #3B82F6")
	}
	return strings.ToUpper(color), nil
}

func normalizeIcon(raw string) (string, error) {
	icon := strings.TrimSpace(raw)
	if utf8.RuneCountInString(icon) > MaxIconLength {
		return "", validationError("icon", fmt.Sprintf("icon must be at most %d characters", MaxIconLength))
	}
	return icon, nil
}

// NormalizeTags 去除空白、转小写并去重，保持原有顺序。
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, validationError("tags", fmt.Sprintf("tags must be at most %d characters", MaxTagLength))
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, validationError("tags", fmt.Sprintf("at most %d tags are allowed", MaxTags))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
