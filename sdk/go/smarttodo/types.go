package smarttodo

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Todo mirrors the server representation of a to-do item. Timestamps are
// milliseconds since the Unix epoch.
type Todo struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Completed bool     `json:"completed"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
	UserID    string   `json:"userId,omitempty"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Priority  string   `json:"priority,omitempty"`
	DueDate   *int64   `json:"due_date,omitempty"`
}

func (t Todo) clone() Todo {
	if t.Tags != nil {
		t.Tags = append([]string(nil), t.Tags...)
	}
	if t.DueDate != nil {
		due := *t.DueDate
		t.DueDate = &due
	}
	return t
}

// Category is a user defined or predefined grouping for todos.
type Category struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Icon      string `json:"icon,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Predefined reports whether the category is shared by every user.
func (c Category) Predefined() bool { return c.UserID == "default" }

// Stats is the server side summary returned by GET /api/v1/todos/stats.
type Stats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
	DueToday  int `json:"dueToday"`
}

// NewTodo is the payload used to create a todo.
type NewTodo struct {
	Text      string   `json:"text"`
	Completed bool     `json:"completed,omitempty"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Priority  string   `json:"priority,omitempty"`
	DueDate   *int64   `json:"due_date,omitempty"`
}

// TodoUpdate describes a partial update. Nil fields are left untouched; the
// Clear* flags send an explicit null to remove a value.
type TodoUpdate struct {
	Text          *string
	Completed     *bool
	Category      *string
	Tags          []string
	ReplaceTags   bool
	Priority      *string
	ClearPriority bool
	DueDate       *int64
	ClearDueDate  bool
}

// MarshalJSON emits only the fields that were set.
func (u TodoUpdate) MarshalJSON() ([]byte, error) {
	body := map[string]any{}
	if u.Text != nil {
		body["text"] = *u.Text
	}
	if u.Completed != nil {
		body["completed"] = *u.Completed
	}
	if u.Category != nil {
		body["category"] = *u.Category
	}
	if u.ReplaceTags || u.Tags != nil {
		if u.Tags == nil {
			body["tags"] = []string{}
		} else {
			body["tags"] = u.Tags
		}
	}
	switch {
	case u.ClearPriority:
		body["priority"] = nil
	case u.Priority != nil:
		body["priority"] = *u.Priority
	}
	switch {
	case u.ClearDueDate:
		body["due_date"] = nil
	case u.DueDate != nil:
		body["due_date"] = *u.DueDate
	}
	return json.Marshal(body)
}

// NewCategory is the payload used to create a category.
type NewCategory struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon,omitempty"`
}

// CategoryUpdate describes a partial category update.
type CategoryUpdate struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

// Filter selects todos by completion state.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
)

// ListOptions maps to the query parameters of GET /api/v1/todos.
type ListOptions struct {
	Status   Filter
	Category string
	Priority string
	Tags     []string
	DueFrom  int64
	DueTo    int64
	Query    string
	Limit    int
	Offset   int
	Sort     string
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Status != "" {
		v.Set("status", string(o.Status))
	}
	if o.Category != "" {
		v.Set("category", o.Category)
	}
	if o.Priority != "" {
		v.Set("priority", o.Priority)
	}
	for _, tag := range o.Tags {
		v.Add("tag", tag)
	}
	if o.DueFrom != 0 {
		v.Set("due_from", strconv.FormatInt(o.DueFrom, 10))
	}
	if o.DueTo != 0 {
		v.Set("due_to", strconv.FormatInt(o.DueTo, 10))
	}
	if o.Query != "" {
		v.Set("q", o.Query)
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}
	if o.Sort != "" {
		v.Set("sort", o.Sort)
	}
	return v
}

// EventType identifies a change feed event.
type EventType string

const (
	EventTodoCreated     EventType = "todo.created"
	EventTodoUpdated     EventType = "todo.updated"
	EventTodoDeleted     EventType = "todo.deleted"
	EventTodosCleared    EventType = "todos.cleared"
	EventCategoryCreated EventType = "category.created"
	EventCategoryUpdated EventType = "category.updated"
	EventCategoryDeleted EventType = "category.deleted"
)

// Event is a single message of the change feed.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	UserID     string          `json:"userId"`
	ResourceID string          `json:"resourceId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt int64           `json:"occurredAt"`
}

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
	Field      string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("smarttodo api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("smarttodo api error (%d): %s", e.StatusCode, e.Message)
}
