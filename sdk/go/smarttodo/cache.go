package smarttodo

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxPageSize is the largest page the server returns for GET /api/v1/todos.
const MaxPageSize = 500

// TodoCache keeps a local copy of the caller's todos and applies mutations
// optimistically: the local state changes first and is rolled back when the
// server rejects the request.
type TodoCache struct {
	client   *Client
	now      func() time.Time
	pageSize int

	mu     sync.RWMutex
	todos  []Todo
	err    error
	loaded bool
}

// NewTodoCache creates an empty cache backed by client.
func NewTodoCache(client *Client) *TodoCache {
	return &TodoCache{client: client, now: time.Now, pageSize: MaxPageSize}
}

// Refresh replaces the local state with every todo the server holds for the
// caller, fetching page by page until a short page is returned.
func (c *TodoCache) Refresh(ctx context.Context) error {
	todos, err := c.fetchAll(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = true
	if err != nil {
		c.err = err
		return err
	}
	c.todos = todos
	c.err = nil
	return nil
}

func (c *TodoCache) fetchAll(ctx context.Context) ([]Todo, error) {
	size := c.pageSize
	if size <= 0 || size > MaxPageSize {
		size = MaxPageSize
	}
	all := make([]Todo, 0, size)
	seen := make(map[string]struct{})
	for offset := 0; ; offset += size {
		page, err := c.client.ListTodos(ctx, ListOptions{Limit: size, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, t := range page {
			// a todo created between pages shifts the offsets by one
			if _, ok := seen[t.ID]; ok {
				continue
			}
			seen[t.ID] = struct{}{}
			all = append(all, t)
		}
		if len(page) < size {
			return all, nil
		}
	}
}

// Loaded reports whether Refresh has completed at least once.
func (c *TodoCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Err returns the error of the most recent operation, if any.
func (c *TodoCache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Add inserts a temporary todo at the front and swaps it for the server
// record once the create succeeds.
func (c *TodoCache) Add(ctx context.Context, text string) error {
	now := c.now().UnixMilli()
	temp := Todo{
		ID:        uuid.NewString(),
		Text:      strings.TrimSpace(text),
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.mu.Lock()
	c.err = nil
	c.todos = append([]Todo{temp}, c.todos...)
	c.mu.Unlock()

	created, err := c.client.CreateTodo(ctx, NewTodo{Text: text})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.remove(temp.ID)
		c.err = err
		return err
	}
	if c.index(created.ID) >= 0 {
		// 变更推送可能先一步带回了真实记录。
		c.remove(temp.ID)
		c.replace(created)
		return nil
	}
	if i := c.index(temp.ID); i >= 0 {
		c.todos[i] = created
	} else {
		c.todos = append([]Todo{created}, c.todos...)
	}
	return nil
}

// Toggle flips the completion state of a todo. Unknown ids are ignored.
func (c *TodoCache) Toggle(ctx context.Context, id string) error {
	var completed bool
	return c.update(ctx, id, func(t *Todo) TodoUpdate {
		t.Completed = !t.Completed
		completed = t.Completed
		return TodoUpdate{Completed: &completed}
	})
}

// Edit replaces the text of a todo. Unknown ids are ignored.
func (c *TodoCache) Edit(ctx context.Context, id, text string) error {
	trimmed := strings.TrimSpace(text)
	return c.update(ctx, id, func(t *Todo) TodoUpdate {
		t.Text = trimmed
		return TodoUpdate{Text: &text}
	})
}

func (c *TodoCache) update(ctx context.Context, id string, mutate func(*Todo) TodoUpdate) error {
	c.mu.Lock()
	c.err = nil
	i := c.index(id)
	if i < 0 {
		c.mu.Unlock()
		return nil
	}
	previous := c.todos[i].clone()
	next := previous.clone()
	patch := mutate(&next)
	next.UpdatedAt = c.now().UnixMilli()
	c.todos[i] = next
	c.mu.Unlock()

	updated, err := c.client.UpdateTodo(ctx, id, patch)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if j := c.index(id); j >= 0 {
			c.todos[j] = previous
		}
		c.err = err
		return err
	}
	c.replace(updated)
	return nil
}

// Delete removes a todo locally and re-inserts it if the server call fails.
func (c *TodoCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	c.err = nil
	i := c.index(id)
	if i < 0 {
		c.mu.Unlock()
		return nil
	}
	removed := c.todos[i]
	c.remove(id)
	c.mu.Unlock()

	err := c.client.DeleteTodo(ctx, id)
	if err == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restore([]Todo{removed})
	c.err = err
	return err
}

// ClearCompleted removes every completed todo with a single bulk request.
func (c *TodoCache) ClearCompleted(ctx context.Context) error {
	c.mu.Lock()
	c.err = nil
	var removed []Todo
	kept := c.todos[:0:0]
	for _, t := range c.todos {
		if t.Completed {
			removed = append(removed, t)
		} else {
			kept = append(kept, t)
		}
	}
	if len(removed) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.todos = kept
	c.mu.Unlock()

	_, err := c.client.ClearCompleted(ctx)
	if err == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restore(removed)
	c.err = err
	return err
}

// Todos returns a copy of every cached todo.
func (c *TodoCache) Todos() []Todo {
	return c.Visible(FilterAll)
}

// Visible returns the cached todos matching filter.
func (c *TodoCache) Visible(filter Filter) []Todo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Todo, 0, len(c.todos))
	for _, t := range c.todos {
		switch filter {
		case FilterActive:
			if t.Completed {
				continue
			}
		case FilterCompleted:
			if !t.Completed {
				continue
			}
		}
		out = append(out, t.clone())
	}
	return out
}

// LocalStats counts the cached todos.
type LocalStats struct {
	Total     int
	Active    int
	Completed int
}

// Stats summarises the cached todos.
func (c *TodoCache) Stats() LocalStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := LocalStats{Total: len(c.todos)}
	for _, t := range c.todos {
		if t.Completed {
			stats.Completed++
		} else {
			stats.Active++
		}
	}
	return stats
}

// Apply merges a change feed event into the cache. Category events are
// ignored.
func (c *TodoCache) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTodoCreated, EventTodoUpdated:
		var todo Todo
		if err := json.Unmarshal(evt.Payload, &todo); err != nil || todo.ID == "" {
			return
		}
		if c.index(todo.ID) >= 0 {
			c.replace(todo)
			return
		}
		c.restore([]Todo{todo})
	case EventTodoDeleted:
		id := evt.ResourceID
		var payload struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(evt.Payload, &payload) == nil && payload.ID != "" {
			id = payload.ID
		}
		c.remove(id)
	case EventTodosCleared:
		var payload struct {
			IDs []string `json:"ids"`
		}
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return
		}
		for _, id := range payload.IDs {
			c.remove(id)
		}
	}
}

func (c *TodoCache) index(id string) int {
	for i, t := range c.todos {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (c *TodoCache) remove(id string) {
	if i := c.index(id); i >= 0 {
		c.todos = append(c.todos[:i:i], c.todos[i+1:]...)
	}
}

func (c *TodoCache) replace(todo Todo) {
	if i := c.index(todo.ID); i >= 0 {
		c.todos[i] = todo
	}
}

// restore adds todos that are not cached yet and re-sorts by creation time,
// newest first.
func (c *TodoCache) restore(todos []Todo) {
	for _, t := range todos {
		if c.index(t.ID) < 0 {
			c.todos = append(c.todos, t)
		}
	}
	sort.SliceStable(c.todos, func(i, j int) bool {
		return c.todos[i].CreatedAt > c.todos[j].CreatedAt
	})
}
