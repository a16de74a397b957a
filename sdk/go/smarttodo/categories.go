package smarttodo

import (
	"context"
	"sync"
)

// CategoryCache keeps a local copy of the categories. Unlike TodoCache it is
// not optimistic: local state only changes after the server accepted a write.
type CategoryCache struct {
	client *Client

	mu         sync.RWMutex
	categories []Category
	err        error
}

// NewCategoryCache creates an empty cache backed by client.
func NewCategoryCache(client *Client) *CategoryCache {
	return &CategoryCache{client: client}
}

// Refresh reloads the categories from the server.
func (c *CategoryCache) Refresh(ctx context.Context) error {
	categories, err := c.client.ListCategories(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	if err != nil {
		return err
	}
	c.categories = categories
	return nil
}

// Err returns the error of the last Refresh.
func (c *CategoryCache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Categories returns a copy of the cached categories.
func (c *CategoryCache) Categories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Category(nil), c.categories...)
}

// ByName returns the first cached category called name.
func (c *CategoryCache) ByName(name string) (Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cat := range c.categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return Category{}, false
}

// Add creates a category and appends it to the cache.
func (c *CategoryCache) Add(ctx context.Context, in NewCategory) (Category, error) {
	created, err := c.client.CreateCategory(ctx, in)
	if err != nil {
		return Category{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories = append(c.categories, created)
	return created, nil
}

// Edit updates a category and replaces the cached copy.
func (c *CategoryCache) Edit(ctx context.Context, id string, update CategoryUpdate) (Category, error) {
	updated, err := c.client.UpdateCategory(ctx, id, update)
	if err != nil {
		return Category{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.categories {
		if c.categories[i].ID == id {
			c.categories[i] = updated
		}
	}
	return updated, nil
}

// Delete removes a category from the server and then from the cache.
func (c *CategoryCache) Delete(ctx context.Context, id string) error {
	if err := c.client.DeleteCategory(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.categories[:0:0]
	for _, cat := range c.categories {
		if cat.ID != id {
			kept = append(kept, cat)
		}
	}
	c.categories = kept
	return nil
}
