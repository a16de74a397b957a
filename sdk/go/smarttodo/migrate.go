package smarttodo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// LegacyTodo is the shape of todos saved by the offline, browser-only
// version of the app.
type LegacyTodo struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ImportResult reports the outcome of ImportLegacy.
type ImportResult struct {
	Migrated int      `json:"migrated"`
	Errors   []string `json:"errors,omitempty"`
}

// Success reports whether every todo was imported cleanly.
func (r ImportResult) Success() bool { return len(r.Errors) == 0 }

// DecodeLegacy reads a JSON array of legacy todos.
func DecodeLegacy(r io.Reader) ([]LegacyTodo, error) {
	var todos []LegacyTodo
	if err := json.NewDecoder(r).Decode(&todos); err != nil {
		return nil, fmt.Errorf("decode legacy todos: %w", err)
	}
	return todos, nil
}

// ImportLegacy replays legacy todos against the server: each text is created
// and completed items are patched afterwards. A todo whose completion could not
// be set still counts as migrated.
func ImportLegacy(ctx context.Context, client *Client, todos []LegacyTodo) ImportResult {
	var result ImportResult
	for _, legacy := range todos {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("import aborted: %v", err))
			return result
		}
		created, err := client.CreateTodo(ctx, NewTodo{Text: legacy.Text})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to import %q: %v", legacy.Text, err))
			continue
		}
		if legacy.Completed {
			done := true
			if _, err := client.UpdateTodo(ctx, created.ID, TodoUpdate{Completed: &done}); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("imported %q but could not mark it completed: %v", legacy.Text, err))
			}
		}
		result.Migrated++
	}
	return result
}
