package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"SmartTodo/internal/auth"
	xerrors "SmartTodo/internal/errors"
	"SmartTodo/internal/todo"
)

func (s *Server) handleListTodos(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	todos, err := s.todos.ListTodos(r.Context(), auth.UserID(r.Context()), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if todos == nil {
		todos = []*todo.Todo{}
	}
	writeData(w, http.StatusOK, todos)
}

func (s *Server) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	var input todo.TodoInput
	if err := s.decodeBody(w, r, todoCreate, &input); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.todos.CreateTodo(r.Context(), auth.UserID(r.Context()), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleGetTodo(w http.ResponseWriter, r *http.Request) {
	found, err := s.todos.GetTodo(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, found)
}

func (s *Server) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	var patch todo.TodoPatch
	if err := s.decodeBody(w, r, todoPatch, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.todos.UpdateTodo(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	if err := s.todos.DeleteTodo(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.todos.ClearCompleted(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.todos.Stats(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// parseListQuery 将查询参数转换为列表选项，非法取值返回校验错误。
func parseListQuery(q url.Values) ([]todo.ListOption, error) {
	var opts []todo.ListOption

	status, ok := todo.ParseStatusFilter(q.Get("status"))
	if !ok {
		return nil, queryError("status", "status must be one of all, active, completed")
	}
	opts = append(opts, todo.WithStatus(status))

	if category := strings.TrimSpace(q.Get("category")); category != "" {
		opts = append(opts, todo.WithCategory(category))
	}
	if raw := strings.TrimSpace(q.Get("priority")); raw != "" {
		p := todo.Priority(strings.ToLower(raw))
		if !p.Valid() {
			return nil, queryError("priority", "priority must be one of high, medium, low")
		}
		opts = append(opts, todo.WithPriority(p))
	}
	if raw := q["tag"]; len(raw) > 0 {
		tags, err := todo.NormalizeTagFilter(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, todo.WithTags(tags...))
	}

	var from, to int64
	if raw := q.Get("due_from"); raw != "" {
		v, err := todo.ParseMillis(raw)
		if err != nil {
			return nil, queryError("due_from", "due_from must be a timestamp")
		}
		from = int64(v)
	}
	if raw := q.Get("due_to"); raw != "" {
		v, err := todo.ParseMillis(raw)
		if err != nil {
			return nil, queryError("due_to", "due_to must be a timestamp")
		}
		to = int64(v)
	}
	if from != 0 || to != 0 {
		opts = append(opts, todo.WithDueRange(from, to))
	}

	if query := strings.TrimSpace(q.Get("q")); query != "" {
		opts = append(opts, todo.WithQuery(query))
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, queryError("limit", "limit must be a non-negative integer")
		}
		opts = append(opts, todo.WithLimit(limit))
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, queryError("offset", "offset must be a non-negative integer")
		}
		opts = append(opts, todo.WithOffset(offset))
	}
	order, ok := todo.ParseSortOrder(q.Get("sort"))
	if !ok {
		return nil, queryError("sort", "sort must be one of created_desc, created_asc, due_asc")
	}
	opts = append(opts, todo.WithSortOrder(order))
	return opts, nil
}

func queryError(field, message string) error {
	return xerrors.New(todo.CodeValidationFailed, message, xerrors.WithMetadata("field", field))
}
