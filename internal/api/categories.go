package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"SmartTodo/internal/auth"
	"SmartTodo/internal/todo"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.todos.ListCategories(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if categories == nil {
		categories = []*todo.Category{}
	}
	writeData(w, http.StatusOK, categories)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var input todo.CategoryInput
	if err := s.decodeBody(w, r, categoryCreate, &input); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.todos.CreateCategory(r.Context(), auth.UserID(r.Context()), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var patch todo.CategoryPatch
	if err := s.decodeBody(w, r, categoryPatch, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.todos.UpdateCategory(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.todos.DeleteCategory(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"success": true})
}
