package todo

import (
	"context"
	stdErrors "errors"
	"testing"
)

func TestMemoryStoreWithTxRestoresOnError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.InsertTodo(ctx, &Todo{ID: "t1", UserID: "alice", Text: "a", Category: "Trips"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	boom := stdErrors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.RecategorizeTodos(ctx, "alice", "Trips", FallbackCategory, 10); err != nil {
			return err
		}
		if err := tx.InsertTodo(ctx, &Todo{ID: "t2", UserID: "alice", Text: "b"}); err != nil {
			return err
		}
		return boom
	})
	if !stdErrors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := store.GetTodo(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Category != "Trips" {
		t.Fatalf("recategorize should be rolled back, got %q", got.Category)
	}
	if _, err := store.GetTodo(ctx, "alice", "t2"); !stdErrors.Is(err, ErrTodoNotFound) {
		t.Fatalf("insert should be rolled back, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.InsertTodo(ctx, &Todo{ID: "t1", UserID: "alice", Text: "a", Tags: []string{"x"}}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	got, _ := store.GetTodo(ctx, "alice", "t1")
	got.Text = "mutated"
	got.Tags[0] = "y"

	again, _ := store.GetTodo(ctx, "alice", "t1")
	if again.Text != "a" || again.Tags[0] != "x" {
		t.Fatalf("store leaked internal state: %+v", again)
	}
}

func TestMemoryStoreOwnerScoping(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.InsertTodo(ctx, &Todo{ID: "t1", UserID: "alice", Text: "a"})
	if _, err := store.GetTodo(ctx, "bob", "t1"); !stdErrors.Is(err, ErrTodoNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	deleted, err := store.DeleteTodo(ctx, "bob", "t1")
	if err != nil || deleted {
		t.Fatalf("foreign delete must be a no-op, got %v %v", deleted, err)
	}

	if err := store.InsertCategory(ctx, &Category{ID: "c1", UserID: "alice", Name: "Trips", Color: "#000000", CreatedAt: 1}); err != nil {
		t.Fatalf("insert category failed: %v", err)
	}
	if err := store.InsertCategory(ctx, &Category{ID: "c2", UserID: "alice", Name: "Trips", Color: "#000000"}); !stdErrors.Is(err, ErrCategoryConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.UpdateCategory(ctx, &Category{ID: "c1", UserID: "bob", Name: "Mine"}); !stdErrors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("expected not found for foreign update, got %v", err)
	}

	bobs, _ := store.ListCategories(ctx, "bob")
	for _, c := range bobs {
		if c.UserID == "alice" {
			t.Fatalf("bob must not see alice's categories")
		}
	}
	alices, _ := store.ListCategories(ctx, "alice")
	if len(alices) != len(predefinedCategories)+1 || alices[0].Name != "Trips" {
		t.Fatalf("expected alice's category first by created_at, got %+v", alices)
	}
}

func TestSortTodosDueAscPutsUndatedLast(t *testing.T) {
	d1, d2 := int64(100), int64(200)
	list := []*Todo{
		{ID: "none-old", CreatedAt: 1},
		{ID: "late", DueDate: &d2, CreatedAt: 2},
		{ID: "none-new", CreatedAt: 3},
		{ID: "early", DueDate: &d1, CreatedAt: 4},
	}
	sortTodos(list, SortDueAsc)

	want := []string{"early", "late", "none-new", "none-old"}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d: want %s got %s", i, id, list[i].ID)
		}
	}
}
