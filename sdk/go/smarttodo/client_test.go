package smarttodo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SmartTodo/internal/api"
	"SmartTodo/internal/auth"
	"SmartTodo/internal/events"
	"SmartTodo/internal/realtime"
	"SmartTodo/internal/todo"
)

type testAPI struct {
	srv     *httptest.Server
	failing atomic.Bool
	hub     *realtime.Hub
	bus     *events.MemoryBus
	// hook 在转发请求前调用，用于观察乐观更新的中间状态。
	hook atomic.Pointer[func(r *http.Request)]
}

func (ta *testAPI) onRequest(fn func(r *http.Request)) {
	if fn == nil {
		ta.hook.Store(nil)
		return
	}
	ta.hook.Store(&fn)
}

func newTestAPI(t *testing.T, cfg auth.Config) *testAPI {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	authSvc, err := auth.NewService(ctx, cfg, nil)
	require.NoError(t, err)

	ta := &testAPI{bus: events.NewMemoryBus(32), hub: realtime.NewHub()}
	go func() { _ = ta.hub.Run(ctx, ta.bus) }()
	svc := todo.NewService(todo.NewMemoryStore(), ta.bus)
	server := api.NewServer(api.Options{}, svc, authSvc, ta.hub, nil)
	handler := server.Handler()

	ta.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fn := ta.hook.Load(); fn != nil {
			(*fn)(r)
		}
		if ta.failing.Load() && r.Method != http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"service unavailable","code":"UNAVAILABLE"}`))
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		ta.hub.Close()
		ta.srv.Close()
		_ = ta.bus.Close()
	})
	return ta
}

func newLocalClient(t *testing.T) (*testAPI, *Client) {
	t.Helper()
	ta := newTestAPI(t, auth.Config{Mode: auth.ModeDisabled})
	client, err := NewClient(ta.srv.URL, WithHTTPClient(ta.srv.Client()))
	require.NoError(t, err)
	return ta, client
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	_, client := newLocalClient(t)
	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	due := int64(1715299200000)
	created, err := client.CreateTodo(ctx, NewTodo{Text: " write report ", Tags: []string{"Work"}, Priority: "high", DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, "write report", created.Text)
	assert.Equal(t, "local", created.UserID)
	assert.Equal(t, []string{"work"}, created.Tags)

	list, err := client.ListTodos(ctx, ListOptions{Status: FilterActive, Tags: []string{"work"}})
	require.NoError(t, err)
	require.Len(t, list, 1)

	done := true
	updated, err := client.UpdateTodo(ctx, created.ID, TodoUpdate{Completed: &done, ClearDueDate: true})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Nil(t, updated.DueDate)
	assert.GreaterOrEqual(t, updated.UpdatedAt, created.UpdatedAt)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Completed: 1}, stats)

	deleted, err := client.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = client.GetTodo(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "TODO_NOT_FOUND", apiErr.Code)

	require.NoError(t, client.DeleteTodo(ctx, created.ID), "deleting a missing todo succeeds")
}

func TestClientValidationError(t *testing.T) {
	_, client := newLocalClient(t)
	_, err := client.CreateTodo(context.Background(), NewTodo{Text: "   "})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", apiErr.Code)
	assert.Equal(t, "text", apiErr.Field)
	assert.Contains(t, apiErr.Error(), "VALIDATION_FAILED")
}

func TestTodoUpdateMarshalsOnlySetFields(t *testing.T) {
	text := "x"
	data, err := json.Marshal(TodoUpdate{Text: &text, ClearPriority: true, ReplaceTags: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"x","priority":null,"tags":[]}`, string(data))

	data, err = json.Marshal(TodoUpdate{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestLoginUsesPasswordGrant(t *testing.T) {
	ta := newTestAPI(t, auth.Config{
		Mode:  auth.ModeJWT,
		JWT:   auth.JWTOptions{Secret: "sdk-secret", AccessTTL: time.Minute},
		Seeds: []auth.Seed{{ID: "user-alice", Username: "alice", Password: "wonderland"}},
	})
	client, err := NewClient(ta.srv.URL, WithHTTPClient(ta.srv.Client()))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.ListTodos(ctx, ListOptions{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = client.Login(ctx, "alice", "wrong")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	token, err := client.Login(ctx, "alice", "wonderland")
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
	assert.NotEmpty(t, token.RefreshToken)

	created, err := client.CreateTodo(ctx, NewTodo{Text: "signed in"})
	require.NoError(t, err)
	assert.Equal(t, "user-alice", created.UserID)

	current, err := client.AccessToken()
	require.NoError(t, err)
	assert.True(t, strings.Contains(client.WatchURL(current), "access_token="))
}

func TestCategoryCache(t *testing.T) {
	_, client := newLocalClient(t)
	ctx := context.Background()
	cache := NewCategoryCache(client)

	require.NoError(t, cache.Refresh(ctx))
	predefined := len(cache.Categories())
	require.Positive(t, predefined)
	general, ok := cache.ByName("general")
	require.True(t, ok)
	assert.True(t, general.Predefined())

	created, err := cache.Add(ctx, NewCategory{Name: "Errands", Color: "#aabbcc"})
	require.NoError(t, err)
	assert.Equal(t, "#AABBCC", created.Color)
	assert.Len(t, cache.Categories(), predefined+1)

	_, err = cache.Add(ctx, NewCategory{Name: "Errands", Color: "#000000"})
	require.Error(t, err)
	assert.Len(t, cache.Categories(), predefined+1, "failed writes leave the cache untouched")

	name := "Chores"
	_, err = cache.Edit(ctx, created.ID, CategoryUpdate{Name: &name})
	require.NoError(t, err)
	_, ok = cache.ByName("Chores")
	assert.True(t, ok)

	color := "#000000"
	_, err = cache.Edit(ctx, general.ID, CategoryUpdate{Color: &color})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	require.NoError(t, cache.Delete(ctx, created.ID))
	_, ok = cache.ByName("Chores")
	assert.False(t, ok)
	assert.Len(t, cache.Categories(), predefined)
}

func TestImportLegacy(t *testing.T) {
	_, client := newLocalClient(t)
	ctx := context.Background()

	legacy, err := DecodeLegacy(strings.NewReader(`[
		{"id":"1","text":"old task","completed":false,"createdAt":1},
		{"id":"2","text":"finished task","completed":true,"createdAt":2},
		{"id":"3","text":"   ","completed":false,"createdAt":3}
	]`))
	require.NoError(t, err)
	require.Len(t, legacy, 3)

	result := ImportLegacy(ctx, client, legacy)
	assert.Equal(t, 2, result.Migrated)
	assert.Len(t, result.Errors, 1)
	assert.False(t, result.Success())

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
}

func TestWatchDeliversEvents(t *testing.T) {
	ta, client := newLocalClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan Event, 1)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- client.Watch(ctx, func(evt Event) error {
			received <- evt
			return ErrStopWatching
		})
	}()

	require.Eventually(t, func() bool {
		return ta.hub.Clients("local") == 1 && ta.bus.Subscribers() == 1
	}, 2*time.Second, 10*time.Millisecond)

	created, err := client.CreateTodo(ctx, NewTodo{Text: "from another tab"})
	require.NoError(t, err)

	select {
	case evt := <-received:
		assert.Equal(t, EventTodoCreated, evt.Type)
		assert.Equal(t, created.ID, evt.ResourceID)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
	assert.NoError(t, <-watchErr)
}
