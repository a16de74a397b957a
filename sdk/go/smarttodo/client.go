package smarttodo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

const tokenPath = "/api/v1/auth/token"

// Client wraps the HTTP interactions with the SmartTodo REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	header     http.Header

	mu          sync.RWMutex
	accessToken string
	tokenSource oauth2.TokenSource
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken authenticates every request with a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.accessToken = token }
}

// WithTokenSource authenticates requests with tokens from ts, which takes
// precedence over a static token.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokenSource = ts }
}

// WithHeader adds a header to every request, e.g. X-User-ID when the server
// runs behind an authenticating proxy.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

// NewClient instantiates a client for the SmartTodo API.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		header:     http.Header{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// OAuthConfig returns an oauth2 configuration whose token endpoint is the
// server's /api/v1/auth/token.
func (c *Client) OAuthConfig(clientID string, scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.endpoint(tokenPath, nil),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Login performs a password grant and installs a refreshing token source.
func (c *Client) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	cfg := c.OAuthConfig("")
	token, err := cfg.PasswordCredentialsToken(c.oauthContext(ctx), username, password)
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response != nil {
			apiErr := &APIError{StatusCode: retrieve.Response.StatusCode}
			if json.Unmarshal(retrieve.Body, apiErr) != nil || apiErr.Message == "" {
				apiErr.Message = string(bytes.TrimSpace(retrieve.Body))
			}
			return nil, apiErr
		}
		return nil, fmt.Errorf("login: %w", err)
	}
	ts := cfg.TokenSource(c.oauthContext(context.Background()), token)
	c.mu.Lock()
	c.tokenSource = oauth2.ReuseTokenSource(token, ts)
	c.mu.Unlock()
	return token, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// SetAccessToken overrides the static access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the token that will be sent with the next request.
func (c *Client) AccessToken() (string, error) {
	c.mu.RLock()
	ts, static := c.tokenSource, c.accessToken
	c.mu.RUnlock()
	if ts == nil {
		return static, nil
	}
	token, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("obtain token: %w", err)
	}
	return token.AccessToken, nil
}

// ListTodos returns the caller's todos.
func (c *Client) ListTodos(ctx context.Context, opts ListOptions) ([]Todo, error) {
	var todos []Todo
	if err := c.call(ctx, http.MethodGet, "/api/v1/todos", opts.values(), nil, &todos); err != nil {
		return nil, err
	}
	return todos, nil
}

// GetTodo fetches a todo by identifier.
func (c *Client) GetTodo(ctx context.Context, id string) (Todo, error) {
	var todo Todo
	err := c.call(ctx, http.MethodGet, "/api/v1/todos/"+url.PathEscape(id), nil, nil, &todo)
	return todo, err
}

// CreateTodo creates a todo and returns the stored record.
func (c *Client) CreateTodo(ctx context.Context, in NewTodo) (Todo, error) {
	var todo Todo
	err := c.call(ctx, http.MethodPost, "/api/v1/todos", nil, in, &todo)
	return todo, err
}

// UpdateTodo applies a partial update.
func (c *Client) UpdateTodo(ctx context.Context, id string, update TodoUpdate) (Todo, error) {
	var todo Todo
	err := c.call(ctx, http.MethodPatch, "/api/v1/todos/"+url.PathEscape(id), nil, update, &todo)
	return todo, err
}

// DeleteTodo deletes a todo. Deleting a missing todo succeeds.
func (c *Client) DeleteTodo(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/todos/"+url.PathEscape(id), nil, nil, nil)
}

// ClearCompleted deletes every completed todo and returns how many were removed.
func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	err := c.call(ctx, http.MethodDelete, "/api/v1/todos/completed", nil, nil, &out)
	return out.Deleted, err
}

// Stats returns the server side summary.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.call(ctx, http.MethodGet, "/api/v1/todos/stats", nil, nil, &stats)
	return stats, err
}

// ListCategories returns the predefined categories and the caller's own,
// oldest first.
func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := c.call(ctx, http.MethodGet, "/api/v1/categories", nil, nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// CreateCategory creates a category.
func (c *Client) CreateCategory(ctx context.Context, in NewCategory) (Category, error) {
	var category Category
	err := c.call(ctx, http.MethodPost, "/api/v1/categories", nil, in, &category)
	return category, err
}

// UpdateCategory applies a partial update to a category.
func (c *Client) UpdateCategory(ctx context.Context, id string, update CategoryUpdate) (Category, error) {
	var category Category
	err := c.call(ctx, http.MethodPatch, "/api/v1/categories/"+url.PathEscape(id), nil, update, &category)
	return category, err
}

// DeleteCategory deletes a category; its todos move to "general".
func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/categories/"+url.PathEscape(id), nil, nil, nil)
}

// Health checks that the server and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

func (c *Client) endpoint(p string, query url.Values) string {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, p)
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, p string, query url.Values, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(p, query), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range c.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	token, err := c.AccessToken()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) call(ctx context.Context, method, p string, query url.Values, payload, out any) error {
	req, err := c.newRequest(ctx, method, p, query, payload)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
