package smarttodo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/gorilla/websocket"
)

// Watch subscribes to the change feed and calls handler for every event until
// ctx is cancelled, the connection drops or handler returns an error.
func (c *Client) Watch(ctx context.Context, handler func(Event) error) error {
	u := c.feedURL()
	header := http.Header{}
	for key, values := range c.header {
		header[key] = append([]string(nil), values...)
	}
	token, err := c.AccessToken()
	if err != nil {
		return err
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("dial change feed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read change feed: %w", err)
		}
		if err := handler(evt); err != nil {
			if errors.Is(err, ErrStopWatching) {
				return nil
			}
			return err
		}
	}
}

// ErrStopWatching can be returned by a Watch handler to end the subscription
// without reporting an error.
var ErrStopWatching = errors.New("stop watching")

// WatchURL returns the change feed address with the token in the query
// string, for clients that cannot set headers on the upgrade request.
func (c *Client) WatchURL(token string) string {
	u := c.feedURL()
	u.RawQuery = url.Values{"access_token": {token}}.Encode()
	return u.String()
}

func (c *Client) feedURL() url.URL {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = path.Join(c.baseURL.Path, "/api/v1/events")
	u.RawQuery = ""
	return u
}
