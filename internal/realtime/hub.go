package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"

	"SmartTodo/internal/auth"
	"SmartTodo/internal/events"
	"SmartTodo/internal/observability/metrics"
	"SmartTodo/pkg/logger"
)

const (
	defaultSendBuffer   = 32
	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	maxInboundFrameSize = 512
	defaultRetryMin     = 500 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

// Hub 将变更事件推送给同一用户的全部 WebSocket 连接。
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*client]struct{}
	closed  bool

	upgrader   websocket.Upgrader
	sendBuffer int
	writeWait  time.Duration
	pongWait   time.Duration
	log        *slog.Logger

	clock    clock.Clock
	retryMin time.Duration
	retryMax time.Duration
}

// Option 调整 Hub 参数。
type Option func(*Hub)

// WithSendBuffer 设置每个连接的发送缓冲长度，写满时断开该连接。
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPongWait 设置心跳超时，ping 间隔为其 9/10。
func WithPongWait(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pongWait = d
		}
	}
}

// WithCheckOrigin 替换跨域检查。
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		if fn != nil {
			h.upgrader.CheckOrigin = fn
		}
	}
}

// WithClock 替换重新订阅退避所用的时钟。
func WithClock(c clock.Clock) Option {
	return func(h *Hub) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithResubscribeBackoff 设置订阅中断后重新订阅的退避区间。
func WithResubscribeBackoff(min, max time.Duration) Option {
	return func(h *Hub) {
		if min > 0 {
			h.retryMin = min
		}
		if max >= h.retryMin {
			h.retryMax = max
		}
	}
}

// NewHub 创建 Hub。
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*client]struct{}),
		sendBuffer: defaultSendBuffer,
		writeWait:  defaultWriteWait,
		pongWait:   defaultPongWait,
		log:        logger.Named("realtime"),
		clock:      clock.WallClock,
		retryMin:   defaultRetryMin,
		retryMax:   defaultRetryMax,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Run 订阅事件总线并分发事件，阻塞直到 ctx 结束。
func (h *Hub) Run(ctx context.Context, sub events.Subscriber) error {
	return sub.Subscribe(ctx, func(_ context.Context, evt events.Event) error {
		h.Dispatch(evt)
		return nil
	})
}

// Dispatch 将事件发送给事件所属用户的连接，缓冲已满的连接会被断开。
func (h *Hub) Dispatch(evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("编码事件失败", slog.String("type", string(evt.Type)), slog.Any("error", err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[evt.UserID] {
		select {
		case c.send <- data:
		default:
			h.log.Warn("客户端消费过慢，断开连接", slog.String("user_id", c.userID))
			metrics.RealtimeDropped()
			h.removeLocked(c)
		}
	}
}

// Clients 返回某个用户当前的连接数。
func (h *Hub) Clients(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// Close 断开全部连接，之后的连接请求会被拒绝。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	metrics.RealtimeConnected(1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked 移除连接并关闭发送通道，调用方需持有锁。
func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	metrics.RealtimeConnected(-1)
}

// ServeHTTP 升级为 WebSocket 连接，请求上下文中必须已有认证主体。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("WebSocket 升级失败", slog.Any("error", err))
		return
	}
	c := &client{userID: userID, conn: conn, send: make(chan []byte, h.sendBuffer)}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.writeWait))
		conn.Close()
		return
	}
	h.log.Debug("WebSocket 已连接", slog.String("user_id", userID))

	go h.writePump(c)
	h.readPump(c)
}

// readPump 只处理控制帧，连接断开时注销客户端。
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(maxInboundFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("WebSocket 读取失败", slog.String("user_id", c.userID), slog.Any("error", err))
			}
			return
		}
	}
}

// writePump 串行写出事件和心跳。
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection dropped"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
