package events

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed 表示总线已关闭。
var ErrBusClosed = errors.New("事件总线已关闭")

// MemoryBus 在进程内把事件广播给所有订阅者。
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
	// OnDrop 在订阅者缓冲区已满而丢弃事件时回调。
	OnDrop func(Event)
}

// NewMemoryBus 创建内存事件总线，buffer 为每个订阅者的缓冲大小。
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{subs: make(map[int]chan Event), buffer: buffer}
}

// Publish 非阻塞投递，慢订阅者会丢失事件。
func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			if b.OnDrop != nil {
				b.OnDrop(evt)
			}
		}
	}
	return nil
}

// Subscribe 注册订阅者并在当前协程中依次调用 handler。
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return ErrBusClosed
			}
			_ = handler(ctx, evt)
		}
	}
}

// Subscribers 返回当前订阅者数量。
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭总线并结束所有订阅。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	return nil
}
