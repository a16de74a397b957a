package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type 表示变更事件的类型。
type Type string

const (
	TodoCreated     Type = "todo.created"
	TodoUpdated     Type = "todo.updated"
	TodoDeleted     Type = "todo.deleted"
	TodosCleared    Type = "todos.cleared"
	CategoryCreated Type = "category.created"
	CategoryUpdated Type = "category.updated"
	CategoryDeleted Type = "category.deleted"
)

// Event 描述一次成功的写操作，Payload 为资源的 JSON 表示。
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	UserID     string          `json:"userId"`
	ResourceID string          `json:"resourceId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt int64           `json:"occurredAt"`
}

// New 构造事件并序列化负载。
func New(typ Type, userID, resourceID string, payload any, at time.Time) (Event, error) {
	evt := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		UserID:     userID,
		ResourceID: resourceID,
		OccurredAt: at.UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("编码事件负载失败: %w", err)
		}
		evt.Payload = data
	}
	return evt, nil
}

// Encode 把事件编码为跨实例传输的 JSON。
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("编码事件失败: %w", err)
	}
	return data, nil
}

// Decode 解析 Encode 的输出，缺少 ID、类型或用户的消息视为无效。
func Decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	if evt.ID == "" || evt.Type == "" || evt.UserID == "" {
		return Event{}, errors.New("事件缺少 id、type 或 userId")
	}
	return evt, nil
}

// DeletedPayload 是删除类事件的负载。
type DeletedPayload struct {
	ID string `json:"id"`
}

// ClearedPayload 是批量清除已完成待办事件的负载。
type ClearedPayload struct {
	IDs     []string `json:"ids"`
	Deleted int      `json:"deleted"`
}

// Handler 处理一条事件。
type Handler func(ctx context.Context, evt Event) error

// Publisher 负责发布事件。
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Subscriber 负责订阅事件，Subscribe 阻塞直到 ctx 结束或连接出错。
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

// Bus 同时具备发布与订阅能力。
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 实现 Publisher。
func (Nop) Publish(context.Context, Event) error { return nil }
