package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"SmartTodo/pkg/logger"
)

// RedisConfig 描述 Redis 发布订阅的连接参数。
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	Channel  string
}

// RedisBus 使用 Redis Pub/Sub 在多个实例之间广播事件。
type RedisBus struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisBus 创建 Redis 事件总线并检查连通性。
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisBusWithClient(client, cfg.Channel), nil
}

// NewRedisBusWithClient 复用已有的 Redis 客户端。
func NewRedisBusWithClient(client redis.UniversalClient, channel string) *RedisBus {
	if channel == "" {
		channel = "smarttodo:events"
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish 将事件发布到频道。
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	data, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅频道，直到 ctx 结束。
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅 Redis 频道失败: %w", err)
	}

	log := logger.Named("events")
	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ErrBusClosed
			}
			evt, err := Decode([]byte(msg.Payload))
			if err != nil {
				log.Warn("忽略无法解析的 Redis 事件", "error", err)
				continue
			}
			if err := handler(ctx, evt); err != nil {
				log.Warn("事件处理失败", "event_id", evt.ID, "error", err)
			}
		}
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
