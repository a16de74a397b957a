package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"SmartTodo/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 扇出交换机的连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Prefetch int
}

// RabbitMQBus 通过 fanout 交换机广播事件，每个订阅者使用独占的临时队列。
type RabbitMQBus struct {
	conn     *amqp.Connection
	pubMu    sync.Mutex
	pub      *amqp.Channel
	exchange string
	prefetch int
}

// NewRabbitMQBus 连接 RabbitMQ 并声明交换机。
func NewRabbitMQBus(cfg RabbitMQConfig) (*RabbitMQBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "smarttodo.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
	}
	return &RabbitMQBus{conn: conn, pub: ch, exchange: exchange, prefetch: cfg.Prefetch}, nil
}

// Publish 将事件发布到交换机，amqp channel 不是并发安全的，因此串行化。
func (b *RabbitMQBus) Publish(ctx context.Context, evt Event) error {
	if b == nil || b.pub == nil {
		return errors.New("RabbitMQ 总线未初始化")
	}
	data, err := Encode(evt)
	if err != nil {
		return err
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.pub.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   evt.ID,
		Type:        string(evt.Type),
		Timestamp:   time.UnixMilli(evt.OccurredAt),
		Body:        data,
	})
}

// Subscribe 声明独占队列并以手动确认模式消费。
func (b *RabbitMQBus) Subscribe(ctx context.Context, handler Handler) error {
	if b == nil || b.conn == nil {
		return errors.New("RabbitMQ 总线未初始化")
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	defer ch.Close()

	if b.prefetch > 0 {
		if err := ch.Qos(b.prefetch, 0, false); err != nil {
			return fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("绑定 RabbitMQ 队列失败: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	log := logger.Named("events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ErrBusClosed
			}
			evt, err := Decode(msg.Body)
			if err != nil {
				log.Warn("丢弃无法解析的 RabbitMQ 事件", "error", err)
				_ = msg.Ack(false)
				continue
			}
			if err := handler(ctx, evt); err != nil {
				log.Warn("事件处理失败", "event_id", evt.ID, "error", err)
			}
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (b *RabbitMQBus) Close() error {
	if b == nil {
		return nil
	}
	if b.pub != nil {
		_ = b.pub.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
