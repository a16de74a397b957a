package realtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/juju/retry"

	"SmartTodo/internal/events"
)

// errSubscriptionEnded 表示订阅在 ctx 结束前自行返回。
var errSubscriptionEnded = errors.New("事件订阅意外结束")

// Consume 持续订阅事件总线，订阅出错或中断时按指数退避重新订阅，直到 ctx 结束。
func (h *Hub) Consume(ctx context.Context, sub events.Subscriber) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			err := h.Run(ctx, sub)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nil {
				return errSubscriptionEnded
			}
			return err
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(lastError error, attempt int) {
			h.log.Warn("事件订阅中断，准备重新订阅",
				slog.Int("attempt", attempt),
				slog.Any("error", lastError),
			)
		},
		Attempts:    -1,
		Delay:       h.retryMin,
		MaxDelay:    h.retryMax,
		BackoffFunc: retry.ExpBackoff(h.retryMin, h.retryMax, 2, true),
		Clock:       h.clock,
		Stop:        ctx.Done(),
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
