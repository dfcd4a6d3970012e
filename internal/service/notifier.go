package service

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/fedrelay/pkg/logger"
)

// deliveriesChannel 投递队列变更唤醒通道
const deliveriesChannel = "deliveries_changed"

// Notifier 共享唤醒通道：队列有新写入时唤醒空闲 worker，
// 丢失通知只会退化为等待兜底轮询，不影响正确性。
type Notifier interface {
	// Publish 发布一次队列变更通知（尽力而为）
	Publish(ctx context.Context)
	// Subscribe 返回唤醒信号通道与取消函数；每个 worker 持有独立订阅连接
	Subscribe(ctx context.Context) (<-chan struct{}, func())
}

type redisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) Notifier {
	return &redisNotifier{client: client}
}

func (n *redisNotifier) Publish(ctx context.Context) {
	if err := n.client.Publish(ctx, deliveriesChannel, "").Err(); err != nil {
		logger.Warn("publish delivery notification failed", zap.Error(err))
	}
}

func (n *redisNotifier) Subscribe(ctx context.Context) (<-chan struct{}, func()) {
	sub := n.client.Subscribe(ctx, deliveriesChannel)
	wake := make(chan struct{}, 1)
	go func() {
		for range sub.Channel() {
			// 合并密集通知，空闲 worker 只需要一次唤醒
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, func() { _ = sub.Close() }
}
