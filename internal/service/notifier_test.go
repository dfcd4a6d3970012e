package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifierWakesSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	n := NewRedisNotifier(client)
	ctx := context.Background()

	wake, cancel := n.Subscribe(ctx)
	defer cancel()
	// 等订阅连接建立后再发布
	time.Sleep(100 * time.Millisecond)

	n.Publish(ctx)

	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not woken")
	}
}

func TestRedisNotifierCoalescesBursts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	n := NewRedisNotifier(client)
	ctx := context.Background()

	wake, cancel := n.Subscribe(ctx)
	defer cancel()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 10; i++ {
		n.Publish(ctx)
	}
	// 等全部通知送达订阅端，此间不消费 wake
	time.Sleep(300 * time.Millisecond)

	// 10 次发布合并为一次待处理唤醒
	woken := 0
	for {
		select {
		case <-wake:
			woken++
		default:
			require.Equal(t, 1, woken)
			return
		}
	}
}
