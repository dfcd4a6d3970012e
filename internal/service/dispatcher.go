package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/fedrelay/internal/apub"
	"github.com/d60-Lab/fedrelay/pkg/logger"
)

// Note 规范化后的入站笔记，交给领域层处理
type Note struct {
	ID        string
	Actor     apub.Actor
	Content   string // 正文纯文本
	InReplyTo string
	Mentions  map[string]struct{}
}

// NoteHandler 领域层回调；处理结果不影响已返回的 HTTP 响应
type NoteHandler interface {
	HandleNote(ctx context.Context, note *Note) error
}

// Dispatcher 把已通过准入的笔记异步交给领域层，自带错误边界：
// 领域层异常只记日志，绝不回传到请求路径。
type Dispatcher struct {
	handler NoteHandler
	ch      chan *Note
}

func NewDispatcher(handler NoteHandler, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{handler: handler, ch: make(chan *Note, queueSize)}
}

// Start 启动若干分发 worker；返回停止函数
func (d *Dispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case note := <-d.ch:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if err := d.handler.HandleNote(ctx, note); err != nil {
						logger.Warn("note handler failed",
							zap.String("note", note.ID),
							zap.String("actor", note.Actor.ID),
							zap.Error(err))
					}
					cancel()
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		// 等待队列自然排空一小段时间
		timeout := time.After(2 * time.Second)
		for {
			select {
			case <-timeout:
				return nil
			default:
				if len(d.ch) == 0 {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

// Enqueue 入队；队列满时丢弃并告警
func (d *Dispatcher) Enqueue(note *Note) {
	select {
	case d.ch <- note:
	default:
		logger.Warn("dispatch queue full, drop note", zap.String("note", note.ID))
	}
}

// QueueLen 返回当前队列长度（采样值）
func (d *Dispatcher) QueueLen() int { return len(d.ch) }
