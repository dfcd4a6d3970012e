package service

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/fedrelay/internal/apub"
	"github.com/d60-Lab/fedrelay/internal/jsonld"
	"github.com/d60-Lab/fedrelay/internal/model"
	"github.com/d60-Lab/fedrelay/internal/repository"
	"github.com/d60-Lab/fedrelay/pkg/httpsig"
	"github.com/d60-Lab/fedrelay/pkg/logger"
)

// DeliverOptions 投递 worker 配置
type DeliverOptions struct {
	Origin       string
	PublicKeyURL string
	PrivateKey   *rsa.PrivateKey
	Production   bool

	Workers      int           // worker 数量，<=0 默认 2
	PollInterval time.Duration // 兜底轮询间隔，默认 60s
	DeliverDelay time.Duration // inbox 解析后首次投递延迟，默认 2s
	BaseDelay    time.Duration // 退避基数，默认 10s
	MaxAttempts  int           // 尝试上限，默认 10
	Timeout      time.Duration // 出站请求超时，默认 30s
}

// DeliverService 投递 worker 池：每个 worker 在单事务内锁定最早到期的
// 一条义务并推进其状态（解析 inbox 或执行签名投递），通过行锁协调，
// 进程内不共享可变投递状态。
type DeliverService struct {
	db           *gorm.DB
	deliveryRepo repository.DeliveryRepository
	outboxRepo   repository.OutboxRepository
	resolver     *jsonld.Resolver
	notifier     Notifier
	client       *resty.Client
	opts         DeliverOptions
}

func NewDeliverService(db *gorm.DB, deliveryRepo repository.DeliveryRepository, outboxRepo repository.OutboxRepository, resolver *jsonld.Resolver, notifier Notifier, opts DeliverOptions) *DeliverService {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.DeliverDelay <= 0 {
		opts.DeliverDelay = 2 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client := resty.New().SetTimeout(opts.Timeout)
	return &DeliverService{
		db:           db,
		deliveryRepo: deliveryRepo,
		outboxRepo:   outboxRepo,
		resolver:     resolver,
		notifier:     notifier,
		client:       client,
		opts:         opts,
	}
}

// Run 启动 worker 池并阻塞到 ctx 取消
func (s *DeliverService) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		// 每个 worker 一条独立的唤醒订阅连接
		wake, cancel := s.notifier.Subscribe(ctx)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer cancel()
			s.runWorker(ctx, id, wake)
		}(i)
	}
	wg.Wait()
}

// runWorker 只要出队成功就继续；队列暂空时等待唤醒通知或兜底定时器
func (s *DeliverService) runWorker(ctx context.Context, id int, wake <-chan struct{}) {
	for {
		processed, wait, err := s.dequeueOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("delivery step failed", zap.Int("worker", id), zap.Error(err))
			wait = s.opts.PollInterval
		}
		if processed {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// dequeueOnce 在单个事务内锁定并推进最早到期的一条义务。
// 返回的 wait 是下次兜底唤醒前的等待时长。
func (s *DeliverService) dequeueOnce(ctx context.Context) (bool, time.Duration, error) {
	processed := false
	wait := s.opts.PollInterval
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.deliveryRepo.NextDue(ctx, tx)
		if err != nil {
			return err
		}
		if d == nil {
			return nil
		}
		if until := time.Until(d.AttemptAt); until > 0 {
			if until < wait {
				wait = until
			}
			return nil
		}
		if d.Inbox == nil {
			err = s.resolveInbox(ctx, tx, d)
		} else {
			err = s.deliverActivity(ctx, tx, d)
		}
		if err != nil {
			return err
		}
		processed = true
		return nil
	})
	if err != nil {
		return false, wait, err
	}
	if processed {
		// 通知其他 worker：队列刚被改写，可能有新的可处理行
		s.notifier.Publish(ctx)
	}
	return processed, wait, nil
}

// resolveInbox 解析收件人的投递端点，并写到该收件人所有未解析的义务上
func (s *DeliverService) resolveInbox(ctx context.Context, tx *gorm.DB, d *model.Delivery) error {
	locked, err := s.deliveryRepo.LockUnresolvedByAddressee(ctx, tx, d.Addressee)
	if err != nil {
		return err
	}
	outboxIDs := make([]string, 0, len(locked))
	found := false
	for _, row := range locked {
		outboxIDs = append(outboxIDs, row.OutboxID)
		if row.OutboxID == d.OutboxID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: dequeued delivery missing from addressee lock", repository.ErrRowCount)
	}

	g := jsonld.NewGraph()
	if err := s.resolver.Load(ctx, g, d.Addressee); err != nil {
		logger.Warn("failed to load addressee document",
			zap.String("addressee", d.Addressee), zap.Error(err))
		return s.retryOrDrop(ctx, tx, d, []string{d.Addressee}, loadStatus(err))
	}
	actor := apub.ActorOf(g, d.Addressee)

	// 优先共享 inbox，批量投递
	inbox := actor.SharedInbox
	if inbox == "" && actor.Endpoints != "" {
		if err := s.resolver.Load(ctx, g, actor.Endpoints); err != nil {
			logger.Warn("failed to load endpoints for addressee",
				zap.String("addressee", d.Addressee), zap.Error(err))
		} else {
			inbox = apub.EndpointsOf(g, actor.Endpoints).SharedInbox
		}
	}
	if s.usableInbox(inbox) {
		logger.Debug("resolved shared inbox", zap.String("addressee", d.Addressee), zap.String("inbox", inbox))
	} else {
		inbox = actor.Inbox
		if s.usableInbox(inbox) {
			logger.Debug("resolved personal inbox", zap.String("addressee", d.Addressee), zap.String("inbox", inbox))
		} else {
			// 没有可用端点的收件人永远不可达，不重试
			logger.Warn("addressee has no usable inbox", zap.String("addressee", d.Addressee))
			return s.deliveryRepo.DeleteByAddressees(ctx, tx, d.OutboxID, []string{d.Addressee})
		}
	}

	// 首次投递压后一小段，让同端点的其他解析结果并入同一批投递
	attemptAt := time.Now().Add(s.opts.DeliverDelay)
	return s.deliveryRepo.SetInbox(ctx, tx, outboxIDs, d.Addressee, inbox, attemptAt)
}

// deliverActivity 对同一 (outbox, inbox) 组执行一次签名投递
func (s *DeliverService) deliverActivity(ctx context.Context, tx *gorm.DB, d *model.Delivery) error {
	inbox := *d.Inbox
	locked, err := s.deliveryRepo.LockByInbox(ctx, tx, d.OutboxID, inbox)
	if err != nil {
		return err
	}
	addressees := make([]string, 0, len(locked))
	found := false
	for _, row := range locked {
		addressees = append(addressees, row.Addressee)
		if row.Addressee == d.Addressee {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: dequeued delivery missing from inbox lock", repository.ErrRowCount)
	}

	out, err := s.outboxRepo.GetByID(ctx, tx, d.OutboxID)
	if err != nil {
		return err
	}
	if out == nil {
		return fmt.Errorf("%w: outbox row %s missing", repository.ErrRowCount, d.OutboxID)
	}
	payload, err := buildDeliveryBody(out)
	if err != nil {
		return err
	}

	status, err := s.post(ctx, inbox, payload)
	if err != nil || status >= http.StatusInternalServerError {
		logger.Warn("delivery attempt failed",
			zap.String("inbox", inbox), zap.Int("status", status), zap.Error(err))
		return s.retryOrDrop(ctx, tx, d, addressees, status)
	}
	if status >= http.StatusBadRequest {
		// 4xx 为永久失败，直接放弃
		logger.Warn("delivery rejected by remote",
			zap.String("inbox", inbox), zap.Int("status", status))
		return s.deliveryRepo.DeleteByAddressees(ctx, tx, d.OutboxID, addressees)
	}

	logger.Debug("delivered", zap.String("outbox", d.OutboxID), zap.String("inbox", inbox), zap.Int("status", status))
	return s.deliveryRepo.DeleteByAddressees(ctx, tx, d.OutboxID, addressees)
}

// post 执行一次签名 POST；网络错误返回 status 0
func (s *DeliverService) post(ctx context.Context, inbox string, payload []byte) (int, error) {
	u, err := url.Parse(inbox)
	if err != nil {
		return 0, err
	}
	hdr := http.Header{}
	hdr.Set("User-Agent", s.opts.Origin+"/")
	hdr.Set("Content-Type", apub.ASMIME)
	hdr.Set("Accept", apub.JSONAccepts)
	if err := httpsig.Sign(s.opts.PublicKeyURL, s.opts.PrivateKey, http.MethodPost, u, payload, hdr); err != nil {
		return 0, err
	}

	req := s.client.R().SetContext(ctx).SetBody(payload)
	for name, values := range hdr {
		req.SetHeader(name, strings.Join(values, ", "))
	}
	resp, err := req.Post(inbox)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

// retryOrDrop 按退避策略整批重排，或在重试耗尽时整批删除
func (s *DeliverService) retryOrDrop(ctx context.Context, tx *gorm.DB, d *model.Delivery, addressees []string, status int) error {
	if !retryable(status) {
		logger.Warn("permanent failure, giving up", zap.String("outbox", d.OutboxID), zap.Int("status", status))
		return s.deliveryRepo.DeleteByAddressees(ctx, tx, d.OutboxID, addressees)
	}
	next := d.AttemptNum + 1
	if next >= s.opts.MaxAttempts {
		logger.Warn("exhausted retries, giving up", zap.String("outbox", d.OutboxID), zap.String("addressee", d.Addressee))
		return s.deliveryRepo.DeleteByAddressees(ctx, tx, d.OutboxID, addressees)
	}
	delay := retryDelay(s.opts.BaseDelay, d.AttemptNum)
	logger.Warn("scheduled retry",
		zap.Int("attempt", next), zap.Duration("delay", delay), zap.String("addressee", d.Addressee))
	return s.deliveryRepo.Reschedule(ctx, tx, d.OutboxID, addressees, time.Now().Add(delay), next)
}

// retryable 无状态码（网络/超时）或 5xx 才重试
func retryable(status int) bool {
	return status == 0 || status >= http.StatusInternalServerError
}

// retryDelay 几何退避：base × 3^attempt
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 3
	}
	return delay
}

// loadStatus 提取文档加载失败的 HTTP 状态码（网络错误为 0）
func loadStatus(err error) int {
	var le *jsonld.LoadError
	if errors.As(err, &le) {
		return le.StatusCode
	}
	return 0
}

func (s *DeliverService) usableInbox(inbox string) bool {
	if inbox == "" {
		return false
	}
	return !s.opts.Production || jsonld.IsPublicURL(inbox)
}

// buildDeliveryBody 把对象内联进活动，沿用对象自身的 @context
func buildDeliveryBody(out *model.Outbox) ([]byte, error) {
	var object, activity map[string]any
	if err := json.Unmarshal([]byte(out.Object), &object); err != nil {
		return nil, fmt.Errorf("unmarshal outbox object: %w", err)
	}
	if err := json.Unmarshal([]byte(out.Activity), &activity); err != nil {
		return nil, fmt.Errorf("unmarshal outbox activity: %w", err)
	}

	body := make(map[string]any, len(activity)+1)
	for k, v := range activity {
		body[k] = v
	}
	// 对象的 context 假定包含 AS 词表，可能还带扩展词表
	body["@context"] = object["@context"]
	embedded := make(map[string]any, len(object))
	for k, v := range object {
		if k == "@context" {
			continue
		}
		embedded[k] = v
	}
	body["object"] = embedded
	return json.Marshal(body)
}
