package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/fedrelay/internal/apub"
	"github.com/d60-Lab/fedrelay/internal/model"
	"github.com/d60-Lab/fedrelay/internal/repository"
	"github.com/d60-Lab/fedrelay/pkg/logger"
)

// OutboxService 出站扇出：落地本地发布的对象并为每个收件人创建投递义务
type OutboxService interface {
	// CreateObject 持久化对象及其包装 Create 活动，返回分配的对象 ID
	CreateObject(ctx context.Context, object map[string]any) (string, error)
}

type outboxService struct {
	db           *gorm.DB
	outboxRepo   repository.OutboxRepository
	deliveryRepo repository.DeliveryRepository
	notifier     Notifier
	origin       string
	actorURL     string
}

func NewOutboxService(db *gorm.DB, outboxRepo repository.OutboxRepository, deliveryRepo repository.DeliveryRepository, notifier Notifier, origin, actorURL string) OutboxService {
	return &outboxService{
		db:           db,
		outboxRepo:   outboxRepo,
		deliveryRepo: deliveryRepo,
		notifier:     notifier,
		origin:       origin,
		actorURL:     actorURL,
	}
}

func (s *outboxService) CreateObject(ctx context.Context, object map[string]any) (string, error) {
	id := fmt.Sprintf("%s/objects/%s", s.origin, uuid.New().String())
	object["id"] = id
	if object["@context"] == nil {
		object["@context"] = apub.ASContext
	}

	activity := map[string]any{
		"@context":  apub.ASContext,
		"id":        id + "/activity",
		"type":      "Create",
		"actor":     s.actorURL,
		"object":    id,
		"to":        object["to"],
		"cc":        object["cc"],
		"published": object["published"],
	}

	// 收件人 = to ∪ cc ∪ bcc，去掉自己与公开哨兵
	addressees := make(map[string]struct{})
	hasPublic := false
	for _, field := range []string{"to", "cc", "bcc"} {
		for _, v := range apub.EnsureList(object[field]) {
			addr, ok := v.(string)
			if !ok || addr == "" {
				continue
			}
			if addr == apub.PublicCollection {
				hasPublic = true
				continue
			}
			if addr == s.actorURL {
				continue
			}
			addressees[addr] = struct{}{}
		}
	}

	objectJSON, err := json.Marshal(object)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return "", fmt.Errorf("marshal activity: %w", err)
	}

	now := time.Now()
	createdAt := now
	if published, ok := object["published"].(string); ok {
		if t, err := time.Parse(time.RFC3339, published); err == nil {
			createdAt = t
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &model.Outbox{
			ID:        id,
			Object:    string(objectJSON),
			Activity:  string(activityJSON),
			HasPublic: hasPublic,
			CreatedAt: createdAt,
		}
		if err := s.outboxRepo.Insert(ctx, tx, row); err != nil {
			return err
		}
		for addressee := range addressees {
			d := &model.Delivery{OutboxID: id, Addressee: addressee, AttemptAt: now}
			if err := s.deliveryRepo.Insert(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	// 唤醒空闲投递 worker
	s.notifier.Publish(ctx)
	logger.Debug("object created", zap.String("id", id), zap.Int("addressees", len(addressees)))
	return id, nil
}
