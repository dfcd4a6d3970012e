package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/fedrelay/internal/model"
)

// DeliveryRepository 投递义务队列。所有取行方法使用 FOR UPDATE SKIP LOCKED，
// 保证同一 (outbox, addressee) / (outbox, inbox) 组同时只有一个 worker 处理，
// 互不相关的组并行推进。
type DeliveryRepository interface {
	// Insert 创建一条义务，影响行数必须为 1
	Insert(ctx context.Context, db *gorm.DB, row *model.Delivery) error

	// NextDue 锁定 attempt_at 最早的一行；队列为空返回 nil
	NextDue(ctx context.Context, db *gorm.DB) (*model.Delivery, error)

	// LockUnresolvedByAddressee 锁定该收件人所有尚未解析 inbox 的义务
	LockUnresolvedByAddressee(ctx context.Context, db *gorm.DB, addressee string) ([]model.Delivery, error)

	// LockByInbox 锁定同一对象发往同一 inbox 的全部义务
	LockByInbox(ctx context.Context, db *gorm.DB, outboxID, inbox string) ([]model.Delivery, error)

	// SetInbox 批量写入解析结果并重置尝试计数，影响行数必须等于 len(outboxIDs)
	SetInbox(ctx context.Context, db *gorm.DB, outboxIDs []string, addressee, inbox string, attemptAt time.Time) error

	// Reschedule 批量改写下次尝试时间与计数，影响行数必须等于 len(addressees)
	Reschedule(ctx context.Context, db *gorm.DB, outboxID string, addressees []string, attemptAt time.Time, attemptNum int) error

	// DeleteByAddressees 批量删除义务，影响行数必须等于 len(addressees)
	DeleteByAddressees(ctx context.Context, db *gorm.DB, outboxID string, addressees []string) error
}

type deliveryRepository struct{}

func NewDeliveryRepository() DeliveryRepository { return &deliveryRepository{} }

func (r *deliveryRepository) Insert(ctx context.Context, db *gorm.DB, row *model.Delivery) error {
	return checkRows(db.WithContext(ctx).Create(row), 1)
}

func (r *deliveryRepository) NextDue(ctx context.Context, db *gorm.DB) (*model.Delivery, error) {
	var rows []model.Delivery
	q := db.WithContext(ctx).Order("attempt_at asc").Limit(1)
	if lock := skipLocked(db); lock != nil {
		q = q.Clauses(lock...)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *deliveryRepository) LockUnresolvedByAddressee(ctx context.Context, db *gorm.DB, addressee string) ([]model.Delivery, error) {
	var rows []model.Delivery
	q := db.WithContext(ctx).Where("addressee = ? AND inbox IS NULL", addressee)
	if lock := skipLocked(db); lock != nil {
		q = q.Clauses(lock...)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (r *deliveryRepository) LockByInbox(ctx context.Context, db *gorm.DB, outboxID, inbox string) ([]model.Delivery, error) {
	var rows []model.Delivery
	q := db.WithContext(ctx).Where("outbox_id = ? AND inbox = ?", outboxID, inbox)
	if lock := skipLocked(db); lock != nil {
		q = q.Clauses(lock...)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (r *deliveryRepository) SetInbox(ctx context.Context, db *gorm.DB, outboxIDs []string, addressee, inbox string, attemptAt time.Time) error {
	res := db.WithContext(ctx).Model(&model.Delivery{}).
		Where("outbox_id IN ? AND addressee = ?", outboxIDs, addressee).
		Updates(map[string]any{"inbox": inbox, "attempt_at": attemptAt, "attempt_num": 0})
	return checkRows(res, int64(len(outboxIDs)))
}

func (r *deliveryRepository) Reschedule(ctx context.Context, db *gorm.DB, outboxID string, addressees []string, attemptAt time.Time, attemptNum int) error {
	res := db.WithContext(ctx).Model(&model.Delivery{}).
		Where("outbox_id = ? AND addressee IN ?", outboxID, addressees).
		Updates(map[string]any{"attempt_at": attemptAt, "attempt_num": attemptNum})
	return checkRows(res, int64(len(addressees)))
}

func (r *deliveryRepository) DeleteByAddressees(ctx context.Context, db *gorm.DB, outboxID string, addressees []string) error {
	res := db.WithContext(ctx).
		Where("outbox_id = ? AND addressee IN ?", outboxID, addressees).
		Delete(&model.Delivery{})
	return checkRows(res, int64(len(addressees)))
}
