package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/fedrelay/internal/model"
)

// InboxRepository 入站活动去重账本。
// 数据库句柄由调用方显式传入，以便参与调用方的事务。
type InboxRepository interface {
	// TryInsert 条件插入去重标记；返回 false 表示该活动 ID 已经见过
	TryInsert(ctx context.Context, db *gorm.DB, activityID string, now time.Time) (bool, error)
}

type inboxRepository struct{}

func NewInboxRepository() InboxRepository { return &inboxRepository{} }

func (r *inboxRepository) TryInsert(ctx context.Context, db *gorm.DB, activityID string, now time.Time) (bool, error) {
	rec := &model.Inbox{ActivityID: activityID, CreatedAt: now}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
