package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/fedrelay/internal/model"
)

// OutboxRepository 本地发布对象的存取
type OutboxRepository interface {
	// Insert 插入对象+活动，影响行数必须为 1
	Insert(ctx context.Context, db *gorm.DB, row *model.Outbox) error

	// GetByID 按 ID 取对象，不存在返回 nil
	GetByID(ctx context.Context, db *gorm.DB, id string) (*model.Outbox, error)
}

type outboxRepository struct{}

func NewOutboxRepository() OutboxRepository { return &outboxRepository{} }

func (r *outboxRepository) Insert(ctx context.Context, db *gorm.DB, row *model.Outbox) error {
	return checkRows(db.WithContext(ctx).Create(row), 1)
}

func (r *outboxRepository) GetByID(ctx context.Context, db *gorm.DB, id string) (*model.Outbox, error) {
	var row model.Outbox
	err := db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
