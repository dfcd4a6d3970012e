package model

import "time"

// Inbox 入站活动去重账本（只写一次，不更新不删除）
type Inbox struct {
	ActivityID string    `gorm:"primaryKey;type:text;column:activity_id"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Inbox) TableName() string { return "inbox" }
