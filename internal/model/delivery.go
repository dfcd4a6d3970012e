package model

import "time"

// Delivery 投递义务：对象 OutboxID 必须送达 Addressee。
// Inbox 在收件人端点解析前为 NULL；行在成功、不可重试失败或重试耗尽后删除。
type Delivery struct {
	OutboxID   string     `gorm:"primaryKey;type:text;column:outbox_id"`
	Addressee  string     `gorm:"primaryKey;type:text"`
	Inbox      *string    `gorm:"type:text;index:idx_deliveries_inbox"`
	AttemptAt  time.Time  `gorm:"not null;index:idx_deliveries_attempt_at"`
	AttemptNum int        `gorm:"not null;default:0"`
}

func (Delivery) TableName() string { return "deliveries" }
