package model

import "time"

// Outbox 本地发布的对象及其包装活动（插入后不可变）
type Outbox struct {
	ID        string    `gorm:"primaryKey;type:text"`
	Object    string    `gorm:"type:json;not null"`
	Activity  string    `gorm:"type:json;not null"`
	// HasPublic 对象是否投递给公开集合，读侧路由只暴露公开对象
	HasPublic bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Outbox) TableName() string { return "outbox" }
