package model

import (
	"time"
)

// CollectorStatus 采集器状态枚举
const (
	CollectorStatusStarting = "starting"
	CollectorStatusOnline   = "online"
	CollectorStatusOffline  = "offline"
	CollectorStatusStopped  = "stopped"
	CollectorStatusError    = "error"
)

// CollectorType 被监控数据库类型枚举
const (
	CollectorTypeMySQL    = "mysql"
	CollectorTypePostgres = "postgres"
)

// Collector 采集器信息
type Collector struct {
	ID             string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	OrganizationID string `json:"organization_id" gorm:"type:varchar(64);not null;index"`
	TeamID         string `json:"team_id" gorm:"type:varchar(64);index"`
	Name           string `json:"name" gorm:"type:varchar(128);not null"`
	Type           string `json:"type" gorm:"type:varchar(16);not null"`

	// APIKeyHash 接入密钥的盐化哈希；明文仅在注册/重置时返回一次
	APIKeyHash string `json:"-" gorm:"type:varchar(128);not null"`

	Status         string     `json:"status" gorm:"type:varchar(16);not null;default:'starting'"`
	LastHeartbeat  *time.Time `json:"last_heartbeat"`
	LastCollection *time.Time `json:"last_collection"`
	LastError      string     `json:"last_error" gorm:"type:text"`

	AutoCollect               bool `json:"auto_collect" gorm:"not null;default:true"`
	CollectionIntervalMinutes int  `json:"collection_interval_minutes" gorm:"not null;default:5"`

	// 以下统计由采集端以累计值整体覆盖，服务端不做增量计算
	QueriesCollected int64 `json:"queries_collected" gorm:"not null;default:0"`
	ErrorsCount      int64 `json:"errors_count" gorm:"not null;default:0"`
	UptimeSeconds    int64 `json:"uptime_seconds" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Collector) TableName() string {
	return "collectors"
}

// IsOnline 判定采集器是否在线
func (c *Collector) IsOnline() bool {
	return c.Status == CollectorStatusOnline
}

// HeartbeatStats 心跳携带的累计统计
type HeartbeatStats struct {
	QueriesCollected int64 `json:"queries_collected"`
	ErrorsCount      int64 `json:"errors_count"`
	UptimeSeconds    int64 `json:"uptime_seconds"`
}
