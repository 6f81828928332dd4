package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandType 远程指令类型
type CommandType string

// 指令类型枚举；除 update_config 外 payload 为空
const (
	CommandStart        CommandType = "start"
	CommandStop         CommandType = "stop"
	CommandCollect      CommandType = "collect"
	CommandUpdateConfig CommandType = "update_config"
)

// ParseCommandType 解析指令类型字符串
func ParseCommandType(s string) (CommandType, error) {
	switch CommandType(s) {
	case CommandStart, CommandStop, CommandCollect, CommandUpdateConfig:
		return CommandType(s), nil
	default:
		return "", fmt.Errorf("unknown command type: %s", s)
	}
}

// CollectorCommand 下发给采集器的异步指令
type CollectorCommand struct {
	ID          string      `json:"id" gorm:"primaryKey;type:varchar(64)"`
	CollectorID string      `json:"collector_id" gorm:"type:varchar(64);not null;index"`
	Command     CommandType `json:"command" gorm:"type:varchar(32);not null"`
	// Payload 不透明JSON；仅 update_config 使用
	Payload string `json:"payload" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
	// ExpiresAt 创建时间 + 固定TTL；到期后不再下发
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`

	// Executed 单调 false→true；与过期互为独立的终止条件
	Executed   bool       `json:"executed" gorm:"not null;default:false"`
	ExecutedAt *time.Time `json:"executed_at"`
	// Result 执行结果JSON（success + details）
	Result string `json:"result" gorm:"type:text"`
}

// TableName 表名
func (CollectorCommand) TableName() string {
	return "collector_commands"
}

// IsExpired 是否已过有效期
func (c *CollectorCommand) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// CommandResult 指令执行结果
type CommandResult struct {
	Success bool                   `json:"success"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Encode 序列化为JSON文本
func (r CommandResult) Encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false}`
	}
	return string(data)
}
