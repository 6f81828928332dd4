package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/querysentry/querysentry/internal/database"
	"github.com/querysentry/querysentry/internal/model"
)

// CreateCollector 新建采集器记录
func CreateCollector(c *model.Collector) error {
	return database.GetDB().Create(c).Error
}

// GetCollector 按ID查询采集器
func GetCollector(id string) (*model.Collector, error) {
	var c model.Collector
	if err := database.GetDB().First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCollectors 查询采集器列表；orgID 为空时返回全部
func ListCollectors(orgID string) ([]model.Collector, error) {
	var out []model.Collector
	q := database.GetDB().Order("created_at ASC")
	if orgID != "" {
		q = q.Where("organization_id = ?", orgID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateHeartbeat 心跳落库：覆盖统计、刷新心跳时间、按需切换在线状态
// 状态仅在 starting/offline 时切换为 online，stopped 采集器可继续心跳但状态不变
func UpdateHeartbeat(id string, now time.Time, stats model.HeartbeatStats, lastError string) error {
	updates := map[string]interface{}{
		"last_heartbeat":    now,
		"queries_collected": stats.QueriesCollected,
		"errors_count":      stats.ErrorsCount,
		"uptime_seconds":    stats.UptimeSeconds,
		"status": gorm.Expr(
			"CASE WHEN status IN (?, ?) THEN ? ELSE status END",
			model.CollectorStatusStarting, model.CollectorStatusOffline, model.CollectorStatusOnline,
		),
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	return database.WithRetry(func(db *gorm.DB) error {
		return db.Model(&model.Collector{}).Where("id = ?", id).Updates(updates).Error
	}, 3, 50*time.Millisecond)
}

// MarkStaleOffline 将心跳静默超过阈值的采集器置为离线
// WHERE 条件在写入时重新校验静默判据，与并发到达的心跳写入互不覆盖；
// 从未上报心跳的采集器按创建时间计龄。stopped/offline 不参与判定
func MarkStaleOffline(cutoff time.Time) (int64, error) {
	var affected int64
	err := database.WithRetry(func(db *gorm.DB) error {
		res := db.Model(&model.Collector{}).
			Where("status NOT IN (?, ?)", model.CollectorStatusOffline, model.CollectorStatusStopped).
			Where("(last_heartbeat IS NOT NULL AND last_heartbeat < ?) OR (last_heartbeat IS NULL AND created_at < ?)", cutoff, cutoff).
			Update("status", model.CollectorStatusOffline)
		affected = res.RowsAffected
		return res.Error
	}, 3, 50*time.Millisecond)
	return affected, err
}

// SetCollectorStatus 设置采集器状态
func SetCollectorStatus(id, status string) error {
	return database.WithRetry(func(db *gorm.DB) error {
		return db.Model(&model.Collector{}).Where("id = ?", id).Update("status", status).Error
	}, 3, 50*time.Millisecond)
}

// SetAutoCollect 设置采集开关
func SetAutoCollect(id string, enabled bool) error {
	return database.GetDB().Model(&model.Collector{}).Where("id = ?", id).
		Update("auto_collect", enabled).Error
}

// ResetAPIKey 重置接入密钥哈希，并清空缓存的在线判定
func ResetAPIKey(id, hash string) error {
	return database.GetDB().Model(&model.Collector{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"api_key_hash":   hash,
			"status":         model.CollectorStatusStarting,
			"last_heartbeat": nil,
		}).Error
}

// DeleteCollector 删除采集器并级联清理其指令
func DeleteCollector(id string) error {
	return database.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collector_id = ?", id).Delete(&model.CollectorCommand{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Collector{}, "id = ?", id).Error
	})
}
