package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/querysentry/querysentry/internal/database"
	"github.com/querysentry/querysentry/internal/model"
)

// CreateCommand 新建待下发指令
func CreateCommand(cmd *model.CollectorCommand) error {
	return database.GetDB().Create(cmd).Error
}

// GetCommand 按ID查询指令
func GetCommand(id string) (*model.CollectorCommand, error) {
	var cmd model.CollectorCommand
	if err := database.GetDB().First(&cmd, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cmd, nil
}

// PendingCommands 查询可下发积压：未执行且未过期，按创建时间先进先出
// 查询不标记已下发——下发语义为至少一次，由采集端按指令ID去重
func PendingCommands(collectorID string, now time.Time) ([]model.CollectorCommand, error) {
	var out []model.CollectorCommand
	err := database.GetDB().
		Where("collector_id = ? AND executed = ? AND expires_at > ?", collectorID, false, now).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AcknowledgeCommand 条件更新指令为已执行；executed 一经置位不再回退
// 已过期的指令同样不再改写——过期与执行是相互独立的终止条件
// 返回是否实际发生了状态翻转（false 表示早已终止，属良性竞态）
func AcknowledgeCommand(id string, result string, now time.Time) (bool, error) {
	var flipped bool
	err := database.WithRetry(func(db *gorm.DB) error {
		res := db.Model(&model.CollectorCommand{}).
			Where("id = ? AND executed = ? AND expires_at > ?", id, false, now).
			Updates(map[string]interface{}{
				"executed":    true,
				"executed_at": now,
				"result":      result,
			})
		flipped = res.RowsAffected > 0
		return res.Error
	}, 3, 50*time.Millisecond)
	return flipped, err
}

// ExpiredCommands 查询在 (since, now] 窗口内过期且从未执行的指令
// 仅供巡检输出观测信号；记录本身保留用于审计
func ExpiredCommands(since, now time.Time) ([]model.CollectorCommand, error) {
	var out []model.CollectorCommand
	err := database.GetDB().
		Where("executed = ? AND expires_at <= ? AND expires_at > ?", false, now, since).
		Order("expires_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
